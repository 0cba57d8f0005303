package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := NewTTL[string, float64](60*time.Second, clock)

	_, ok := c.Get("BTCUSDC")
	assert.False(t, ok, "empty cache should miss")

	c.Set("BTCUSDC", 42.5)

	v, ok := c.Get("BTCUSDC")
	assert.True(t, ok)
	assert.Equal(t, 42.5, v)

	// Still valid at the boundary.
	now = now.Add(60 * time.Second)
	_, ok = c.Get("BTCUSDC")
	assert.True(t, ok)

	// Expired one tick past the TTL.
	now = now.Add(time.Nanosecond)
	_, ok = c.Get("BTCUSDC")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be evicted on read")
}

func TestTTLSetRefreshesExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := NewTTL[string, int](time.Minute, clock)
	c.Set("k", 1)

	now = now.Add(59 * time.Second)
	c.Set("k", 2)

	now = now.Add(59 * time.Second)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
