package indicator

import (
	"fmt"
	"time"

	"rsi-trade-bot/internal/cache"
)

// DefaultCacheTTL bounds how often the underlying source is queried per
// (symbol, period, timeframe) key.
const DefaultCacheTTL = 60 * time.Second

// Cached wraps a Source with a short-TTL cache so repeated evaluations
// within one burst of cycles do not re-query the indicator source.
type Cached struct {
	source Source
	values *cache.TTL[string, float64]
}

var _ Source = (*Cached)(nil)

// NewCached wraps source with a TTL cache. A nil clock defaults to the wall
// clock.
func NewCached(source Source, ttl time.Duration, now func() time.Time) *Cached {
	return &Cached{
		source: source,
		values: cache.NewTTL[string, float64](ttl, now),
	}
}

// RSI returns the cached value when fresh, otherwise delegates and caches.
func (c *Cached) RSI(symbol string, period int, timeframe string) (float64, error) {
	key := fmt.Sprintf("%s_%d_%s", symbol, period, timeframe)
	if v, ok := c.values.Get(key); ok {
		return v, nil
	}

	v, err := c.source.RSI(symbol, period, timeframe)
	if err != nil {
		return 0, err
	}
	c.values.Set(key, v)
	return v, nil
}
