package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.lock")

	l, err := Acquire(path)
	assert.NoError(t, err)

	// Second acquisition must fail fast while held.
	_, err = Acquire(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "another instance")

	assert.NoError(t, l.Release())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Re-acquirable after release.
	l2, err := Acquire(path)
	assert.NoError(t, err)
	assert.NoError(t, l2.Release())
}

func TestAcquireCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "trader.lock")

	l, err := Acquire(path)
	assert.NoError(t, err)
	assert.NoError(t, l.Release())
}
