package execqueue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_GetSet(t *testing.T) {
	cache := NewDedupCache(time.Minute)
	defer cache.Stop()

	_, found := cache.Get("req-1")
	assert.False(t, found)

	cache.Set("req-1", CachedResult{Value: "done"})

	result, found := cache.Get("req-1")
	assert.True(t, found)
	assert.Equal(t, "done", result.Value)
	assert.NoError(t, result.Err)
}

func TestDedupCache_CachesErrors(t *testing.T) {
	cache := NewDedupCache(time.Minute)
	defer cache.Stop()

	cache.Set("req-err", CachedResult{Err: errors.New("host mismatch")})

	result, found := cache.Get("req-err")
	assert.True(t, found)
	assert.EqualError(t, result.Err, "host mismatch")
}

func TestDedupCache_Expiry(t *testing.T) {
	cache := NewDedupCache(20 * time.Millisecond)
	defer cache.Stop()

	cache.Set("req-1", CachedResult{Value: "done"})
	time.Sleep(40 * time.Millisecond)

	_, found := cache.Get("req-1")
	assert.False(t, found)
}

func TestDedupCache_IgnoresEmptyRequestID(t *testing.T) {
	cache := NewDedupCache(time.Minute)
	defer cache.Stop()

	cache.Set("", CachedResult{Value: "done"})
	assert.Equal(t, 0, cache.Size())
}

func TestDedupCache_Clear(t *testing.T) {
	cache := NewDedupCache(time.Minute)
	defer cache.Stop()

	cache.Set("req-1", CachedResult{Value: "a"})
	cache.Set("req-2", CachedResult{Value: "b"})
	assert.Equal(t, 2, cache.Size())

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}
