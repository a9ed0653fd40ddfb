package execqueue

import (
	"context"
	"sync"
	"time"
)

// CachedResult is a settled outcome kept for request retries.
type CachedResult struct {
	Value interface{}
	Err   error
}

type dedupEntry struct {
	result    CachedResult
	timestamp time.Time
}

// DedupCache remembers results by request id so retried requests replay the
// original outcome instead of executing twice.
type DedupCache struct {
	entries map[string]*dedupEntry
	ttl     time.Duration
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDedupCache creates a cache. A non-positive ttl defaults to 5 minutes.
func NewDedupCache(ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	cache := &DedupCache{
		entries: make(map[string]*dedupEntry),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
	}

	go cache.cleanup()

	return cache
}

// Stop ends the background cleanup.
func (dc *DedupCache) Stop() {
	dc.cancel()
}

// Get retrieves a cached result if it exists and is not expired
func (dc *DedupCache) Get(requestID string) (CachedResult, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entry, exists := dc.entries[requestID]
	if !exists {
		return CachedResult{}, false
	}

	if time.Since(entry.timestamp) > dc.ttl {
		return CachedResult{}, false
	}

	return entry.result, true
}

// Set stores a result in the cache
func (dc *DedupCache) Set(requestID string, result CachedResult) {
	if requestID == "" {
		return
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.entries[requestID] = &dedupEntry{
		result:    result,
		timestamp: time.Now(),
	}
}

// cleanup periodically removes expired entries
func (dc *DedupCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-dc.ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for requestID, entry := range dc.entries {
				if now.Sub(entry.timestamp) > dc.ttl {
					delete(dc.entries, requestID)
				}
			}
			dc.mu.Unlock()
		}
	}
}

// Size returns the number of entries in the cache
func (dc *DedupCache) Size() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.entries)
}

// Clear removes all entries from the cache
func (dc *DedupCache) Clear() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries = make(map[string]*dedupEntry)
}
