package llm

import (
	"sync"
	"time"

	"github.com/Veraticus/ruleflow/internal/model"
)

type cacheEntry struct {
	expiry   time.Time
	response model.ClassifyResponse
}

// responseCache holds Classify answers keyed by record fingerprint and
// vocabulary. Expired entries are dropped lazily and by a background sweep.
type responseCache struct {
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

func newResponseCache(ttl time.Duration) *responseCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	c := &responseCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.sweep(min(ttl, 5*time.Minute))
	return c
}

func (c *responseCache) get(key string) (model.ClassifyResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiry) {
		return model.ClassifyResponse{}, false
	}
	return entry.response, true
}

func (c *responseCache) set(key string, resp model.ClassifyResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{response: resp, expiry: time.Now().Add(c.ttl)}
}

func (c *responseCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *responseCache) evictExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
		}
	}
}

func (c *responseCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// close stops the sweeper. It is safe to call more than once.
func (c *responseCache) close() {
	c.once.Do(func() { close(c.stopCh) })
}
