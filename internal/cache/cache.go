package cache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Metrics receives hit/miss notifications
type Metrics interface {
	IncrementCacheHit()
	IncrementCacheMiss()
}

// CacheItem represents a cached item with expiration
type CacheItem struct {
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired checks if the cache item has expired
func (c *CacheItem) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// Cache provides thread-safe caching with TTL
type Cache struct {
	mu      sync.RWMutex
	items   map[string]*CacheItem
	ttl     time.Duration
	metrics Metrics
	stop    chan struct{}
	once    sync.Once
}

// NewCache creates a new cache with the specified TTL
func NewCache(ttl time.Duration) *Cache {
	cache := &Cache{
		items: make(map[string]*CacheItem),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}

	go cache.cleanup(5 * time.Minute)

	return cache
}

// WithMetrics attaches a hit/miss sink
func (c *Cache) WithMetrics(m Metrics) *Cache {
	c.metrics = m
	return c
}

// cleanup removes expired items periodically
func (c *Cache) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for key, item := range c.items {
				if item.IsExpired() {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Get retrieves an item from the cache
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()

	if !exists || item.IsExpired() {
		if exists {
			c.Delete(key)
		}
		if c.metrics != nil {
			c.metrics.IncrementCacheMiss()
		}
		return nil, false
	}

	if c.metrics != nil {
		c.metrics.IncrementCacheHit()
	}
	return item.Data, true
}

// Set stores an item in the cache
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &CacheItem{
		Data:      data,
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

// GetJSON decodes a cached JSON value into out
func (c *Cache) GetJSON(key string, out interface{}) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// SetJSON stores v encoded as JSON
func (c *Cache) SetJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(key, data)
	return nil
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// DeletePrefix removes every item whose key starts with prefix and returns how many were removed
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalItems := len(c.items)
	expiredItems := 0
	for _, item := range c.items {
		if item.IsExpired() {
			expiredItems++
		}
	}

	return map[string]interface{}{
		"total_items":   totalItems,
		"expired_items": expiredItems,
		"active_items":  totalItems - expiredItems,
		"ttl_seconds":   c.ttl.Seconds(),
	}
}
