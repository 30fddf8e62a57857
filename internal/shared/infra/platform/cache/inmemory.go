package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type cacheItem struct {
	value     []byte // serializado, igual que en Redis
	expiresAt time.Time
}

// InMemoryCache es la caché de proceso usada cuando no hay Redis.
type InMemoryCache struct {
	store      map[string]cacheItem
	mu         sync.RWMutex
	defaultTTL time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
	now        func() time.Time
}

var _ Cache = (*InMemoryCache)(nil)

// NewInMemoryCache arranca una goroutine que purga claves expiradas cada cleanupInterval.
func NewInMemoryCache(defaultTTL, cleanupInterval time.Duration) *InMemoryCache {
	c := &InMemoryCache{
		store:      make(map[string]cacheItem),
		defaultTTL: defaultTTL,
		stopChan:   make(chan struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
	go c.cleanupLoop(cleanupInterval)
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.RLock()
	item, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(item.expiresAt) {
		return false, nil
	}
	if err := json.Unmarshal(item.value, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, val interface{}, ttlSecs int) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}

	ttl := c.defaultTTL
	if ttlSecs > 0 {
		ttl = time.Duration(ttlSecs) * time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = cacheItem{value: data, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

// Stop detiene la purga. Es seguro llamarlo más de una vez.
func (c *InMemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopChan:
			return
		}
	}
}

func (c *InMemoryCache) purgeExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, item := range c.store {
		if !now.Before(item.expiresAt) {
			delete(c.store, key)
		}
	}
}
