package cache

import (
	"context"
	"sync"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/sirupsen/logrus"
)

// Service defines cache operations
type Service interface {
	Get(ctx context.Context, key Key) (string, bool)
	Set(ctx context.Context, key Key, text string) error
	// Epoch changes on every Clear.
	Epoch() uint64
	// SetAt stores text only if no Clear happened since epoch was read.
	SetAt(ctx context.Context, key Key, text string, epoch uint64) (bool, error)
	Clear(ctx context.Context) error
	Stats() models.CacheStats
}

// Cache is the process-local LRU, optionally mirrored to redis so replicas
// share replies.
type Cache struct {
	lru    *LRU
	mirror *redisMirror
	logger *logrus.Logger

	// mu orders writes against Clear so a stale reply cannot land after it.
	mu    sync.Mutex
	epoch uint64
}

// NewCache creates a new cache service. An unreachable redis is logged and
// the cache runs LRU-only.
func NewCache(cfg *config.CacheConfig, logger *logrus.Logger) *Cache {
	c := &Cache{
		lru:    NewLRU(cfg.MaxSize),
		logger: logger,
	}

	if cfg.Redis.Enabled {
		mirror, err := newRedisMirror(&cfg.Redis, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis cache mirror unavailable, using in-process cache only")
		} else {
			c.mirror = mirror
		}
	}

	logger.WithFields(logrus.Fields{
		"maxSize": c.lru.maxSize,
		"redis":   c.mirror != nil,
	}).Info("Response cache initialized")
	return c
}

// Get retrieves a cached reply
func (c *Cache) Get(ctx context.Context, key Key) (string, bool) {
	if text, ok := c.lru.Get(key); ok {
		c.logger.WithFields(logrus.Fields{
			"persona": key.Persona,
			"source":  "lru",
		}).Debug("Cache hit")
		return text, true
	}
	if c.mirror == nil {
		return "", false
	}

	epoch := c.Epoch()
	text, ok, err := c.mirror.get(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Redis cache lookup failed")
		return "", false
	}
	if !ok {
		return "", false
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.lru.Put(key, text)
	}
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{
		"persona": key.Persona,
		"source":  "redis",
	}).Debug("Cache hit")
	return text, true
}

// Set stores a reply. Empty text is a no-op.
func (c *Cache) Set(ctx context.Context, key Key, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(ctx, key, text)
	return nil
}

// Epoch returns the current clear generation.
func (c *Cache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// SetAt stores a reply produced since epoch was read. It reports false and
// stores nothing when the cache was cleared in between.
func (c *Cache) SetAt(ctx context.Context, key Key, text string, epoch uint64) (bool, error) {
	if text == "" {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.logger.WithFields(logrus.Fields{
			"persona": key.Persona,
			"epoch":   epoch,
			"current": c.epoch,
		}).Debug("Cache cleared during generation, reply dropped")
		return false, nil
	}
	c.store(ctx, key, text)
	return true, nil
}

// store writes through to the mirror. Callers hold mu.
func (c *Cache) store(ctx context.Context, key Key, text string) {
	if text == "" {
		return
	}
	c.lru.Put(key, text)
	c.logger.WithField("persona", key.Persona).Debug("Response cached")

	if c.mirror != nil {
		if err := c.mirror.set(ctx, key, text); err != nil {
			c.logger.WithError(err).Warn("Redis cache write failed")
		}
	}
}

// Clear removes all cached entries
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.lru.Clear()
	if c.mirror != nil {
		if err := c.mirror.clear(ctx); err != nil {
			c.logger.WithError(err).Warn("Redis cache clear failed")
		}
	}
	c.logger.Info("Cache cleared")
	return nil
}

// Stats reports LRU usage.
func (c *Cache) Stats() models.CacheStats {
	return c.lru.Stats()
}

// Close releases the redis connection, if any.
func (c *Cache) Close() error {
	if c.mirror == nil {
		return nil
	}
	return c.mirror.client.Close()
}
