package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Observer receives cache lookup outcomes, typically for metrics.
type Observer interface {
	ObserveCacheLookup(cache string, hit bool)
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Backend     string  `json:"backend"`
	CachedItems int     `json:"cached_items"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Errors      int64   `json:"errors"`
	TTLSeconds  float64 `json:"ttl_seconds"`
}

// Cache maps keys to JSON-encoded values for a fixed TTL. Values go to the
// primary store when one is configured; primary failures are logged, counted
// and served from the in-process store instead. A Cache never fails a caller:
// any problem reads as a miss.
type Cache struct {
	name     string
	prefix   string
	ttl      time.Duration
	primary  Store
	memory   *MemoryStore
	logger   *zap.Logger
	observer Observer

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrimary sets the preferred backing store.
func WithPrimary(s Store) Option {
	return func(c *Cache) { c.primary = s }
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithLogger sets the logger used for degraded-store warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithObserver reports lookups to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// WithMemoryStore replaces the in-process fallback.
func WithMemoryStore(m *MemoryStore) Option {
	return func(c *Cache) { c.memory = m }
}

// New creates a cache named name whose entries live for ttl.
func New(name string, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{name: name, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	if c.memory == nil {
		c.memory = NewMemoryStore(DefaultCapacity)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get decodes the live value for key into dst and reports whether it was found.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	raw, ok := c.lookup(ctx, c.prefix+key)
	if ok {
		if err := json.Unmarshal(raw, dst); err != nil {
			c.logger.Warn("Discarding undecodable cache entry",
				zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
			ok = false
		}
	}

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observer != nil {
		c.observer.ObserveCacheLookup(c.name, ok)
	}
	return ok
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	if c.primary != nil {
		raw, ok, err := c.primary.Get(ctx, key)
		if err == nil {
			return raw, ok
		}
		c.errors.Add(1)
		c.logger.Warn("Cache store unavailable, using memory fallback",
			zap.String("cache", c.name), zap.String("store", c.primary.Name()), zap.Error(err))
	}
	raw, ok, _ := c.memory.Get(ctx, key)
	return raw, ok
}

// Set stores value under key for the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Value not cacheable", zap.String("cache", c.name), zap.Error(err))
		return
	}

	key = c.prefix + key
	if c.primary != nil {
		err := c.primary.Set(ctx, key, raw, c.ttl)
		if err == nil {
			return
		}
		c.errors.Add(1)
		c.logger.Warn("Cache store write failed, using memory fallback",
			zap.String("cache", c.name), zap.String("store", c.primary.Name()), zap.Error(err))
	}
	c.memory.Set(ctx, key, raw, c.ttl)
}

// Stats reports counters and the number of live entries.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{
		Backend:    c.memory.Name(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		TTLSeconds: c.ttl.Seconds(),
	}

	items, _ := c.memory.Len(ctx, c.prefix)
	if c.primary != nil {
		s.Backend = c.primary.Name()
		if n, err := c.primary.Len(ctx, c.prefix); err == nil {
			items = n
		} else {
			c.errors.Add(1)
		}
	}
	s.CachedItems = items
	s.Errors = c.errors.Load()
	return s
}
