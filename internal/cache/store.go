// Package cache provides TTL caches for probe results backed by Redis with an
// in-process LRU fallback.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Store is a byte-oriented key/value backend with per-write expiry.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Len counts live keys starting with prefix.
	Len(ctx context.Context, prefix string) (int, error)
}

// =============================================================================
// Memory
// =============================================================================

// DefaultCapacity bounds a MemoryStore created without an explicit size.
const DefaultCapacity = 10000

type memoryEntry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// MemoryStore is a bounded LRU with client-side expiry. An entry is live while
// now - storedAt < ttl. Expired entries are dropped on read.
type MemoryStore struct {
	entries *lru.Cache[string, memoryEntry]

	mu  sync.RWMutex
	now func() time.Time
}

// NewMemoryStore creates a store holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, _ := lru.New[string, memoryEntry](capacity)
	return &MemoryStore{entries: entries, now: time.Now}
}

// SetClock replaces the time source used for expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) clock() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now()
}

// Name returns the backend identifier.
func (m *MemoryStore) Name() string { return "memory" }

// Get returns the live value for key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if m.clock().Sub(e.storedAt) >= e.ttl {
		m.entries.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value, replacing any previous entry.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries.Add(key, memoryEntry{value: value, storedAt: m.clock(), ttl: ttl})
	return nil
}

// Len counts live entries with the given key prefix.
func (m *MemoryStore) Len(_ context.Context, prefix string) (int, error) {
	now := m.clock()
	n := 0
	for _, key := range m.entries.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e, ok := m.entries.Peek(key); ok && now.Sub(e.storedAt) < e.ttl {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Redis
// =============================================================================

// RedisStore keeps values in Redis with server-side expiry (SET ... EX).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient builds a client from a redis:// or rediss:// URL.
func NewRedisClient(url string, dialTimeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if dialTimeout > 0 {
		opts.DialTimeout = dialTimeout
		opts.ReadTimeout = dialTimeout
		opts.WriteTimeout = dialTimeout
	}
	return redis.NewClient(opts), nil
}

// Name returns the backend identifier.
func (r *RedisStore) Name() string { return "redis" }

// Get returns the value for key. A missing key is not an error.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes value with the given expiry.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Len counts keys matching prefix with SCAN.
func (r *RedisStore) Len(ctx context.Context, prefix string) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
