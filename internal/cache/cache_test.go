package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type report struct {
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// failingStore returns err from every operation.
type failingStore struct{ err error }

func (f failingStore) Name() string { return "broken" }
func (f failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.err
}
func (f failingStore) Set(context.Context, string, []byte, time.Duration) error { return f.err }
func (f failingStore) Len(context.Context, string) (int, error)                { return 0, f.err }

type recordingObserver struct {
	mu      sync.Mutex
	lookups []bool
}

func (r *recordingObserver) ObserveCacheLookup(_ string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, hit)
}

// =============================================================================
// MemoryStore Tests
// =============================================================================

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryStore(10)
	m.SetClock(clock.Now)
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Hour)

	clock.Advance(59 * time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("entry should be live before the TTL elapses")
	}

	clock.Advance(time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("entry should be absent once now - timestamp reaches the TTL")
	}
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemoryStore(2)
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), time.Hour)
	m.Set(ctx, "b", []byte("2"), time.Hour)
	m.Get(ctx, "a")
	m.Set(ctx, "c", []byte("3"), time.Hour)

	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Error("least recently used entry should have been evicted")
	}
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Error("recently used entry should survive")
	}
}

func TestMemoryStore_LenCountsLivePrefixedKeys(t *testing.T) {
	clock := newFakeClock()
	m := NewMemoryStore(10)
	m.SetClock(clock.Now)
	ctx := context.Background()

	m.Set(ctx, "url:a", []byte("1"), time.Hour)
	m.Set(ctx, "url:b", []byte("1"), time.Minute)
	m.Set(ctx, "net:a", []byte("1"), time.Hour)

	clock.Advance(2 * time.Minute)

	n, err := m.Len(ctx, "url:")
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 live url entry, got %d", n)
	}
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestCache_IdempotentWithinTTL(t *testing.T) {
	clock := newFakeClock()
	mem := NewMemoryStore(10)
	mem.SetClock(clock.Now)
	c := New("url_reports", time.Hour, WithMemoryStore(mem), WithPrefix("fraud_url_v1:"))
	ctx := context.Background()

	var got report
	if c.Get(ctx, "https://example.com", &got) {
		t.Fatal("empty cache should miss")
	}

	want := report{URL: "https://example.com", Score: 42}
	c.Set(ctx, "https://example.com", want)

	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Minute)
		got = report{}
		if !c.Get(ctx, "https://example.com", &got) {
			t.Fatalf("lookup %d should hit within the TTL", i)
		}
		if got != want {
			t.Errorf("lookup %d = %+v, want %+v", i, got, want)
		}
	}

	clock.Advance(time.Hour)
	if c.Get(ctx, "https://example.com", &got) {
		t.Error("entry should expire after the TTL")
	}

	stats := c.Stats(ctx)
	if stats.Hits != 3 || stats.Misses != 2 {
		t.Errorf("expected 3 hits / 2 misses, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", stats.Backend)
	}
}

func TestCache_OverwriteAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	mem := NewMemoryStore(10)
	mem.SetClock(clock.Now)
	c := New("network", 30*time.Minute, WithMemoryStore(mem))
	ctx := context.Background()

	c.Set(ctx, "noip", report{Score: 1})
	clock.Advance(31 * time.Minute)
	c.Set(ctx, "noip", report{Score: 2})

	var got report
	if !c.Get(ctx, "noip", &got) || got.Score != 2 {
		t.Errorf("expected recomputed value 2, got %+v", got)
	}
}

func TestCache_PrimaryFailureFallsBackToMemory(t *testing.T) {
	c := New("url_reports", time.Hour, WithPrimary(failingStore{err: errors.New("connection refused")}))
	ctx := context.Background()

	c.Set(ctx, "k", report{Score: 7})

	var got report
	if !c.Get(ctx, "k", &got) {
		t.Fatal("value written during a primary outage should be served from memory")
	}
	if got.Score != 7 {
		t.Errorf("unexpected value %+v", got)
	}

	stats := c.Stats(ctx)
	if stats.Errors < 2 {
		t.Errorf("expected primary errors to be counted, got %d", stats.Errors)
	}
	if stats.Backend != "broken" {
		t.Errorf("expected primary backend name, got %q", stats.Backend)
	}
	if stats.CachedItems != 1 {
		t.Errorf("expected memory item count when primary is down, got %d", stats.CachedItems)
	}
}

func TestCache_UnreachableRedisIsAMiss(t *testing.T) {
	client, err := NewRedisClient("redis://127.0.0.1:1/0", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()

	c := New("network", time.Minute, WithPrimary(NewRedisStore(client)))
	ctx := context.Background()

	var got report
	if c.Get(ctx, "noip", &got) {
		t.Fatal("unreachable redis with empty fallback should miss")
	}

	c.Set(ctx, "noip", report{Score: 3})
	if !c.Get(ctx, "noip", &got) || got.Score != 3 {
		t.Errorf("expected fallback hit, got %+v", got)
	}
}

func TestCache_UndecodableEntryIsAMiss(t *testing.T) {
	mem := NewMemoryStore(10)
	c := New("url_reports", time.Hour, WithMemoryStore(mem))
	ctx := context.Background()

	mem.Set(ctx, "k", []byte("{not json"), time.Hour)

	var got report
	if c.Get(ctx, "k", &got) {
		t.Error("corrupt entry should read as a miss")
	}
}

func TestCache_ReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	c := New("url_reports", time.Hour, WithObserver(obs))
	ctx := context.Background()

	var got report
	c.Get(ctx, "k", &got)
	c.Set(ctx, "k", report{})
	c.Get(ctx, "k", &got)

	if len(obs.lookups) != 2 || obs.lookups[0] || !obs.lookups[1] {
		t.Errorf("expected [miss hit], got %v", obs.lookups)
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	if _, err := NewRedisClient("not-a-url", 0); err == nil {
		t.Error("expected error for invalid redis url")
	}
}
