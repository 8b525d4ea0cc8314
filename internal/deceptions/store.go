package deceptions

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// ErrNotFound is returned when no event has the requested id.
var ErrNotFound = errors.New("deception event not found")

// MaxMemoryEvents caps the in-process event log.
const MaxMemoryEvents = 200

// Store persists deception events.
type Store interface {
	Name() string
	Insert(ctx context.Context, e Event) error
	ListPublished(ctx context.Context, limit, skip int) ([]Event, error)
	Get(ctx context.Context, id string) (Event, error)
}

// =============================================================================
// Memory
// =============================================================================

// MemoryStore keeps the most recent events in insertion order, newest first.
// Inserting beyond capacity drops the oldest event.
type MemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewMemoryStore creates a store holding at most capacity events.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = MaxMemoryEvents
	}
	return &MemoryStore{capacity: capacity}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Insert(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append([]Event{e}, m.events...)
	if len(m.events) > m.capacity {
		m.events = m.events[:m.capacity]
	}
	return nil
}

func (m *MemoryStore) ListPublished(_ context.Context, limit, skip int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Event{}
	seen := 0
	for _, e := range m.events {
		if e.Status != StatusPublished {
			continue
		}
		if seen++; seen <= skip {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.events {
		if e.ID == id {
			return e, nil
		}
	}
	return Event{}, ErrNotFound
}

// Len returns the number of stored events.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// =============================================================================
// PostgreSQL
// =============================================================================

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore keeps events as JSONB documents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect opens and verifies a connection pool.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a store over pool. The schema is managed by Migrate.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Name() string { return "postgres" }

func (p *PostgresStore) Insert(ctx context.Context, e Event) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO deceptions (id, status, occurred_at, event)
		VALUES ($1, $2, $3, $4)
	`, e.ID, e.Status, e.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", e.ID, err)
	}
	return nil
}

func (p *PostgresStore) ListPublished(ctx context.Context, limit, skip int) ([]Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT event FROM deceptions
		WHERE status = $1
		ORDER BY occurred_at DESC
		OFFSET $2 LIMIT $3
	`, StatusPublished, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var e Event
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Event, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT event FROM deceptions WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("loading event %s: %w", id, err)
	}

	var e Event
	if err := json.Unmarshal(doc, &e); err != nil {
		return Event{}, fmt.Errorf("decoding event %s: %w", id, err)
	}
	return e, nil
}

// Ping verifies the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Migrate runs a goose command ("up", "down", "status", ...) against the
// embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, command string, args ...string) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, "migrations", args...); err != nil {
		return fmt.Errorf("migration %s: %w", command, err)
	}
	return nil
}
