// kvstore.go - Per-key atomic state storage for the admin guard.
//
// Two variants behind one interface: an in-process table for
// single-instance deployments, and a SQL-backed table so every process
// instance observes the same lockout state. The variant is chosen once
// at startup, never per call.
package server

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// stateStore applies an atomic read-modify-write to the state kept
// under a key. fn receives the current value (nil when absent) and
// returns the replacement; a nil replacement deletes the key.
type stateStore interface {
	Update(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// memoryStateStore keeps state in a mutex-guarded map.
type memoryStateStore struct {
	mu    sync.Mutex
	table map[string][]byte
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{table: make(map[string][]byte)}
}

func (m *memoryStateStore) Update(_ context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(m.table[key])
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.table, key)
		return nil
	}
	m.table[key] = next
	return nil
}

func (m *memoryStateStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.table[key]
	return v, ok, nil
}

// dbStateStore shares state through the catalog database so lockouts
// apply across instances. Postgres only: SELECT ... FOR UPDATE gives
// the per-key read-modify-write atomicity.
type dbStateStore struct {
	db *sql.DB
}

func newDBStateStore(db *sql.DB, dialect string) (*dbStateStore, error) {
	if dialect != "postgres" {
		return nil, errors.New("shared guard state requires a postgres catalog")
	}
	return &dbStateStore{db: db}, nil
}

func (s *dbStateStore) Update(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur []byte
	var val string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM guard_state WHERE client_key = $1 FOR UPDATE`, key,
	).Scan(&val)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first sighting of this key
	case err != nil:
		return err
	default:
		cur = []byte(val)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}

	if next == nil {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM guard_state WHERE client_key = $1`, key)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO guard_state (client_key, value, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (client_key)
			DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`, key, string(next), time.Now().UTC())
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *dbStateStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM guard_state WHERE client_key = $1`, key,
	).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}
