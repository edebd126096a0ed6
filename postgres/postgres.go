// Package postgres implements btchat.Store and btchat.RequestLogger on
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/btchat"
)

// PGStore is a PostgreSQL-backed store.
type PGStore struct {
	db *pgxpool.Pool
}

// New wraps an existing pool.
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("btchat: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("btchat: ping postgres: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (s *PGStore) Close() {
	s.db.Close()
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func ensureSession(ctx context.Context, q execer, sessionID string) error {
	_, err := q.Exec(ctx, `INSERT INTO bt_sessions (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, sessionID)
	return err
}

// Ensure PGStore implements the btchat contracts at compile time.
var (
	_ btchat.Store         = (*PGStore)(nil)
	_ btchat.RequestLogger = (*PGStore)(nil)
)
