package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockclass/marketview/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore over the snapshots table.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Get returns the entry stored under key, or domain.ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT payload FROM snapshots WHERE key = $1`

	var payload []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get snapshot %s: %w", key, err)
	}
	return payload, nil
}

// Put replaces the entry stored under key.
func (s *SnapshotStore) Put(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO snapshots (key, payload, saved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload,
			saved_at = EXCLUDED.saved_at`

	if _, err := s.pool.Exec(ctx, query, key, string(value)); err != nil {
		return fmt.Errorf("postgres: put snapshot %s: %w", key, err)
	}
	return nil
}

// Keys lists the stored keys with the given prefix, newest first.
func (s *SnapshotStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT key FROM snapshots WHERE key LIKE $1 || '%' ORDER BY saved_at DESC`

	rows, err := s.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s: %w", prefix, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots %s: %w", prefix, err)
	}
	return keys, nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
