package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore implements domain.SnapshotStore with one Redis hash per key.
//
// Key schema:
//
//	{prefix}:snapshot:{key} - hash with field "data" holding the encoded entry
type SnapshotStore struct {
	c   *Client
	ttl time.Duration
}

// NewSnapshotStore creates a SnapshotStore. A positive ttl expires entries
// that have not been rewritten for that long; zero keeps them forever.
func NewSnapshotStore(c *Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{c: c, ttl: ttl}
}

// Get returns the encoded entry under key, or domain.ErrNotFound.
func (s *SnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.c.rdb.HGet(ctx, s.c.key("snapshot", key), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}
	return data, nil
}

// Put replaces the entry under key.
func (s *SnapshotStore) Put(ctx context.Context, key string, value []byte) error {
	k := s.c.key("snapshot", key)

	pipe := s.c.rdb.TxPipeline()
	pipe.HSet(ctx, k, "data", value)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	} else {
		pipe.Persist(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put snapshot %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// Keys lists the stored keys with the given prefix. Order is unspecified.
func (s *SnapshotStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ns := s.c.key("snapshot", "")
	var keys []string
	iter := s.c.rdb.Scan(ctx, 0, ns+prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), ns))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: list snapshots %s: %w", prefix, err)
	}
	return keys, nil
}
