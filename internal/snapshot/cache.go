// Package snapshot keeps the last successful payload per logical key so that
// stale-but-available data can be shown before, or instead of, a live result.
//
// Reads never fail and writes are best effort: the cache is an optimisation,
// so storage and serialisation problems are logged and swallowed.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/blockclass/marketview/internal/domain"
)

// Entry is a cached payload with the time it was saved. It is persisted as
// {"data": ..., "savedAt": "<RFC 3339>"}.
type Entry[T any] struct {
	Data    T         `json:"data"`
	SavedAt time.Time `json:"savedAt"`
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ErrNotListable is returned by Keys when the store cannot enumerate keys.
var ErrNotListable = errors.New("snapshot: store cannot list keys")

// Cache wraps a byte-level store with typed, non-failing access.
type Cache struct {
	store  domain.SnapshotStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Cache over store.
func New(store domain.SnapshotStore, logger *slog.Logger) *Cache {
	return &Cache{
		store:  store,
		logger: logger.With(slog.String("component", "snapshot")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Read returns the entry stored under key. Missing, corrupt or unreadable
// entries all report ok == false.
func Read[T any](ctx context.Context, c *Cache, key Key) (Entry[T], bool) {
	var entry Entry[T]

	raw, err := c.store.Get(ctx, key.String())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "snapshot read failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
		return entry, false
	}

	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.WarnContext(ctx, "snapshot corrupt, ignoring",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
		return Entry[T]{}, false
	}
	if entry.SavedAt.IsZero() {
		return Entry[T]{}, false
	}
	return entry, true
}

// Write replaces the entry under key with payload stamped with the current
// time. Failures are logged, never returned. Nothing is written once ctx is
// done, so a cancelled load cannot leave a snapshot behind.
func Write[T any](ctx context.Context, c *Cache, key Key, payload T) {
	if ctx.Err() != nil {
		return
	}
	data, err := json.Marshal(Entry[T]{Data: payload, SavedAt: c.now()})
	if err != nil {
		c.logger.WarnContext(ctx, "snapshot encode failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if ctx.Err() != nil {
		c.logger.DebugContext(ctx, "snapshot write skipped, context done", slog.String("key", key.String()))
		return
	}
	if err := c.store.Put(ctx, key.String(), data); err != nil {
		c.logger.WarnContext(ctx, "snapshot write failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Has reports whether a readable entry exists under key.
func (c *Cache) Has(ctx context.Context, key Key) bool {
	_, ok := Read[json.RawMessage](ctx, c, key)
	return ok
}

// Raw returns the encoded entry under the raw key, for export.
func (c *Cache) Raw(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Keys lists the raw keys starting with prefix.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	l, ok := c.store.(Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return l.Keys(ctx, prefix)
}

// Restore stores an encoded entry exported by Raw, keeping its original
// savedAt. Entries that do not decode or carry no savedAt are rejected.
func (c *Cache) Restore(ctx context.Context, key string, raw []byte) bool {
	var entry Entry[json.RawMessage]
	if err := json.Unmarshal(raw, &entry); err != nil || entry.SavedAt.IsZero() {
		c.logger.WarnContext(ctx, "snapshot restore rejected", slog.String("key", key))
		return false
	}
	if err := c.store.Put(ctx, key, raw); err != nil {
		c.logger.WarnContext(ctx, "snapshot restore failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
