package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/snapshot"
)

// HistorySource fetches a price series.
type HistorySource interface {
	History(ctx context.Context, id string, days int) ([]domain.PricePoint, error)
}

// PrefetchConfig tunes the opportunistic history prefetch.
type PrefetchConfig struct {
	Workers int
	Gap     time.Duration
	Days    int
	LockTTL time.Duration
}

// Prefetcher warms the history snapshots of several assets with a small
// bounded worker pool. Each worker pauses for Gap after every task so the
// upstream API is not flooded. Failures are dropped.
type Prefetcher struct {
	source HistorySource
	cache  *snapshot.Cache
	locks  domain.LockManager
	cfg    PrefetchConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	queue  chan []string
}

// NewPrefetcher creates a Prefetcher. locks may be nil; when set, a
// distributed lock keeps several instances from prefetching the same asset.
func NewPrefetcher(source HistorySource, cache *snapshot.Cache, locks domain.LockManager, cfg PrefetchConfig, logger *slog.Logger) *Prefetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Prefetcher{
		source: source,
		cache:  cache,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "prefetcher")),
		sleep:  sleepCtx,
		queue:  make(chan []string, 4),
	}
}

// Schedule queues ids for the background loop started by Run. It never
// blocks; a batch is dropped when the queue is full.
func (p *Prefetcher) Schedule(ids []string) {
	if len(ids) == 0 {
		return
	}
	batch := append([]string(nil), ids...)
	select {
	case p.queue <- batch:
	default:
		p.logger.Debug("prefetch queue full, dropping batch", slog.Int("size", len(batch)))
	}
}

// Run drains scheduled batches until ctx is done.
func (p *Prefetcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ids := <-p.queue:
			p.Prefetch(ctx, ids)
		}
	}
}

// Prefetch warms the history of ids and returns the number of series it
// fetched. Ids that already have a snapshot are skipped.
func (p *Prefetcher) Prefetch(ctx context.Context, ids []string) int {
	jobs := make(chan string)
	results := make(chan bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < p.cfg.Workers; w++ {
		g.Go(func() error {
			for id := range jobs {
				results <- p.prefetchOne(gctx, id)
				if err := p.sleep(gctx, p.cfg.Gap); err != nil {
					return nil
				}
			}
			return nil
		})
	}

	go func() {
		defer close(jobs)
		for _, id := range ids {
			select {
			case jobs <- id:
			case <-gctx.Done():
				return
			}
		}
	}()

	_ = g.Wait()
	close(results)

	fetched := 0
	for ok := range results {
		if ok {
			fetched++
		}
	}
	return fetched
}

func (p *Prefetcher) prefetchOne(ctx context.Context, id string) bool {
	key := snapshot.HistoryKey(id, p.cfg.Days)
	if p.cache.Has(ctx, key) {
		return false
	}

	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, "prefetch:"+key.String(), p.cfg.LockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				p.logger.DebugContext(ctx, "prefetch lock failed",
					slog.String("id", id),
					slog.String("error", err.Error()),
				)
			}
			return false
		}
		defer unlock()
	}

	points, err := p.source.History(ctx, id, p.cfg.Days)
	if err != nil || ctx.Err() != nil {
		if err != nil {
			p.logger.DebugContext(ctx, "prefetch failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	snapshot.Write(ctx, p.cache, key, points)
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
