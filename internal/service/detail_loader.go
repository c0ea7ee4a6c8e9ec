package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/resolve"
	"github.com/blockclass/marketview/internal/snapshot"
)

// DetailSource provides the three upstream reads a detail load needs.
type DetailSource interface {
	Coin(ctx context.Context, id string) (domain.DetailedRecord, error)
	Summary(ctx context.Context, id string) (domain.SummaryRecord, error)
	History(ctx context.Context, id string, days int) ([]domain.PricePoint, error)
}

// DetailLoader runs the load sequence of one asset: cached snapshot first,
// then the detailed source, then the summary source, resolved against the
// cache. The price history is loaded alongside and never blocks the record.
type DetailLoader struct {
	source DetailSource
	cache  *snapshot.Cache
	days   int
	logger *slog.Logger
	now    func() time.Time
}

// NewDetailLoader creates a DetailLoader. days is the history window.
func NewDetailLoader(source DetailSource, cache *snapshot.Cache, days int, logger *slog.Logger) *DetailLoader {
	if days <= 0 {
		days = 7
	}
	return &DetailLoader{
		source: source,
		cache:  cache,
		days:   days,
		logger: logger.With(slog.String("component", "detail_loader")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HistoryDays returns the history window in days.
func (l *DetailLoader) HistoryDays() int { return l.days }

// Load runs the sequence for id. emit, when non-nil, receives a copy of the
// view at every transition and is never called once ctx is done. Load
// returns the last view; after cancellation that view must be discarded.
// A cancelled load never writes snapshots.
func (l *DetailLoader) Load(ctx context.Context, id string, emit func(DetailView)) DetailView {
	b := newViewBuilder(ctx, id, emit)

	cachedDetail, hasDetail := snapshot.Read[domain.MarketRecord](ctx, l.cache, snapshot.DetailKey(id))
	cachedHistory, hasHistory := snapshot.Read[[]domain.PricePoint](ctx, l.cache, snapshot.HistoryKey(id, l.days))

	if hasDetail || hasHistory {
		b.update(func(v *DetailView) {
			v.State = StateLoadingFromCache
			if hasDetail {
				v.Record = cachedDetail.Data
				v.Freshness = FreshnessCached
				v.UpdatedAt = timePtr(cachedDetail.SavedAt)
			}
			if hasHistory {
				v.History = cachedHistory.Data
				v.HistoryFreshness = FreshnessCached
				v.HistoryUpdatedAt = timePtr(cachedHistory.SavedAt)
			}
		})
	}

	b.update(func(v *DetailView) { v.State = StateRefreshing })

	var g errgroup.Group
	g.Go(func() error {
		l.loadHistory(ctx, id, b)
		return nil
	})

	var cached *domain.MarketRecord
	if hasDetail {
		rec := cachedDetail.Data
		cached = &rec
	}
	res, fetchedAt := l.resolveRecord(ctx, id, cached)

	b.update(func(v *DetailView) {
		v.Record = res.Record
		if v.Record.ID == "" {
			v.Record.ID = id
		}
		v.WarningLevel = res.Level.String()
		v.Warning = warningText(res.Level)
		v.Unavailable = res.Level == resolve.LevelUnavailable

		switch res.Level {
		case resolve.LevelNone, resolve.LevelPartial:
			v.Freshness = FreshnessLive
			v.UpdatedAt = timePtr(fetchedAt)
		case resolve.LevelStale:
			v.Freshness = FreshnessCached
			v.UpdatedAt = timePtr(cachedDetail.SavedAt)
		default:
			v.Freshness = FreshnessNone
			v.UpdatedAt = nil
		}

		if res.Warning() {
			v.State = StateResolvedWithWarning
		} else {
			v.State = StateResolved
		}
	})

	_ = g.Wait()
	return b.current()
}

// resolveRecord tries the detailed source, then the summary source, and
// resolves whatever answered against cached. fetchedAt is zero when no live
// source answered.
func (l *DetailLoader) resolveRecord(ctx context.Context, id string, cached *domain.MarketRecord) (resolve.Resolution, time.Time) {
	detailed, err := l.source.Coin(ctx, id)
	if err == nil {
		res := resolve.Resolve(&detailed, nil, cached)
		if ctx.Err() == nil {
			snapshot.Write(ctx, l.cache, snapshot.DetailKey(id), res.Record)
		}
		return res, l.now()
	}
	l.logger.DebugContext(ctx, "detail source failed, trying summary",
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	if ctx.Err() != nil {
		return resolve.Resolve(nil, nil, cached), time.Time{}
	}

	summary, err := l.source.Summary(ctx, id)
	if err == nil {
		return resolve.Resolve(nil, &summary, cached), l.now()
	}
	l.logger.DebugContext(ctx, "summary source failed",
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	return resolve.Resolve(nil, nil, cached), time.Time{}
}

// loadHistory refreshes the price series. On failure the cached series, if
// any, stays in place.
func (l *DetailLoader) loadHistory(ctx context.Context, id string, b *viewBuilder) {
	points, err := l.source.History(ctx, id, l.days)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		l.logger.DebugContext(ctx, "history source failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	snapshot.Write(ctx, l.cache, snapshot.HistoryKey(id, l.days), points)
	now := l.now()
	b.update(func(v *DetailView) {
		v.History = points
		v.HistoryFreshness = FreshnessLive
		v.HistoryUpdatedAt = &now
	})
}

// History returns the days-long price series of id. A live series replaces
// the snapshot; when the source fails the snapshot is served with a warning.
func (l *DetailLoader) History(ctx context.Context, id string, days int) HistoryView {
	v := HistoryView{
		ID:        id,
		Days:      days,
		Points:    []domain.PricePoint{},
		Freshness: FreshnessNone,
	}

	points, err := l.source.History(ctx, id, days)
	if err == nil && ctx.Err() == nil {
		snapshot.Write(ctx, l.cache, snapshot.HistoryKey(id, days), points)
		if points != nil {
			v.Points = points
		}
		v.Freshness = FreshnessLive
		v.UpdatedAt = timePtr(l.now())
		return v
	}
	if err != nil {
		l.logger.DebugContext(ctx, "history source failed",
			slog.String("id", id),
			slog.Int("days", days),
			slog.String("error", err.Error()),
		)
	}

	if cached, ok := snapshot.Read[[]domain.PricePoint](ctx, l.cache, snapshot.HistoryKey(id, days)); ok {
		if cached.Data != nil {
			v.Points = cached.Data
		}
		v.Freshness = FreshnessCached
		v.UpdatedAt = timePtr(cached.SavedAt)
		v.Warning = warnHistoryStale
		return v
	}

	v.Warning = warnHistoryUnavailable
	v.Unavailable = true
	return v
}

// viewBuilder serialises updates to a view coming from the record and
// history goroutines. Each field has a single writer, so the final view does
// not depend on arrival order.
type viewBuilder struct {
	mu   sync.Mutex
	ctx  context.Context
	view DetailView
	emit func(DetailView)
}

func newViewBuilder(ctx context.Context, id string, emit func(DetailView)) *viewBuilder {
	return &viewBuilder{
		ctx:  ctx,
		emit: emit,
		view: DetailView{
			ID:    id,
			State: StateIdle,
			Record: domain.MarketRecord{
				MarketFields:     domain.MarketFields{ID: id},
				PriceChangeClass: domain.PriceChangeUnknown,
				Consensus:        resolve.InferConsensus(nil, nil),
			},
			Freshness:        FreshnessNone,
			HistoryFreshness: FreshnessNone,
			WarningLevel:     resolve.LevelNone.String(),
		},
	}
}

func (b *viewBuilder) update(fn func(v *DetailView)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.view)
	if b.emit != nil && b.ctx.Err() == nil {
		b.emit(b.view)
	}
}

func (b *viewBuilder) current() DetailView {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view
}
