package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/resolve"
	"github.com/blockclass/marketview/internal/snapshot"
)

// MaxCompare is the number of assets that can be compared side by side.
const MaxCompare = 2

// ErrTooManyCompare is returned when more than MaxCompare ids are compared.
var ErrTooManyCompare = errors.New("service: too many assets to compare")

// ChannelMarketsRefreshed is the bus channel announcing a new list snapshot.
const ChannelMarketsRefreshed = "markets.refreshed"

// ListSource fetches the top-N listing.
type ListSource interface {
	Top(ctx context.Context, n int) ([]domain.SummaryRecord, error)
}

// Scheduler accepts ids for background history prefetch.
type Scheduler interface {
	Schedule(ids []string)
}

// MarketServiceConfig tunes MarketService.
type MarketServiceConfig struct {
	// TopN is how many assets the list shows.
	TopN int
	// PrefetchTop is how many of the listed assets get their history warmed.
	PrefetchTop int
	// MinRefresh is how old the list snapshot must be before a request
	// triggers a live refresh.
	MinRefresh time.Duration
}

// MarketService serves the market list and side-by-side comparisons.
type MarketService struct {
	source   ListSource
	cache    *snapshot.Cache
	loader   *DetailLoader
	prefetch Scheduler
	bus      domain.SignalBus
	cfg      MarketServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewMarketService creates a MarketService. prefetch and bus may be nil.
func NewMarketService(
	source ListSource,
	cache *snapshot.Cache,
	loader *DetailLoader,
	prefetch Scheduler,
	bus domain.SignalBus,
	cfg MarketServiceConfig,
	logger *slog.Logger,
) *MarketService {
	if cfg.TopN <= 0 {
		cfg.TopN = 30
	}
	if cfg.PrefetchTop < 0 {
		cfg.PrefetchTop = 0
	}
	return &MarketService{
		source:   source,
		cache:    cache,
		loader:   loader,
		prefetch: prefetch,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "market_service")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List returns the top-N market list. A recent snapshot is served as is;
// otherwise the list is refreshed live and, on failure, the last snapshot is
// served with a warning. With neither, the view is empty and unavailable.
func (s *MarketService) List(ctx context.Context) ListView {
	cached, hasCached := snapshot.Read[[]domain.SummaryRecord](ctx, s.cache, snapshot.HomeKey())
	if hasCached && s.cfg.MinRefresh > 0 && s.now().Sub(cached.SavedAt) < s.cfg.MinRefresh {
		return listView(cached.Data, FreshnessCached, cached.SavedAt, "")
	}

	view, err := s.Refresh(ctx)
	if err == nil {
		return view
	}
	s.logger.WarnContext(ctx, "market list refresh failed",
		slog.String("error", err.Error()),
	)

	if hasCached {
		return listView(cached.Data, FreshnessCached, cached.SavedAt, warnListStale)
	}
	return ListView{
		Markets:     []domain.MarketRecord{},
		Freshness:   FreshnessNone,
		Warning:     warnUnavailable,
		Unavailable: true,
	}
}

// Refresh fetches the live list, stores its snapshot, announces it on the
// bus and schedules the history prefetch of the leading assets.
func (s *MarketService) Refresh(ctx context.Context) (ListView, error) {
	rows, err := s.source.Top(ctx, s.cfg.TopN)
	if err != nil {
		return ListView{}, fmt.Errorf("market_service: refresh: %w", err)
	}
	if ctx.Err() != nil {
		return ListView{}, fmt.Errorf("market_service: refresh: %w", ctx.Err())
	}

	valid := make([]domain.SummaryRecord, 0, len(rows))
	for _, r := range rows {
		if r.Valid() {
			valid = append(valid, r)
		}
	}

	snapshot.Write(ctx, s.cache, snapshot.HomeKey(), valid)
	now := s.now()

	if s.prefetch != nil && s.cfg.PrefetchTop > 0 {
		n := min(s.cfg.PrefetchTop, len(valid))
		ids := make([]string, 0, n)
		for _, r := range valid[:n] {
			ids = append(ids, r.ID)
		}
		s.prefetch.Schedule(ids)
	}

	s.announce(ctx, len(valid), now)

	return listView(valid, FreshnessLive, now, ""), nil
}

type refreshedEvent struct {
	Type      string    `json:"type"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *MarketService) announce(ctx context.Context, count int, at time.Time) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(refreshedEvent{Type: ChannelMarketsRefreshed, Count: count, UpdatedAt: at})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, ChannelMarketsRefreshed, payload); err != nil {
		s.logger.WarnContext(ctx, "publish list refresh failed",
			slog.String("error", err.Error()),
		)
	}
}

// Compare returns the records of up to MaxCompare distinct ids in the order
// given. Ids found in the list are served from it; others run a full detail
// load.
func (s *MarketService) Compare(ctx context.Context, ids []string) ([]domain.MarketRecord, error) {
	ids = dedupe(ids)
	if len(ids) > MaxCompare {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrTooManyCompare, len(ids), MaxCompare)
	}

	list := s.List(ctx)
	out := make([]domain.MarketRecord, 0, len(ids))
	for _, id := range ids {
		idx := slices.IndexFunc(list.Markets, func(m domain.MarketRecord) bool { return m.ID == id })
		if idx >= 0 {
			out = append(out, list.Markets[idx])
			continue
		}
		view := s.loader.Load(ctx, id, nil)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("market_service: compare: %w", err)
		}
		out = append(out, view.Record)
	}
	return out, nil
}

func listView(rows []domain.SummaryRecord, freshness Freshness, at time.Time, warning string) ListView {
	markets := make([]domain.MarketRecord, 0, len(rows))
	for i := range rows {
		if !rows[i].Valid() {
			continue
		}
		markets = append(markets, resolve.Resolve(nil, &rows[i], nil).Record)
	}
	return ListView{
		Markets:   markets,
		Freshness: freshness,
		UpdatedAt: timePtr(at),
		Warning:   warning,
	}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
