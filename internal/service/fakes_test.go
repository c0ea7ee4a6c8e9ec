package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/snapshot"
)

var errUpstream = errors.New("upstream down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func newCache() *snapshot.Cache {
	return snapshot.New(snapshot.NewMemoryStore(), discardLogger())
}

func detailed(id string, price float64) domain.DetailedRecord {
	return domain.DetailedRecord{
		MarketFields: domain.MarketFields{
			ID:                id,
			Symbol:            id[:3],
			Name:              id,
			CurrentPrice:      ptr(price),
			PriceChangePct24h: ptr(1.5),
			CirculatingSupply: ptr(19_000_000.0),
			MaxSupply:         ptr(21_000_000.0),
		},
		Extended: domain.Extended{
			Description: "A coin.",
			Categories:  []string{"Proof of Work (PoW)"},
		},
	}
}

func summary(id string, price float64) domain.SummaryRecord {
	return domain.SummaryRecord{MarketFields: domain.MarketFields{
		ID:           id,
		Symbol:       id[:3],
		Name:         id,
		CurrentPrice: ptr(price),
	}}
}

// fakeSource serves canned responses. Nil funcs fail with errUpstream.
type fakeSource struct {
	coin    func(ctx context.Context, id string) (domain.DetailedRecord, error)
	summary func(ctx context.Context, id string) (domain.SummaryRecord, error)
	history func(ctx context.Context, id string, days int) ([]domain.PricePoint, error)
	top     func(ctx context.Context, n int) ([]domain.SummaryRecord, error)

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeSource) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) Coin(ctx context.Context, id string) (domain.DetailedRecord, error) {
	f.record("coin:" + id)
	if f.coin == nil {
		return domain.DetailedRecord{}, errUpstream
	}
	return f.coin(ctx, id)
}

func (f *fakeSource) Summary(ctx context.Context, id string) (domain.SummaryRecord, error) {
	f.record("summary:" + id)
	if f.summary == nil {
		return domain.SummaryRecord{}, errUpstream
	}
	return f.summary(ctx, id)
}

func (f *fakeSource) History(ctx context.Context, id string, days int) ([]domain.PricePoint, error) {
	f.record("history:" + id)
	if f.history == nil {
		return nil, errUpstream
	}
	return f.history(ctx, id, days)
}

func (f *fakeSource) Top(ctx context.Context, n int) ([]domain.SummaryRecord, error) {
	f.record("top")
	if f.top == nil {
		return nil, errUpstream
	}
	return f.top(ctx, n)
}

func points(prices ...float64) []domain.PricePoint {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.PricePoint, 0, len(prices))
	for i, p := range prices {
		ts := base.Add(time.Duration(i) * 24 * time.Hour)
		out = append(out, domain.PricePoint{Timestamp: ts, Date: ts.Format(time.DateOnly), Price: p})
	}
	return out
}

// viewRecorder collects emitted views.
type viewRecorder struct {
	mu    sync.Mutex
	views []DetailView
}

func (r *viewRecorder) emit(v DetailView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *viewRecorder) all() []DetailView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DetailView(nil), r.views...)
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

type recordingScheduler struct {
	batches [][]string
}

func (s *recordingScheduler) Schedule(ids []string) {
	s.batches = append(s.batches, ids)
}
