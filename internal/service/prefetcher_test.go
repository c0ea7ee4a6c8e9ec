package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/snapshot"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestPrefetchBoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	src := &fakeSource{
		history: func(context.Context, string, int) ([]domain.PricePoint, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return points(1, 2), nil
		},
	}
	cache := newCache()
	p := NewPrefetcher(src, cache, nil, PrefetchConfig{Workers: 2}, discardLogger())
	p.sleep = noSleep

	ids := []string{"a1", "b2", "c3", "d4", "e5", "f6"}
	got := p.Prefetch(context.Background(), ids)

	if got != len(ids) {
		t.Errorf("Prefetch = %d, want %d", got, len(ids))
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	for _, id := range ids {
		if !cache.Has(context.Background(), snapshot.HistoryKey(id, 7)) {
			t.Errorf("history of %s not cached", id)
		}
	}
}

func TestPrefetchSkipsCachedAndDropsErrors(t *testing.T) {
	ctx := context.Background()
	cache := newCache()
	snapshot.Write(ctx, cache, snapshot.HistoryKey("cached", 7), points(1))

	src := &fakeSource{
		history: func(_ context.Context, id string, _ int) ([]domain.PricePoint, error) {
			if id == "broken" {
				return nil, errUpstream
			}
			return points(3), nil
		},
	}
	p := NewPrefetcher(src, cache, nil, PrefetchConfig{}, discardLogger())
	p.sleep = noSleep

	got := p.Prefetch(ctx, []string{"cached", "broken", "fresh"})

	if got != 1 {
		t.Errorf("Prefetch = %d, want 1", got)
	}
	if n := src.count("history:cached"); n != 0 {
		t.Errorf("cached id fetched %d times", n)
	}
	if cache.Has(ctx, snapshot.HistoryKey("broken", 7)) {
		t.Error("failed fetch wrote a snapshot")
	}
	if !cache.Has(ctx, snapshot.HistoryKey("fresh", 7)) {
		t.Error("fresh id not cached")
	}
}

func TestPrefetchPacesEachWorker(t *testing.T) {
	src := &fakeSource{
		history: func(context.Context, string, int) ([]domain.PricePoint, error) { return points(1), nil },
	}
	p := NewPrefetcher(src, newCache(), nil, PrefetchConfig{Gap: 250 * time.Millisecond}, discardLogger())

	var mu sync.Mutex
	var gaps []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		gaps = append(gaps, d)
		mu.Unlock()
		return nil
	}

	p.Prefetch(context.Background(), []string{"a1", "b2", "c3"})

	if len(gaps) != 3 {
		t.Fatalf("slept %d times, want 3", len(gaps))
	}
	for _, g := range gaps {
		if g != 250*time.Millisecond {
			t.Errorf("gap = %s, want 250ms", g)
		}
	}
}

type fakeLocks struct {
	held map[string]bool
	mu   sync.Mutex
	got  []string
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
	}
	f.got = append(f.got, key)
	return func() {}, nil
}

func TestPrefetchSkipsLockedIDs(t *testing.T) {
	ctx := context.Background()
	cache := newCache()
	locks := &fakeLocks{held: map[string]bool{
		"prefetch:" + snapshot.HistoryKey("busy", 7).String(): true,
	}}
	src := &fakeSource{
		history: func(context.Context, string, int) ([]domain.PricePoint, error) { return points(1), nil },
	}
	p := NewPrefetcher(src, cache, locks, PrefetchConfig{}, discardLogger())
	p.sleep = noSleep

	got := p.Prefetch(ctx, []string{"busy", "free"})

	if got != 1 {
		t.Errorf("Prefetch = %d, want 1", got)
	}
	if src.count("history:busy") != 0 {
		t.Error("locked id was fetched")
	}
	if len(locks.got) != 1 || locks.got[0] != "prefetch:cg_chart_7d_v1_free" {
		t.Errorf("acquired = %v", locks.got)
	}
}

func TestPrefetcherRunDrainsSchedule(t *testing.T) {
	cache := newCache()
	src := &fakeSource{
		history: func(context.Context, string, int) ([]domain.PricePoint, error) { return points(1), nil },
	}
	p := NewPrefetcher(src, cache, nil, PrefetchConfig{}, discardLogger())
	p.sleep = noSleep

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Schedule([]string{"bitcoin", "ethereum"})

	deadline := time.Now().Add(2 * time.Second)
	for !cache.Has(ctx, snapshot.HistoryKey("ethereum", 7)) || !cache.Has(ctx, snapshot.HistoryKey("bitcoin", 7)) {
		if time.Now().After(deadline) {
			t.Fatal("scheduled ids were not prefetched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestScheduleNeverBlocks(t *testing.T) {
	p := NewPrefetcher(&fakeSource{}, newCache(), nil, PrefetchConfig{}, discardLogger())
	for i := 0; i < 20; i++ {
		p.Schedule([]string{"bitcoin"})
	}
	if len(p.queue) != cap(p.queue) {
		t.Errorf("queue len = %d, want %d", len(p.queue), cap(p.queue))
	}
}
