package service

import (
	"context"
	"testing"
	"time"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/snapshot"
)

func TestSessionDropsSupersededLoad(t *testing.T) {
	release := make(chan struct{})
	alphaStarted := make(chan struct{})
	src := &fakeSource{
		coin: func(_ context.Context, id string) (domain.DetailedRecord, error) {
			if id == "alpha" {
				close(alphaStarted)
				// Ignores cancellation and answers late.
				<-release
			}
			return detailed(id, 100), nil
		},
		history: func(_ context.Context, id string, _ int) ([]domain.PricePoint, error) {
			if id == "alpha" {
				<-release
			}
			return points(1, 2), nil
		},
	}
	cache := newCache()
	loader := NewDetailLoader(src, cache, 7, discardLogger())

	var rec viewRecorder
	s := NewSession(loader, rec.emit)
	ctx := context.Background()

	s.Navigate(ctx, "alpha")
	<-alphaStarted
	s.Navigate(ctx, "beta")
	if s.Current() != "beta" {
		t.Errorf("Current = %q, want beta", s.Current())
	}

	close(release)
	waitFor(t, s.Wait)

	var alpha, beta []DetailView
	for _, v := range rec.all() {
		switch v.ID {
		case "alpha":
			alpha = append(alpha, v)
		case "beta":
			beta = append(beta, v)
		}
	}

	if len(alpha) != 1 || alpha[0].State != StateRefreshing {
		t.Errorf("alpha views = %+v, want only the refreshing step", alpha)
	}
	if len(beta) == 0 || beta[len(beta)-1].State != StateResolved {
		t.Fatalf("beta did not resolve: %+v", beta)
	}
	if cache.Has(ctx, snapshot.DetailKey("alpha")) || cache.Has(ctx, snapshot.HistoryKey("alpha", 7)) {
		t.Error("superseded load wrote a snapshot")
	}
	if !cache.Has(ctx, snapshot.DetailKey("beta")) {
		t.Error("current load did not write its snapshot")
	}
}

func TestSessionCloseStopsDelivery(t *testing.T) {
	src := &fakeSource{
		coin: func(ctx context.Context, id string) (domain.DetailedRecord, error) {
			<-ctx.Done()
			return domain.DetailedRecord{}, ctx.Err()
		},
	}
	var rec viewRecorder
	s := NewSession(NewDetailLoader(src, newCache(), 7, discardLogger()), rec.emit)

	s.Navigate(context.Background(), "bitcoin")
	waitFor(t, s.Close)

	for _, v := range rec.all() {
		if v.State.Terminal() {
			t.Errorf("terminal view delivered after Close: %+v", v)
		}
	}
}

func waitFor(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
