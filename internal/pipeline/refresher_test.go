package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/service"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) Refresh(context.Context) (service.ListView, error) {
	c.calls.Add(1)
	if c.err != nil {
		return service.ListView{}, c.err
	}
	return service.ListView{Markets: []domain.MarketRecord{{}}}, nil
}

func TestRefresherRun(t *testing.T) {
	ok := &countingRefresher{}
	if err := NewRefresher(ok, discardLogger()).Run(context.Background()); err != nil {
		t.Errorf("Run: %v", err)
	}

	failing := &countingRefresher{err: errors.New("upstream down")}
	if err := NewRefresher(failing, discardLogger()).Run(context.Background()); err == nil {
		t.Error("Run swallowed the refresh error")
	}
}

func TestRefresherLoopKeepsGoingOnFailure(t *testing.T) {
	r := &countingRefresher{err: errors.New("upstream down")}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := NewRefresher(r, discardLogger()).RunLoop(ctx, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunLoop = %v, want deadline exceeded", err)
	}
	if r.calls.Load() < 2 {
		t.Errorf("refreshed %d times, want several", r.calls.Load())
	}
}

func TestOrchestratorStopsCleanly(t *testing.T) {
	r := &countingRefresher{}
	o := NewOrchestrator(NewRefresher(r, discardLogger()), nil, nil, 5*time.Millisecond, "", discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil on shutdown", err)
	}
	if r.calls.Load() == 0 {
		t.Error("refresher never ran")
	}
}
