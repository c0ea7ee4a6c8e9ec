package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blockclass/marketview/internal/service"
)

// ListRefresher refreshes the market list snapshot.
type ListRefresher interface {
	Refresh(ctx context.Context) (service.ListView, error)
}

// Refresher keeps the market list snapshot warm in the background, so that
// requests are usually served from a recent snapshot.
type Refresher struct {
	markets ListRefresher
	logger  *slog.Logger
}

// NewRefresher creates a Refresher.
func NewRefresher(markets ListRefresher, logger *slog.Logger) *Refresher {
	return &Refresher{
		markets: markets,
		logger:  logger.With(slog.String("component", "refresher")),
	}
}

// Run performs one refresh.
func (r *Refresher) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("refresher context cancelled: %w", err)
	}
	view, err := r.markets.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refreshing market list: %w", err)
	}
	r.logger.Info("market list refreshed", slog.Int("count", len(view.Markets)))
	return nil
}

// RunLoop refreshes immediately and then every interval until ctx is
// cancelled. Failures are logged; the previous snapshot stays in place.
func (r *Refresher) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := r.Run(ctx); err != nil {
		r.logger.Warn("market refresh failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresher loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Warn("market refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}
