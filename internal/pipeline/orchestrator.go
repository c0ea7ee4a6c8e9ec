package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// BackgroundRunner is a long-lived worker that stops when ctx is done.
type BackgroundRunner interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the background pipelines: the list refresher, the
// history prefetcher and, when configured, the snapshot archiver.
type Orchestrator struct {
	refresher       *Refresher
	prefetcher      BackgroundRunner
	archiver        *Archiver
	refreshInterval time.Duration
	archiveCron     string
	logger          *slog.Logger
}

// NewOrchestrator creates an Orchestrator. prefetcher and archiver may be
// nil.
func NewOrchestrator(
	refresher *Refresher,
	prefetcher BackgroundRunner,
	archiver *Archiver,
	refreshInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		refresher:       refresher,
		prefetcher:      prefetcher,
		archiver:        archiver,
		refreshInterval: refreshInterval,
		archiveCron:     archiveCron,
		logger:          logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every pipeline and blocks until ctx is cancelled or one of them
// fails. A cancelled context is a clean shutdown and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("refresh_interval", o.refreshInterval),
		slog.String("archive_cron", o.archiveCron),
	)

	if o.archiver != nil {
		n, err := o.archiver.Restore(ctx)
		if err != nil {
			o.logger.Warn("snapshot restore failed", slog.String("error", err.Error()))
		} else if n > 0 {
			o.logger.Info("snapshots restored from archive", slog.Int("count", n))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if o.refresher != nil && o.refreshInterval > 0 {
		g.Go(func() error {
			err := o.refresher.RunLoop(ctx, o.refreshInterval)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("refresher: %w", err)
		})
	}

	if o.prefetcher != nil {
		g.Go(func() error {
			err := o.prefetcher.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("prefetcher: %w", err)
		})
	}

	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	o.logger.Info("pipeline orchestrator stopped")
	return err
}
