package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blockclass/marketview/internal/format"
	"github.com/blockclass/marketview/internal/pipeline"
	"github.com/blockclass/marketview/internal/platform/coingecko"
	"github.com/blockclass/marketview/internal/server"
	"github.com/blockclass/marketview/internal/server/handler"
	"github.com/blockclass/marketview/internal/server/ws"
	"github.com/blockclass/marketview/internal/service"
)

// services holds the service layer built over one set of dependencies.
type services struct {
	loader     *service.DetailLoader
	markets    *service.MarketService
	prefetcher *service.Prefetcher
}

func (a *App) buildServices(deps *Dependencies) services {
	loader := service.NewDetailLoader(deps.CoinGecko, deps.Cache, a.cfg.List.HistoryDays, a.logger)

	var (
		prefetcher *service.Prefetcher
		scheduler  service.Scheduler
	)
	if a.cfg.Prefetch.Enabled {
		prefetcher = service.NewPrefetcher(deps.CoinGecko, deps.Cache, deps.LockManager, service.PrefetchConfig{
			Workers: a.cfg.Prefetch.Workers,
			Gap:     a.cfg.Prefetch.Gap.Duration,
			Days:    a.cfg.List.HistoryDays,
			LockTTL: a.cfg.Prefetch.LockTTL.Duration,
		}, a.logger)
		scheduler = prefetcher
	}

	markets := service.NewMarketService(deps.CoinGecko, deps.Cache, loader, scheduler, deps.SignalBus,
		service.MarketServiceConfig{
			TopN:        a.cfg.List.TopN,
			PrefetchTop: a.cfg.Prefetch.Top,
			MinRefresh:  a.cfg.List.MinRefresh.Duration,
		}, a.logger)

	return services{loader: loader, markets: markets, prefetcher: prefetcher}
}

// Serve runs the background pipelines and, when enabled, the HTTP server
// until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.String("snapshot_backend", a.cfg.Snapshot.Backend),
		slog.Bool("redis", a.cfg.UsesRedis()),
		slog.Bool("archive", a.cfg.Archive.Enabled),
	)

	deps, err := a.dependencies(ctx)
	if err != nil {
		return err
	}
	svc := a.buildServices(deps)

	g, ctx := errgroup.WithContext(ctx)

	var archiver *pipeline.Archiver
	if deps.BlobWriter != nil {
		archiver = pipeline.NewArchiver(deps.Cache, deps.BlobWriter, deps.BlobReader, a.logger)
	}
	var background pipeline.BackgroundRunner
	if svc.prefetcher != nil {
		background = svc.prefetcher
	}
	orch := pipeline.NewOrchestrator(
		pipeline.NewRefresher(svc.markets, a.logger),
		background,
		archiver,
		a.cfg.List.RefreshInterval.Duration,
		a.cfg.Archive.Cron,
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc services) {
	hub := ws.NewHub(svc.loader, svc.markets, deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Backend, time.Now().UTC(), a.logger),
		Markets: handler.NewMarketHandler(svc.markets, svc.loader, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

type coinOutput struct {
	service.DetailView
	Display format.Display `json:"display"`
}

// Coin runs one detail load for id and writes the final view to w as JSON.
// Every transition is logged at debug level.
func (a *App) Coin(ctx context.Context, id string, w io.Writer) error {
	if err := coingecko.ValidateID(id); err != nil {
		return err
	}
	deps, err := a.dependencies(ctx)
	if err != nil {
		return err
	}
	svc := a.buildServices(deps)

	view := svc.loader.Load(ctx, id, func(v service.DetailView) {
		a.logger.DebugContext(ctx, "load transition",
			slog.String("id", v.ID),
			slog.String("state", string(v.State)),
			slog.String("freshness", string(v.Freshness)),
		)
	})
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("coin %s: %w", id, err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(coinOutput{DetailView: view, Display: format.Record(view.Record)})
}

// Markets writes the market list to w as a table.
func (a *App) Markets(ctx context.Context, w io.Writer) error {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return err
	}
	view := a.buildServices(deps).markets.List(ctx)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tNAME\tSYMBOL\tPRICE\t24H\tMARKET CAP\tVOLUME")
	for _, rec := range view.Markets {
		d := format.Record(rec)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", d.Rank, d.Name, d.Symbol, d.Price, d.Change24h, d.MarketCap, d.Volume)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s data, updated %s\n", view.Freshness, format.Timestamp(view.UpdatedAt))
	if view.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", view.Warning)
	}
	return nil
}

// Snapshots lists the stored snapshot keys starting with prefix.
func (a *App) Snapshots(ctx context.Context, prefix string, w io.Writer) error {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return err
	}
	keys, err := deps.Cache.Keys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}
	for _, k := range keys {
		fmt.Fprintln(w, k)
	}
	return nil
}

// Archive copies the current snapshots to object storage once.
func (a *App) Archive(ctx context.Context, w io.Writer) error {
	deps, err := a.dependencies(ctx)
	if err != nil {
		return err
	}
	if deps.BlobWriter == nil {
		return errors.New("archive: archive.enabled is false")
	}
	res, err := pipeline.NewArchiver(deps.Cache, deps.BlobWriter, deps.BlobReader, a.logger).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "list: %s\ndetails: %s (%d)\n", res.ListPath, res.DetailsPath, res.Details)
	return nil
}
