package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/triarb/internal/aggregator"
	"github.com/alanyoungcy/triarb/internal/arbitrage"
	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/feed"
	"github.com/alanyoungcy/triarb/internal/pipeline"
	"github.com/alanyoungcy/triarb/internal/platform/binance"
	"github.com/alanyoungcy/triarb/internal/server"
	"github.com/alanyoungcy/triarb/internal/server/handler"
	"github.com/alanyoungcy/triarb/internal/server/ws"
	"github.com/alanyoungcy/triarb/internal/service"
)

// FullMode runs detection, persistence, the HTTP API and the scheduled
// archive and snapshot jobs.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	var live *service.LiveService
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = a.newHub(deps, func() any { return live.Stats() })
	}
	live, err := a.startDetection(ctx, g, deps, hub)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if hub != nil {
		a.startHTTPServer(ctx, g, deps, hub, live)
	}
	if err := a.startScheduler(ctx, g, deps, live); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	return g.Wait()
}

// DetectMode runs the feed, the engine and the live service. Results reach
// other processes through Redis and Postgres; the HTTP API is served only
// when server.enabled is set.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")

	g, ctx := errgroup.WithContext(ctx)

	var live *service.LiveService
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = a.newHub(deps, func() any { return live.Stats() })
	}
	live, err := a.startDetection(ctx, g, deps, hub)
	if err != nil {
		return fmt.Errorf("detect mode: %w", err)
	}
	if hub != nil {
		a.startHTTPServer(ctx, g, deps, hub, live)
	}

	return g.Wait()
}

// ServerMode serves the historical API and relays bus traffic from a
// detector running elsewhere to websocket clients.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.newHub(deps, nil), nil)
	return g.Wait()
}

// ArchiveMode runs one archive pass immediately and then keeps archiving on
// the configured schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 archiver is not configured")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	if err := archiver.Run(ctx); err != nil {
		a.logger.ErrorContext(ctx, "initial archive run failed", slog.String("error", err.Error()))
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps, nil); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return g.Wait()
}

// newHub creates the websocket hub. With Redis it relays the bus so every
// server instance sees the detector's updates. welcome is only called once
// the hub is running.
func (a *App) newHub(deps *Dependencies, welcome func() any) *ws.Hub {
	cfg := ws.Config{Welcome: welcome}
	if deps.SignalBus != nil {
		cfg.Bus = deps.SignalBus
	}
	return ws.NewHub(cfg, a.logger)
}

// startDetection loads the pair universe and starts the engine host, the
// live service, the market feed and, when Postgres is wired, the history
// recorder. hub may be nil.
func (a *App) startDetection(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) (*service.LiveService, error) {
	ex := a.cfg.Exchange
	det := a.cfg.Detection
	agg := a.cfg.Aggregation

	loader := service.NewUniverseLoader(binance.NewRestClient(ex.RestURL, ex.RequestsPerSecond), ex.HubAssets, a.logger)
	universe, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	// The fault callback is bound after the live service exists.
	var live *service.LiveService
	host := arbitrage.NewHost(arbitrage.HostOptions{
		CommandBuffer: det.CommandBuffer,
		EventBuffer:   det.EventBuffer,
		StatsInterval: det.StatsInterval.Duration,
		MaxRestarts:   det.MaxRestarts,
		OnFault: func(sessionID string, err error) {
			if live != nil {
				live.OnEngineFault(sessionID, err)
			}
		},
	}, a.logger)

	bookFeed := feed.NewBookTickerFeed(feed.BookTickerOptions{
		WsURL:             ex.WsURL,
		MaxStreamsPerConn: ex.MaxStreamsPerConn,
		MaxAttempts:       ex.MaxReconnectAttempts,
		BaseBackoff:       ex.BaseBackoff.Duration,
		MaxBackoff:        ex.MaxBackoff.Duration,
		OnStatus: func(st domain.FeedStatus) {
			if live != nil {
				live.OnFeedStatus(st)
			}
		},
	}, host, a.logger)
	deps.Metrics.RegisterFeed(bookFeed.Status)

	liveDeps := service.LiveDeps{
		Host:    host,
		Feed:    bookFeed,
		Alerts:  deps.Notifier,
		Metrics: deps.Metrics,
		Logger:  a.logger,
	}
	switch {
	case deps.SignalBus != nil:
		liveDeps.Publisher = deps.SignalBus
	case hub != nil:
		liveDeps.Publisher = hub
	}
	if deps.QuoteCache != nil {
		liveDeps.Quotes = deps.QuoteCache
	}

	var recorder *service.Recorder
	if deps.OpportunityStore != nil && deps.GroupStore != nil {
		recorder = service.NewRecorder(deps.OpportunityStore, deps.GroupStore, agg.PersistRaw, agg.FlushInterval.Duration, deps.Metrics, a.logger)
		liveDeps.History = recorder
	}

	live = service.NewLiveService(liveDeps, service.LiveOptions{
		Aggregation: aggregator.Options{
			Capacity:    agg.Capacity,
			RawCapacity: agg.RawCapacity,
			StaleWindow: agg.StaleWindow.Duration,
		},
		Detection:         det.Params(),
		AlertMinProfitPct: a.cfg.Notify.MinProfitPct,
	})
	if err := live.LoadUniverse(universe); err != nil {
		host.Close()
		return nil, err
	}

	g.Go(func() error {
		<-ctx.Done()
		host.Close()
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(live.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCanceled(bookFeed.Run(ctx))
	})
	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(ctx)
		})
	}
	return live, nil
}

// startHTTPServer adds the HTTP server and websocket hub to g. live is nil
// in server mode, which leaves the live routes unmounted.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, live *service.LiveService) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if live != nil {
		handlers.Live = handler.NewLiveHandler(live, a.logger)
	}
	if deps.OpportunityStore != nil && deps.GroupStore != nil {
		handlers.History = handler.NewHistoryHandler(deps.OpportunityStore, deps.GroupStore, a.logger)
	}
	if deps.SignalBus != nil && deps.QuoteCache != nil {
		handlers.Relay = handler.NewRelayHandler(deps.SignalBus, deps.QuoteCache, a.logger)
	}

	srvCfg := server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		Observe:         deps.Metrics.ObserveHTTP,
	}
	if deps.RateLimiter != nil {
		srvCfg.RateLimiter = deps.RateLimiter
	}
	srv := server.NewServer(srvCfg, handlers, hub, a.logger)
	deps.Metrics.RegisterHub(hub.ClientCount, hub.Dropped)

	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startScheduler registers the archive and snapshot jobs that the config
// enables and runs the orchestrator in g. live may be nil.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, live *service.LiveService) error {
	if deps.Archiver == nil {
		return nil
	}
	orch := pipeline.NewOrchestrator(a.logger)
	jobs := 0

	if (a.cfg.Archive.Enabled || a.cfg.Mode == "archive") && deps.OpportunityStore != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		if err := orch.Schedule(ctx, "archive", a.cfg.Archive.Cron, archiver); err != nil {
			return err
		}
		jobs++
	}
	if live != nil && a.cfg.Archive.SnapshotCron != "" {
		snap := pipeline.NewSnapshotter(live, deps.Archiver, a.logger)
		if err := orch.Schedule(ctx, "snapshot", a.cfg.Archive.SnapshotCron, snap); err != nil {
			return err
		}
		jobs++
	}
	if jobs == 0 {
		return nil
	}

	g.Go(func() error {
		return orch.Run(ctx)
	})
	return nil
}

// ignoreCanceled maps context cancellation, the normal way components stop,
// to a nil error so errgroup only reports real failures.
func ignoreCanceled(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}
