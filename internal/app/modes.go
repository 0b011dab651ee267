package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goingthrice/bidengine/internal/domain"
	"github.com/goingthrice/bidengine/internal/pipeline"
	"github.com/goingthrice/bidengine/internal/server"
	"github.com/goingthrice/bidengine/internal/server/handler"
	"github.com/goingthrice/bidengine/internal/server/ws"
	"github.com/goingthrice/bidengine/internal/service"
)

// services are the application services shared by the API and the workers.
type services struct {
	wallets     *service.WalletService
	bids        *service.BidService
	auctions    *service.AuctionService
	settlements *service.SettlementService
	dedup       *service.Dedup[domain.BidResult]
}

// fanout is the event delivery path of this process.
type fanout struct {
	hub       *ws.Hub // nil in a worker that publishes over redis
	relay     *ws.Relay
	publisher domain.EventPublisher
}

func (a *App) buildFanout(deps *Dependencies, serving bool) fanout {
	cfg := a.cfg.Fanout
	if cfg.Mode == "redis" && deps.SignalBus != nil {
		f := fanout{publisher: ws.NewBusPublisher(deps.SignalBus, cfg.Channel)}
		if serving {
			f.hub = ws.NewHub(a.logger)
			f.relay = ws.NewRelay(deps.SignalBus, cfg.Channel, f.hub, a.logger)
		}
		return f
	}
	if !serving {
		a.logger.Warn("worker mode with local fanout: lifecycle events reach no websocket sessions")
	}
	hub := ws.NewHub(a.logger)
	return fanout{hub: hub, publisher: hub}
}

func (a *App) buildServices(deps *Dependencies, publisher domain.EventPublisher) services {
	return services{
		wallets: service.NewWalletService(deps.Store, deps.Notifier, a.logger),
		bids: service.NewBidService(deps.Store, publisher, deps.AuctionCache, deps.Notifier, service.BidConfig{
			MaxRetries:   a.cfg.Bidding.MaxRetries,
			RetryBackoff: a.cfg.Bidding.RetryBackoff.Duration,
		}, a.logger),
		auctions:    service.NewAuctionService(deps.Store, deps.AuctionCache, publisher, a.logger),
		settlements: service.NewSettlementService(deps.Store, publisher, deps.AuctionCache, deps.Notifier, a.cfg.Lifecycle.SettleMaxAttempts, a.logger),
		dedup:       service.NewDedup[domain.BidResult](a.cfg.Bidding.IdempotencyTTL.Duration),
	}
}

// ServerMode serves the HTTP API and websocket sessions. Lifecycle work is
// left to a separate worker process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, true, false)
}

// WorkerMode runs the sweeper, settlement and archive loops only.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, false, true)
}

// AllMode runs the API and the workers in one process.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps, true, true)
}

func (a *App) run(ctx context.Context, deps *Dependencies, serve, work bool) error {
	a.logger.InfoContext(ctx, "starting",
		slog.Bool("api", serve),
		slog.Bool("workers", work),
		slog.String("fanout", a.cfg.Fanout.Mode),
	)

	g, ctx := errgroup.WithContext(ctx)
	f := a.buildFanout(deps, serve)
	svcs := a.buildServices(deps, f.publisher)

	if f.hub != nil {
		g.Go(func() error { return ignoreCancel(ctx, f.hub.Run(ctx)) })
	}
	if f.relay != nil {
		g.Go(func() error { return ignoreCancel(ctx, f.relay.Run(ctx)) })
	}

	var trigger chan struct{}
	if work {
		trigger = make(chan struct{}, 1)
		orch := a.buildOrchestrator(deps, f.publisher, svcs, trigger)
		g.Go(func() error { return ignoreCancel(ctx, orch.Run(ctx)) })
	} else {
		// The orchestrator normally runs this; an API-only process still
		// has to expire idempotency keys.
		g.Go(func() error { return a.housekeep(ctx, svcs.dedup.Cleanup) })
	}

	if serve {
		a.startHTTPServer(ctx, g, deps, f, svcs, trigger)
	}

	return g.Wait()
}

func (a *App) buildOrchestrator(deps *Dependencies, publisher domain.EventPublisher, svcs services, trigger <-chan struct{}) *pipeline.Orchestrator {
	lc := a.cfg.Lifecycle
	sweeper := pipeline.NewSweeper(deps.Store, deps.LockManager, publisher, deps.AuctionCache, pipeline.SweeperConfig{
		EndingSoon: lc.EndingSoon.Duration,
		LockTTL:    lc.LockTTL.Duration,
	}, a.logger).WithTrigger(trigger)
	settler := pipeline.NewSettler(svcs.settlements, lc.SettleBatch, a.logger)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Store.Settlements(), deps.Archiver, a.cfg.Archive.Batch, a.logger)
	}

	return pipeline.NewOrchestrator(sweeper, settler, archiver, pipeline.Intervals{
		Sweep:        lc.SweepInterval.Duration,
		Settle:       lc.SettleInterval.Duration,
		Archive:      a.cfg.Archive.Interval.Duration,
		Housekeeping: time.Minute,
	}, a.logger, svcs.dedup.Cleanup)
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, f fanout, svcs services, trigger chan struct{}) {
	admin := handler.NewAdminHandler(svcs.settlements, a.logger)
	if trigger != nil {
		admin = admin.WithTriggerChannel(trigger)
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger, deps.HealthChecks),
		Bids:     handler.NewBidHandler(svcs.bids, svcs.dedup, a.logger),
		Wallets:  handler.NewWalletHandler(svcs.wallets, a.logger),
		Auctions: handler.NewAuctionHandler(svcs.auctions, a.logger),
		Admin:    admin,
		WS: ws.NewHandler(f.hub, svcs.auctions, ws.Options{
			SendBuffer:     a.cfg.Fanout.SendBuffer,
			ClientRate:     a.cfg.Fanout.ClientRate,
			ClientBurst:    a.cfg.Fanout.ClientBurst,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		}, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		ReadTimeout:   a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout:  a.cfg.Server.WriteTimeout.Duration,
		BidRateLimit:  a.cfg.Bidding.RateLimit,
		BidRateWindow: a.cfg.Bidding.RateWindow.Duration,
	}, handlers, deps.Verifier, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) housekeep(ctx context.Context, fn func()) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// ignoreCancel treats a loop that stopped because ctx ended as a clean exit.
func ignoreCancel(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("app: %w", err)
}
