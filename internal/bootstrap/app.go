// Package bootstrap wires the engine components together and manages
// their lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"p2pmaker/internal/config"
	"p2pmaker/internal/control"
	"p2pmaker/internal/core"
	"p2pmaker/internal/dispatch"
	"p2pmaker/internal/health"
	"p2pmaker/internal/ordersync"
	"p2pmaker/internal/positioning"
	"p2pmaker/internal/storage"
	"p2pmaker/internal/venue"
	apperrors "p2pmaker/pkg/errors"
	"p2pmaker/pkg/retry"
	"p2pmaker/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// App owns every engine component and drives startup and shutdown.
type App struct {
	cfg    *config.Config
	logger core.ILogger

	db        *storage.DB
	telemetry *telemetry.Telemetry

	venues       map[string]core.IVenue
	queue        *dispatch.Queue
	synchronizer *ordersync.Synchronizer
	scheduler    *positioning.Scheduler
	server       *control.Server
	hub          *control.Hub
	healthMon    *health.Monitor
}

// New builds the full component graph from configuration.
func New(cfg *config.Config, logger core.ILogger) (*App, error) {
	app := &App{
		cfg:    cfg,
		logger: logger,
		venues: make(map[string]core.IVenue),
	}

	if cfg.Telemetry.Enabled {
		tel, err := telemetry.Setup(cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("setup telemetry: %w", err)
		}
		app.telemetry = tel
	}

	var (
		dispatchStore core.IDispatchStore
		orderStore    core.IOrderStore
		tupleStore    core.ITupleStateStore
	)
	if cfg.Database.Path != "" {
		db, err := storage.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		app.db = db
		dispatchStore = storage.NewSQLiteDispatchStore(db)
		orderStore = storage.NewSQLiteOrderStore(db)
		tupleStore = storage.NewSQLiteTupleStateStore(db)
		logger.Info("Using SQLite persistence", "path", cfg.Database.Path)
	} else {
		dispatchStore = storage.NewMemoryDispatchStore()
		orderStore = storage.NewMemoryOrderStore()
		tupleStore = storage.NewMemoryTupleStateStore()
		logger.Warn("No database path configured, state will not survive restarts")
	}

	for _, m := range cfg.Merchants {
		signer := venue.NewSigner(m.APIKey, m.SecretKey)
		app.venues[m.ID] = venue.NewClient(m.ID, cfg.Venue.BaseURL, cfg.Venue.Timeout(), signer, logger)
	}

	queue, err := dispatch.NewQueue(cfg.Dispatch.ToConfig(), dispatchStore, app.venues, logger)
	if err != nil {
		return nil, err
	}
	app.queue = queue

	sync, err := ordersync.NewSynchronizer(cfg.Sync.ToConfig(), app.venues, orderStore, logger)
	if err != nil {
		return nil, err
	}
	app.synchronizer = sync

	// Freshly placed orders enter the cache without waiting a poll. The
	// venue may not expose a just-created order immediately, so transient
	// failures get a few quick retries.
	queue.OnOrderPlaced(func(merchantID, orderNumber string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsRetryable, func() error {
			return sync.SyncOrder(ctx, merchantID, orderNumber)
		})
		if err != nil {
			logger.Warn("Post-placement sync failed",
				"merchant", merchantID,
				"order_number", orderNumber,
				"error", err.Error())
		}
	})

	scheduler, err := positioning.NewScheduler(cfg.Positioning.ToConfig(), cfg.PositioningTuples(), app.venues, tupleStore, logger)
	if err != nil {
		return nil, err
	}
	app.scheduler = scheduler

	app.healthMon = health.NewMonitor(logger)
	if app.db != nil {
		app.healthMon.Register("database", app.db.Ping)
	}

	app.hub = control.NewHub(logger)

	scheduler.OnPricePublished(func(tuple core.Tuple, decision core.PricingDecision) {
		app.hub.Broadcast(control.NewPriceEventMessage(map[string]interface{}{
			"tuple":    tuple.String(),
			"decision": decision,
		}))
	})
	sync.OnOrderUpdated(func(order *core.Order) {
		app.hub.Broadcast(control.NewOrderEventMessage(order))
	})

	app.server = control.NewServer(control.Config{
		ListenAddr:     cfg.Control.ListenAddr,
		MaxConnections: cfg.Control.MaxConnections,
		RateLimitPerIP: cfg.Control.RateLimitPerIP,
		RateBurstPerIP: cfg.Control.RateBurstPerIP,
	}, app.hub, queue, dispatchStore, orderStore, scheduler, sync, app.healthMon, logger)

	return app, nil
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.server.Start(ctx)
	})

	if err := a.queue.Start(ctx); err != nil {
		return fmt.Errorf("start dispatch queue: %w", err)
	}
	if err := a.synchronizer.Start(ctx); err != nil {
		return fmt.Errorf("start synchronizer: %w", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start positioning scheduler: %w", err)
	}

	a.logger.Info("Engine running",
		"merchants", len(a.venues),
		"tuples", len(a.cfg.Tuples),
		"control_addr", a.cfg.Control.ListenAddr)

	<-ctx.Done()
	a.shutdown()
	return g.Wait()
}

func (a *App) shutdown() {
	a.logger.Info("Shutting down")

	if err := a.scheduler.Stop(); err != nil {
		a.logger.Error("Scheduler stop failed", "error", err.Error())
	}
	if err := a.queue.Stop(); err != nil {
		a.logger.Error("Dispatch queue stop failed", "error", err.Error())
	}
	if err := a.synchronizer.Stop(); err != nil {
		a.logger.Error("Synchronizer stop failed", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Error("Control server stop failed", "error", err.Error())
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Telemetry shutdown failed", "error", err.Error())
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Database close failed", "error", err.Error())
		}
	}
}
