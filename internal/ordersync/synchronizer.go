// Package ordersync reconciles the local order cache with the venue.
// The venue is authoritative; the local cache only ever moves forward
// along the order state machine.
package ordersync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"p2pmaker/internal/core"
	apperrors "p2pmaker/pkg/errors"
	"p2pmaker/pkg/telemetry"
)

// Config bounds the synchronizer's polling behavior.
type Config struct {
	PollInterval   time.Duration
	LookbackWindow time.Duration
}

// DefaultConfig returns synchronizer defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   30 * time.Second,
		LookbackWindow: 24 * time.Hour,
	}
}

func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("ordersync: poll_interval must be positive")
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("ordersync: lookback_window must be positive")
	}
	return nil
}

// Synchronizer implements the core.ISynchronizer interface.
type Synchronizer struct {
	cfg     Config
	venues  map[string]core.IVenue
	store   core.IOrderStore
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	onUpdate func(order *core.Order)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSynchronizer creates a synchronizer over the given per-merchant
// venues and the shared order cache.
func NewSynchronizer(cfg Config, venues map[string]core.IVenue, store core.IOrderStore, logger core.ILogger) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Synchronizer{
		cfg:     cfg,
		venues:  venues,
		store:   store,
		logger:  logger.WithField("component", "order_sync"),
		metrics: telemetry.GetGlobalMetrics(),
	}, nil
}

// OnOrderUpdated registers a hook invoked whenever a cache entry is
// created or its status advances. Must be called before Start.
func (s *Synchronizer) OnOrderUpdated(fn func(order *core.Order)) {
	s.onUpdate = fn
}

// Start begins the periodic reconciliation loop.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("Order synchronizer started",
		"poll_interval", s.cfg.PollInterval.String(),
		"merchants", len(s.venues))
	return nil
}

// Stop halts the loop and waits for the current pass to finish.
func (s *Synchronizer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Order synchronizer stopped")
	return nil
}

func (s *Synchronizer) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for merchantID := range s.venues {
				// One merchant's outage must not starve the others.
				if err := s.SyncMerchant(s.ctx, merchantID); err != nil {
					s.logger.Warn("Merchant sync pass failed",
						"merchant", merchantID, "error", err.Error())
				}
			}
		}
	}
}

// SyncMerchant reconciles every order the venue reports as updated
// within the lookback window. An upstream failure leaves the cache
// untouched.
func (s *Synchronizer) SyncMerchant(ctx context.Context, merchantID string) error {
	v, ok := s.venues[merchantID]
	if !ok {
		return fmt.Errorf("sync: unknown merchant %s", merchantID)
	}

	since := time.Now().Add(-s.cfg.LookbackWindow)
	orders, err := v.ListOrders(ctx, merchantID, since)
	if err != nil {
		return fmt.Errorf("sync merchant %s: %w", merchantID, err)
	}
	s.metrics.SyncPassesTotal.Add(ctx, 1)

	for i := range orders {
		if err := s.apply(ctx, &orders[i]); err != nil {
			s.logger.Error("Failed to apply order update",
				"merchant", merchantID,
				"order_number", orders[i].OrderNumber,
				"error", err.Error())
		}
	}
	return nil
}

// SyncOrder reconciles a single order immediately, used right after a
// dispatch places it.
func (s *Synchronizer) SyncOrder(ctx context.Context, merchantID, orderNumber string) error {
	v, ok := s.venues[merchantID]
	if !ok {
		return fmt.Errorf("sync: unknown merchant %s", merchantID)
	}
	order, err := v.GetOrder(ctx, merchantID, orderNumber)
	if err != nil {
		return fmt.Errorf("sync order %s: %w", orderNumber, err)
	}
	return s.apply(ctx, order)
}

// apply merges one venue order into the cache, enforcing forward-only
// status movement. A venue response that would move a status backwards
// is rejected and surfaced as an anomaly; the cache keeps the later
// status.
func (s *Synchronizer) apply(ctx context.Context, remote *core.Order) error {
	cached, err := s.store.Get(ctx, remote.MerchantID, remote.OrderNumber)
	if err != nil {
		return err
	}

	now := time.Now()
	if cached == nil {
		// Order placed outside the engine (or before its cache existed).
		remote.LastSyncedAt = now
		s.logger.Info("Discovered order",
			"merchant", remote.MerchantID,
			"order_number", remote.OrderNumber,
			"status", string(remote.Status))
		if err := s.store.Upsert(ctx, remote); err != nil {
			return err
		}
		if s.onUpdate != nil {
			s.onUpdate(remote)
		}
		return nil
	}

	if cached.Status == remote.Status {
		cached.LastSyncedAt = now
		return s.store.Upsert(ctx, cached)
	}

	if !core.CanTransitionOrder(cached.Status, remote.Status) {
		s.metrics.SyncAnomaliesTotal.Add(ctx, 1)
		s.logger.Error("Rejected backwards order status",
			"merchant", remote.MerchantID,
			"order_number", remote.OrderNumber,
			"cached_status", string(cached.Status),
			"venue_status", string(remote.Status))
		return fmt.Errorf("order %s: venue status %s would regress cached %s: %w",
			remote.OrderNumber, remote.Status, cached.Status, apperrors.ErrValidationRejected)
	}

	s.logger.Info("Order status advanced",
		"merchant", remote.MerchantID,
		"order_number", remote.OrderNumber,
		"from", string(cached.Status),
		"to", string(remote.Status))
	remote.LastSyncedAt = now
	if err := s.store.Upsert(ctx, remote); err != nil {
		return err
	}
	if s.onUpdate != nil {
		s.onUpdate(remote)
	}
	return nil
}
