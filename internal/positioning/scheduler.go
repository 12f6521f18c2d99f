// Package positioning runs the ad positioning loop: one goroutine per
// (merchant, asset, fiat, side) tuple fetching the market, deciding a
// target price, and republishing the merchant's ad when the move beats
// the hysteresis threshold.
package positioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"p2pmaker/internal/core"
	"p2pmaker/internal/pricing"
	"p2pmaker/internal/venue"
	apperrors "p2pmaker/pkg/errors"
	"p2pmaker/pkg/retry"
	"p2pmaker/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Phase is the observable position of a tuple loop inside its cycle.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseFetching   Phase = "FETCHING"
	PhaseDeciding   Phase = "DECIDING"
	PhasePublishing Phase = "PUBLISHING"
	PhaseError      Phase = "ERROR"
)

// Config bounds the scheduler's cycle and error backoff.
type Config struct {
	CycleInterval     time.Duration
	ErrorCooldownBase time.Duration
	ErrorCooldownMax  time.Duration
}

// DefaultConfig returns scheduler defaults.
func DefaultConfig() Config {
	return Config{
		CycleInterval:     15 * time.Second,
		ErrorCooldownBase: 5 * time.Second,
		ErrorCooldownMax:  5 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.CycleInterval <= 0 {
		return fmt.Errorf("positioning: cycle_interval must be positive")
	}
	if c.ErrorCooldownBase <= 0 || c.ErrorCooldownMax < c.ErrorCooldownBase {
		return fmt.Errorf("positioning: invalid error cooldown bounds")
	}
	return nil
}

// TupleStatus is a read-only snapshot of one tuple loop for the control
// surface.
type TupleStatus struct {
	Config        core.PositioningConfig `json:"config"`
	Phase         Phase                  `json:"phase"`
	State         core.TupleState        `json:"state"`
	Failures      int                    `json:"failures"`
	CooldownUntil time.Time              `json:"cooldownUntil,omitempty"`
}

type tupleRuntime struct {
	mu            sync.Mutex
	cfg           core.PositioningConfig
	phase         Phase
	state         core.TupleState
	failures      int
	cooldownUntil time.Time
}

// Scheduler drives all configured tuples. Tuples are independent: a
// venue failure on one never delays another.
type Scheduler struct {
	cfg        Config
	venues     map[string]core.IVenue
	stateStore core.ITupleStateStore
	logger     core.ILogger
	metrics    *telemetry.MetricsHolder

	runtimes map[string]*tupleRuntime

	onPublish func(tuple core.Tuple, decision core.PricingDecision)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for the given tuple configs.
func NewScheduler(cfg Config, tuples []core.PositioningConfig, venues map[string]core.IVenue, stateStore core.ITupleStateStore, logger core.ILogger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:        cfg,
		venues:     venues,
		stateStore: stateStore,
		logger:     logger.WithField("component", "positioning"),
		metrics:    telemetry.GetGlobalMetrics(),
		runtimes:   make(map[string]*tupleRuntime),
	}
	for _, tc := range tuples {
		if _, ok := venues[tc.MerchantID]; !ok {
			return nil, fmt.Errorf("positioning: tuple %s references unknown merchant", tc.Tuple())
		}
		key := tc.Tuple().String()
		if _, dup := s.runtimes[key]; dup {
			return nil, fmt.Errorf("positioning: duplicate tuple %s", key)
		}
		s.runtimes[key] = &tupleRuntime{
			cfg:   tc,
			phase: PhaseIdle,
			state: core.TupleState{Tuple: tc.Tuple()},
		}
	}
	return s, nil
}

// OnPricePublished registers a hook invoked after every successful ad
// price publish. Must be called before Start.
func (s *Scheduler) OnPricePublished(fn func(tuple core.Tuple, decision core.PricingDecision)) {
	s.onPublish = fn
}

// Start recovers persisted tuple state and launches one loop per tuple.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	// Recover every tuple before launching any loop, so a load failure
	// returns with nothing left running.
	for _, rt := range s.runtimes {
		persisted, err := s.stateStore.Load(ctx, rt.cfg.Tuple())
		if err != nil {
			s.cancel()
			return fmt.Errorf("positioning: load state for %s: %w", rt.cfg.Tuple(), err)
		}
		if persisted != nil {
			rt.state = *persisted
		}
	}
	for _, rt := range s.runtimes {
		s.wg.Add(1)
		go s.runTuple(rt)
	}
	s.logger.Info("Positioning scheduler started",
		"tuples", len(s.runtimes),
		"cycle_interval", s.cfg.CycleInterval.String())
	return nil
}

// Stop halts every tuple loop.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Positioning scheduler stopped")
	return nil
}

// Snapshot returns the current status of every tuple loop.
func (s *Scheduler) Snapshot() []TupleStatus {
	out := make([]TupleStatus, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		rt.mu.Lock()
		out = append(out, TupleStatus{
			Config:        rt.cfg,
			Phase:         rt.phase,
			State:         rt.state,
			Failures:      rt.failures,
			CooldownUntil: rt.cooldownUntil,
		})
		rt.mu.Unlock()
	}
	return out
}

func (s *Scheduler) runTuple(rt *tupleRuntime) {
	defer s.wg.Done()
	log := s.logger.WithField("tuple", rt.cfg.Tuple().String())

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		rt.mu.Lock()
		inCooldown := time.Now().Before(rt.cooldownUntil)
		rt.mu.Unlock()
		if inCooldown {
			continue
		}

		if err := s.runCycle(rt, log); err != nil {
			s.enterError(rt, log, err)
		} else {
			rt.mu.Lock()
			rt.phase = PhaseIdle
			rt.failures = 0
			rt.cooldownUntil = time.Time{}
			rt.mu.Unlock()
		}
	}
}

func (s *Scheduler) setPhase(rt *tupleRuntime, p Phase) {
	rt.mu.Lock()
	rt.phase = p
	rt.mu.Unlock()
}

// runCycle executes one FETCHING -> DECIDING -> PUBLISHING pass. A nil
// return includes skip outcomes (hysteresis, empty market); only venue
// and store failures propagate.
func (s *Scheduler) runCycle(rt *tupleRuntime, log core.ILogger) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CycleInterval)
	defer cancel()
	cfg := rt.cfg

	s.setPhase(rt, PhaseFetching)
	ads, err := s.venues[cfg.MerchantID].SearchAds(ctx, core.SearchAdsRequest{
		Asset:        cfg.Asset,
		FiatCurrency: cfg.FiatCurrency,
		Side:         venue.SearchSide(cfg.Side),
	})
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	s.setPhase(rt, PhaseDeciding)
	qualified := pricing.Qualify(ads, cfg)
	s.metrics.SetQualifiedCompetitors(cfg.Tuple().String(), int64(len(qualified)))

	decision, err := pricing.Select(qualified, ads, cfg)
	if errors.Is(err, apperrors.ErrNoMarketData) {
		// Keep the previously published price; never publish blind.
		s.metrics.PricingSkipsTotal.Add(ctx, 1)
		log.Warn("No market data, keeping published price")
		return nil
	}
	if err != nil {
		return fmt.Errorf("select price: %w", err)
	}

	rt.mu.Lock()
	published := rt.state.PublishedPrice
	hasPublished := !rt.state.UpdatedAt.IsZero()
	rt.mu.Unlock()

	if hasPublished && decision.TargetPrice.Sub(published).Abs().LessThan(cfg.MinPriceChange) {
		s.metrics.PricingSkipsTotal.Add(ctx, 1)
		s.metrics.PricingCyclesTotal.Add(ctx, 1)
		log.Debug("Within hysteresis threshold, not republishing",
			"target", decision.TargetPrice.String(),
			"published", published.String())
		s.saveDecision(ctx, rt, published, &decision, log)
		return nil
	}

	s.setPhase(rt, PhasePublishing)
	if err := s.venues[cfg.MerchantID].PublishAdPrice(ctx, cfg.MerchantID, cfg.OwnAdID, decision.TargetPrice); err != nil {
		return fmt.Errorf("publish price: %w", err)
	}

	s.metrics.AdPublishesTotal.Add(ctx, 1)
	s.metrics.PricingCyclesTotal.Add(ctx, 1)
	price, _ := decision.TargetPrice.Float64()
	s.metrics.SetPublishedPrice(cfg.Tuple().String(), price)
	log.Info("Published new price",
		"price", decision.TargetPrice.String(),
		"reference", decision.ReferenceCompetitorPrice.String(),
		"qualified", decision.QualifiedCompetitorCount)

	s.saveDecision(ctx, rt, decision.TargetPrice, &decision, log)
	if s.onPublish != nil {
		s.onPublish(cfg.Tuple(), decision)
	}
	return nil
}

// saveDecision persists the tuple state. published is the price that is
// actually live on the venue: the old price after a hysteresis skip, the
// new target after a publish.
func (s *Scheduler) saveDecision(ctx context.Context, rt *tupleRuntime, published decimal.Decimal, decision *core.PricingDecision, log core.ILogger) {
	rt.mu.Lock()
	rt.state.PublishedPrice = published
	rt.state.LastDecision = decision
	rt.state.UpdatedAt = time.Now()
	st := rt.state
	rt.mu.Unlock()

	if err := s.stateStore.Save(ctx, &st); err != nil {
		log.Error("Failed to persist tuple state", "error", err.Error())
	}
}

// enterError moves a tuple into ERROR with an exponential cooldown,
// stretched further when the venue supplied a Retry-After hint.
func (s *Scheduler) enterError(rt *tupleRuntime, log core.ILogger, cause error) {
	rt.mu.Lock()
	rt.phase = PhaseError
	rt.failures++
	cooldown := retry.BackoffDelay(s.cfg.ErrorCooldownBase, s.cfg.ErrorCooldownMax, rt.failures-1)
	if ra := venue.RetryAfter(cause); ra > cooldown {
		cooldown = ra
	}
	rt.cooldownUntil = time.Now().Add(cooldown)
	failures := rt.failures
	rt.mu.Unlock()

	log.Warn("Cycle failed, backing off",
		"failures", failures,
		"cooldown", cooldown.String(),
		"error", cause.Error())
}
