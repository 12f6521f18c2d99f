// Package dispatch implements the auto-buy queue: durable buy intents
// driven through PENDING -> RUNNING -> {SUCCEEDED | RETRYING | DEAD}
// with bounded attempts and per-merchant bounded concurrency.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"p2pmaker/internal/core"
	"p2pmaker/internal/venue"
	"p2pmaker/pkg/concurrency"
	apperrors "p2pmaker/pkg/errors"
	"p2pmaker/pkg/retry"
	"p2pmaker/pkg/telemetry"

	"github.com/google/uuid"
)

// Config bounds the queue's retry and concurrency behavior.
type Config struct {
	MaxAttempts           int
	BaseBackoff           time.Duration
	MaxBackoff            time.Duration
	PollInterval          time.Duration
	MaxConcurrentPerMerch int
	PoolWorkers           int
}

// DefaultConfig returns queue defaults suitable for one venue API key.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:           5,
		BaseBackoff:           2 * time.Second,
		MaxBackoff:            2 * time.Minute,
		PollInterval:          time.Second,
		MaxConcurrentPerMerch: 2,
		PoolWorkers:           8,
	}
}

func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch: max_attempts must be positive")
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("dispatch: invalid backoff bounds")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("dispatch: poll_interval must be positive")
	}
	if c.MaxConcurrentPerMerch <= 0 {
		return fmt.Errorf("dispatch: max_concurrent_per_merchant must be positive")
	}
	return nil
}

// Queue implements the core.IDispatchQueue interface. Attempts for one
// dispatch are strictly sequential; distinct dispatches of one merchant
// run concurrently up to the per-merchant bound.
type Queue struct {
	cfg     Config
	store   core.IDispatchStore
	venues  map[string]core.IVenue
	pool    *concurrency.WorkerPool
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	// onOrderPlaced is invoked after a successful placement so the
	// synchronizer picks the new order up without waiting a full poll.
	onOrderPlaced func(merchantID, orderNumber string)

	mu       sync.Mutex
	inFlight map[string]bool          // dispatch ID claimed by a worker
	sems     map[string]chan struct{} // per-merchant concurrency bound

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a dispatch queue over the given per-merchant venues.
func NewQueue(cfg Config, store core.IDispatchStore, venues map[string]core.IVenue, logger core.ILogger) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q := &Queue{
		cfg:      cfg,
		store:    store,
		venues:   venues,
		logger:   logger.WithField("component", "dispatch_queue"),
		metrics:  telemetry.GetGlobalMetrics(),
		inFlight: make(map[string]bool),
		sems:     make(map[string]chan struct{}),
	}
	q.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "dispatch",
		MaxWorkers:  cfg.PoolWorkers,
		NonBlocking: true,
	}, logger)
	for merchantID := range venues {
		q.sems[merchantID] = make(chan struct{}, cfg.MaxConcurrentPerMerch)
	}
	return q, nil
}

// OnOrderPlaced registers the post-success hook. Must be called before
// Start.
func (q *Queue) OnOrderPlaced(fn func(merchantID, orderNumber string)) {
	q.onOrderPlaced = fn
}

// Start begins polling for due dispatches.
func (q *Queue) Start(ctx context.Context) error {
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go q.pollLoop()
	q.logger.Info("Dispatch queue started",
		"max_attempts", q.cfg.MaxAttempts,
		"poll_interval", q.cfg.PollInterval.String())
	return nil
}

// Stop drains workers and stops polling.
func (q *Queue) Stop() error {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	q.pool.Stop()
	q.logger.Info("Dispatch queue stopped")
	return nil
}

// Enqueue validates and persists a new buy intent in PENDING, due
// immediately. The idempotency token is fixed at creation and reused on
// every attempt so venue-side replays cannot double-order.
func (q *Queue) Enqueue(ctx context.Context, merchantID string, intent core.BuyIntent) (*core.Dispatch, error) {
	if _, ok := q.venues[merchantID]; !ok {
		return nil, fmt.Errorf("enqueue: unknown merchant %s", merchantID)
	}
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidationRejected, err)
	}

	now := time.Now()
	d := &core.Dispatch{
		ID:               uuid.New().String(),
		MerchantID:       merchantID,
		Intent:           intent,
		State:            core.DispatchPending,
		IdempotencyToken: uuid.New().String(),
		NextAttemptAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := q.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	q.logger.Info("Dispatch enqueued",
		"dispatch_id", d.ID,
		"merchant", merchantID,
		"intent_type", string(intent.Type),
		"asset", intent.Asset)
	q.refreshActiveGauge(ctx, merchantID)
	return d, nil
}

// Retry re-arms a dispatch for an immediate attempt. Permitted from DEAD
// (the one allowed exit) and from RETRYING, where it only pulls the next
// attempt forward. The attempt count is never reset here.
func (q *Queue) Retry(ctx context.Context, merchantID, dispatchID string) error {
	return q.mutate(ctx, merchantID, dispatchID, func(d *core.Dispatch) error {
		switch d.State {
		case core.DispatchDead:
			if !core.CanTransitionDispatch(d.State, core.DispatchRetrying) {
				return fmt.Errorf("dispatch %s: cannot retry from %s", d.ID, d.State)
			}
			d.State = core.DispatchRetrying
		case core.DispatchRetrying:
			// already armed, just make it due now
		default:
			return fmt.Errorf("dispatch %s: cannot retry from %s", d.ID, d.State)
		}
		d.NextAttemptAt = time.Now()
		return nil
	})
}

// Cancel moves a dispatch to CANCELLED. Only PENDING and RETRYING may be
// cancelled; a RUNNING attempt is never interrupted mid-flight.
func (q *Queue) Cancel(ctx context.Context, merchantID, dispatchID string) error {
	return q.mutate(ctx, merchantID, dispatchID, func(d *core.Dispatch) error {
		if !core.CanTransitionDispatch(d.State, core.DispatchCancelled) {
			return fmt.Errorf("dispatch %s: cannot cancel from %s", d.ID, d.State)
		}
		d.State = core.DispatchCancelled
		return nil
	})
}

// ResetAttempts zeroes the attempt counter of a DEAD or RETRYING
// dispatch so a subsequent Retry gets the full budget again.
func (q *Queue) ResetAttempts(ctx context.Context, merchantID, dispatchID string) error {
	return q.mutate(ctx, merchantID, dispatchID, func(d *core.Dispatch) error {
		if d.State != core.DispatchDead && d.State != core.DispatchRetrying {
			return fmt.Errorf("dispatch %s: cannot reset attempts from %s", d.ID, d.State)
		}
		d.AttemptCount = 0
		return nil
	})
}

// mutate applies fn to a freshly loaded dispatch under the in-flight
// guard, so operator actions never race a worker's attempt.
func (q *Queue) mutate(ctx context.Context, merchantID, dispatchID string, fn func(*core.Dispatch) error) error {
	if !q.claim(dispatchID) {
		return fmt.Errorf("dispatch %s: attempt in flight", dispatchID)
	}
	defer q.release(dispatchID)

	d, err := q.store.Get(ctx, merchantID, dispatchID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("dispatch %s: not found", dispatchID)
	}
	if err := fn(d); err != nil {
		return err
	}
	d.UpdatedAt = time.Now()
	if err := q.store.Update(ctx, d); err != nil {
		return err
	}
	q.refreshActiveGauge(ctx, merchantID)
	return nil
}

func (q *Queue) pollLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatchDue()
		}
	}
}

func (q *Queue) dispatchDue() {
	now := time.Now()
	for merchantID := range q.venues {
		due, err := q.store.ListDue(q.ctx, merchantID, now)
		if err != nil {
			q.logger.Error("Failed to list due dispatches", "merchant", merchantID, "error", err.Error())
			continue
		}
		for _, d := range due {
			if !q.claim(d.ID) {
				continue
			}
			dispatch := d
			if err := q.pool.Submit(func() {
				defer q.release(dispatch.ID)
				q.attempt(dispatch.MerchantID, dispatch.ID)
			}); err != nil {
				q.release(dispatch.ID)
				q.logger.Warn("Dispatch pool full, deferring", "dispatch_id", dispatch.ID)
			}
		}
	}
}

// attempt runs exactly one placement attempt for one dispatch. The
// caller holds the in-flight claim.
func (q *Queue) attempt(merchantID, dispatchID string) {
	sem := q.sems[merchantID]
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-q.ctx.Done():
		return
	}

	ctx := q.ctx
	d, err := q.store.Get(ctx, merchantID, dispatchID)
	if err != nil || d == nil {
		q.logger.Error("Failed to load dispatch for attempt", "dispatch_id", dispatchID, "error", fmt.Sprint(err))
		return
	}
	if !core.CanTransitionDispatch(d.State, core.DispatchRunning) {
		return
	}

	d.State = core.DispatchRunning
	d.AttemptCount++
	d.UpdatedAt = time.Now()
	if err := q.store.Update(ctx, d); err != nil {
		q.logger.Error("Failed to mark dispatch running", "dispatch_id", d.ID, "error", err.Error())
		return
	}
	q.metrics.DispatchAttemptsTotal.Add(ctx, 1)

	log := q.logger.WithField("dispatch_id", d.ID).WithField("merchant", merchantID)
	log.Info("Placing order", "attempt", d.AttemptCount, "intent_type", string(d.Intent.Type))

	order, placeErr := q.venues[merchantID].PlaceOrder(ctx, core.PlaceOrderRequest{
		MerchantID:       merchantID,
		Asset:            d.Intent.Asset,
		FiatCurrency:     d.Intent.FiatCurrency,
		Side:             core.SideBuy,
		Amount:           d.Intent.Amount,
		Quantity:         d.Intent.Quantity,
		AdID:             d.Intent.AdID,
		IdempotencyToken: d.IdempotencyToken,
	})

	if placeErr == nil {
		d.State = core.DispatchSucceeded
		d.OrderNumber = order.OrderNumber
		d.LastError = ""
		d.UpdatedAt = time.Now()
		if err := q.store.Update(ctx, d); err != nil {
			log.Error("Failed to persist succeeded dispatch", "error", err.Error())
			return
		}
		log.Info("Order placed", "order_number", order.OrderNumber, "attempts", d.AttemptCount)
		q.refreshActiveGauge(ctx, merchantID)
		if q.onOrderPlaced != nil {
			q.onOrderPlaced(merchantID, order.OrderNumber)
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown mid-attempt: leave the dispatch re-armed; the token
		// makes the replay safe.
		d.State = core.DispatchRetrying
		d.LastError = placeErr.Error()
		d.NextAttemptAt = time.Now()
		d.UpdatedAt = time.Now()
		_ = q.store.Update(context.Background(), d)
		return
	}

	d.LastError = placeErr.Error()
	if apperrors.IsRetryable(placeErr) && d.AttemptCount < q.cfg.MaxAttempts {
		delay := retry.BackoffDelay(q.cfg.BaseBackoff, q.cfg.MaxBackoff, d.AttemptCount-1)
		if ra := venue.RetryAfter(placeErr); ra > delay {
			delay = ra
		}
		d.State = core.DispatchRetrying
		d.NextAttemptAt = time.Now().Add(delay)
		log.Warn("Attempt failed, will retry",
			"attempt", d.AttemptCount,
			"next_in", delay.String(),
			"error", placeErr.Error())
	} else {
		d.State = core.DispatchDead
		q.metrics.DispatchDeadTotal.Add(ctx, 1)
		log.Error("Dispatch dead",
			"attempts", d.AttemptCount,
			"retryable", apperrors.IsRetryable(placeErr),
			"error", placeErr.Error())
	}
	d.UpdatedAt = time.Now()
	if err := q.store.Update(ctx, d); err != nil {
		log.Error("Failed to persist dispatch state", "error", err.Error())
	}
	q.refreshActiveGauge(ctx, merchantID)
}

func (q *Queue) claim(dispatchID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight[dispatchID] {
		return false
	}
	q.inFlight[dispatchID] = true
	return true
}

func (q *Queue) release(dispatchID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, dispatchID)
}

func (q *Queue) refreshActiveGauge(ctx context.Context, merchantID string) {
	var active int64
	for _, st := range []core.DispatchState{core.DispatchPending, core.DispatchRunning, core.DispatchRetrying} {
		ds, err := q.store.ListByState(ctx, merchantID, st)
		if err != nil {
			return
		}
		active += int64(len(ds))
	}
	q.metrics.SetActiveDispatches(merchantID, active)
}
