// Package core defines the core interfaces for the market-making engine.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IVenue defines the trading venue surface the engine consumes. All
// calls are scoped by merchant; a slow or failed call for one tuple must
// never block another, so implementations carry bounded timeouts.
type IVenue interface {
	// SearchAds queries the public ad listings. The request side is the
	// venue search-tab side; callers invert their own ad side first (see
	// venue.SearchSide). Safe to retry; no response ordering is assumed.
	SearchAds(ctx context.Context, req SearchAdsRequest) ([]CompetitorAd, error)

	// PublishAdPrice republishes the merchant's ad at a new price.
	// Idempotent at the venue but still consumes a rate-limit call.
	PublishAdPrice(ctx context.Context, merchantID, adID string, price decimal.Decimal) error

	// PlaceOrder places a counter-order. The idempotency token in the
	// request makes a replayed call return the original order instead of
	// creating a second one.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error)

	// GetOrder returns the venue's current view of one order.
	GetOrder(ctx context.Context, merchantID, orderNumber string) (*Order, error)

	// ListOrders returns the merchant's orders updated since the given
	// time, for reconciliation sweeps.
	ListOrders(ctx context.Context, merchantID string, since time.Time) ([]Order, error)
}

// IDispatchStore persists dispatches. Every query is scoped by merchant;
// cross-merchant leakage is a correctness violation.
type IDispatchStore interface {
	Create(ctx context.Context, d *Dispatch) error
	Get(ctx context.Context, merchantID, id string) (*Dispatch, error)
	Update(ctx context.Context, d *Dispatch) error
	ListByState(ctx context.Context, merchantID string, state DispatchState) ([]*Dispatch, error)
	// ListDue returns non-terminal dispatches whose next attempt is due.
	ListDue(ctx context.Context, merchantID string, now time.Time) ([]*Dispatch, error)
}

// IOrderStore persists the local order cache. Status is written only by
// the synchronizer.
type IOrderStore interface {
	Upsert(ctx context.Context, o *Order) error
	Get(ctx context.Context, merchantID, orderNumber string) (*Order, error)
	List(ctx context.Context, merchantID string, status OrderStatus, since time.Time) ([]*Order, error)
}

// ITupleStateStore persists per-tuple positioning state for hysteresis
// checks and restart recovery.
type ITupleStateStore interface {
	Save(ctx context.Context, st *TupleState) error
	Load(ctx context.Context, t Tuple) (*TupleState, error)
	LoadAll(ctx context.Context, merchantID string) ([]*TupleState, error)
}

// IDispatchQueue is the operator-facing dispatch surface.
type IDispatchQueue interface {
	Enqueue(ctx context.Context, merchantID string, intent BuyIntent) (*Dispatch, error)
	Retry(ctx context.Context, merchantID, dispatchID string) error
	Cancel(ctx context.Context, merchantID, dispatchID string) error
	ResetAttempts(ctx context.Context, merchantID, dispatchID string) error
}

// ISynchronizer reconciles the local order cache with the venue.
type ISynchronizer interface {
	Start(ctx context.Context) error
	Stop() error
	SyncOrder(ctx context.Context, merchantID, orderNumber string) error
	SyncMerchant(ctx context.Context, merchantID string) error
}

// IHealthMonitor defines the interface for health monitoring.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
