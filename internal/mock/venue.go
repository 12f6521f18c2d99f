// Package mock provides scriptable implementations of the core
// interfaces for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"p2pmaker/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Venue implements the core.IVenue interface with scriptable responses.
// It replays the same order for a repeated idempotency token, mirroring
// the venue's dedup behavior.
type Venue struct {
	mu sync.Mutex

	ads    []core.CompetitorAd
	orders map[string]*core.Order // orderNumber -> order

	byToken map[string]string // idempotency token -> orderNumber

	nextErr      error // returned by the next call, then cleared
	alwaysErr    error // returned by every call until cleared
	persistToken bool  // record the token even when nextErr fires

	onPlace func(req core.PlaceOrderRequest)

	PublishedPrices []decimal.Decimal
	PlaceCalls      int
	SearchCalls     int
}

// NewVenue creates an empty scriptable venue.
func NewVenue() *Venue {
	return &Venue{
		orders:  make(map[string]*core.Order),
		byToken: make(map[string]string),
	}
}

// SetAds replaces the ad snapshot returned by SearchAds.
func (v *Venue) SetAds(ads []core.CompetitorAd) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ads = ads
}

// FailNextWith makes the next venue call return err.
func (v *Venue) FailNextWith(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextErr = err
	v.persistToken = false
}

// FailAlwaysWith makes every venue call return err until cleared with a
// nil argument.
func (v *Venue) FailAlwaysWith(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alwaysErr = err
}

// FailNextPlaceAmbiguously makes the next PlaceOrder fail with err after
// the order was actually created, simulating a lost response.
func (v *Venue) FailNextPlaceAmbiguously(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextErr = err
	v.persistToken = true
}

// OnPlace registers a hook invoked at the start of every PlaceOrder
// call, outside the venue lock, so tests can hold attempts in flight.
func (v *Venue) OnPlace(fn func(req core.PlaceOrderRequest)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onPlace = fn
}

// SetOrder seeds or overwrites an order.
func (v *Venue) SetOrder(o *core.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := *o
	v.orders[o.OrderNumber] = &cp
}

// PublishCount returns how many prices were published.
func (v *Venue) PublishCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.PublishedPrices)
}

// LastPublished returns the most recent published price.
func (v *Venue) LastPublished() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.PublishedPrices) == 0 {
		return decimal.Zero
	}
	return v.PublishedPrices[len(v.PublishedPrices)-1]
}

// SearchCount returns how many ad searches were served.
func (v *Venue) SearchCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.SearchCalls
}

// OrderCount returns the number of venue-side orders.
func (v *Venue) OrderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.orders)
}

func (v *Venue) takeErr() error {
	if v.alwaysErr != nil {
		return v.alwaysErr
	}
	err := v.nextErr
	v.nextErr = nil
	return err
}

func (v *Venue) SearchAds(_ context.Context, _ core.SearchAdsRequest) ([]core.CompetitorAd, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.SearchCalls++
	if err := v.takeErr(); err != nil {
		return nil, err
	}
	out := make([]core.CompetitorAd, len(v.ads))
	copy(out, v.ads)
	return out, nil
}

func (v *Venue) PublishAdPrice(_ context.Context, _, _ string, price decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeErr(); err != nil {
		return err
	}
	v.PublishedPrices = append(v.PublishedPrices, price)
	return nil
}

func (v *Venue) PlaceOrder(_ context.Context, req core.PlaceOrderRequest) (*core.Order, error) {
	v.mu.Lock()
	hook := v.onPlace
	v.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.PlaceCalls++

	if existing, ok := v.byToken[req.IdempotencyToken]; ok {
		if err := v.takeErr(); err != nil {
			return nil, err
		}
		cp := *v.orders[existing]
		return &cp, nil
	}

	if err := v.takeErr(); err != nil {
		if v.persistToken {
			// The order exists venue-side even though the caller never
			// saw the response.
			o := v.createOrderLocked(req)
			v.byToken[req.IdempotencyToken] = o.OrderNumber
			v.persistToken = false
		}
		return nil, err
	}

	o := v.createOrderLocked(req)
	v.byToken[req.IdempotencyToken] = o.OrderNumber
	cp := *o
	return &cp, nil
}

func (v *Venue) createOrderLocked(req core.PlaceOrderRequest) *core.Order {
	o := &core.Order{
		OrderNumber:  "ORD-" + uuid.New().String()[:8],
		MerchantID:   req.MerchantID,
		Status:       core.OrderStatusCreated,
		Side:         req.Side,
		Asset:        req.Asset,
		FiatCurrency: req.FiatCurrency,
		Amount:       req.Amount,
		CreatedAt:    time.Now(),
	}
	v.orders[o.OrderNumber] = o
	return o
}

func (v *Venue) GetOrder(_ context.Context, _, orderNumber string) (*core.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeErr(); err != nil {
		return nil, err
	}
	o, ok := v.orders[orderNumber]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderNumber)
	}
	cp := *o
	return &cp, nil
}

func (v *Venue) ListOrders(_ context.Context, merchantID string, since time.Time) ([]core.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeErr(); err != nil {
		return nil, err
	}
	var out []core.Order
	for _, o := range v.orders {
		if o.MerchantID != merchantID {
			continue
		}
		if !since.IsZero() && o.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}
