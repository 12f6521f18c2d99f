// Package core defines the domain model shared by all engine components.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an ad or order from the merchant's point of view.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// MatchMode controls how the target price relates to the benchmark
// competitor price.
type MatchMode string

const (
	MatchExact    MatchMode = "EXACT"
	MatchUndercut MatchMode = "UNDERCUT"
)

// CompetitorAd is an immutable snapshot of one competitor advertisement.
// Instances are created fresh on every fetch cycle and discarded after
// the cycle that produced them.
type CompetitorAd struct {
	AdvertiserID           string
	Nickname               string
	Side                   Side
	Price                  decimal.Decimal
	AvailableQuantity      decimal.Decimal
	CounterpartyOrderCount int
	FiatCurrency           string
	Asset                  string
}

// TradableFiatValue is the fiat value of the ad's remaining inventory.
// Quality thresholds are expressed in fiat because raw quantity units
// differ by orders of magnitude across assets.
func (a CompetitorAd) TradableFiatValue() decimal.Decimal {
	return a.Price.Mul(a.AvailableQuantity)
}

// PositioningConfig is the long-lived per-tuple configuration owned by a
// merchant. It is mutated only through explicit configuration updates.
type PositioningConfig struct {
	MerchantID                string          `json:"merchantId"`
	Asset                     string          `json:"asset"`
	FiatCurrency              string          `json:"fiatCurrency"`
	Side                      Side            `json:"side"`
	OwnAdID                   string          `json:"ownAdId"`
	OwnNickname               string          `json:"ownNickname"`
	MinCounterpartyOrderCount int             `json:"minCounterpartyOrderCount"`
	MinTradableFiatValue      decimal.Decimal `json:"minTradableFiatValue"`
	UndercutAmount            decimal.Decimal `json:"undercutAmount"`
	MatchMode                 MatchMode       `json:"matchMode"`
	// MinPriceChange is the hysteresis threshold: a new target closer
	// than this to the published price is not republished.
	MinPriceChange decimal.Decimal `json:"minPriceChange"`
}

// Tuple returns the scheduling tuple this config positions.
func (c PositioningConfig) Tuple() Tuple {
	return Tuple{
		MerchantID:   c.MerchantID,
		Asset:        c.Asset,
		FiatCurrency: c.FiatCurrency,
		Side:         c.Side,
	}
}

// Tuple identifies one independent scheduling unit.
type Tuple struct {
	MerchantID   string `json:"merchantId"`
	Asset        string `json:"asset"`
	FiatCurrency string `json:"fiatCurrency"`
	Side         Side   `json:"side"`
}

// String renders the tuple as a stable map key.
func (t Tuple) String() string {
	return t.MerchantID + "/" + t.Asset + "/" + t.FiatCurrency + "/" + string(t.Side)
}

// PricingDecision is the ephemeral output of one scheduler cycle.
// Invariant: QualifiedCompetitorCount == 0 implies TargetPrice equals
// ReferenceCompetitorPrice (best-available fallback, no undercut).
type PricingDecision struct {
	TargetPrice              decimal.Decimal `json:"targetPrice"`
	ReferenceCompetitorPrice decimal.Decimal `json:"referenceCompetitorPrice"`
	QualifiedCompetitorCount int             `json:"qualifiedCompetitorCount"`
	ComputedAt               time.Time       `json:"computedAt"`
}

// TupleState is the persisted per-tuple positioning record. It replaces
// any process-wide "current published price" global so that tuples run in
// parallel and survive restarts.
type TupleState struct {
	Tuple          Tuple            `json:"tuple"`
	PublishedPrice decimal.Decimal  `json:"publishedPrice"`
	LastDecision   *PricingDecision `json:"lastDecision,omitempty"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// SearchAdsRequest is the venue market-data query.
type SearchAdsRequest struct {
	Asset        string
	FiatCurrency string
	Side         Side // venue search-tab side, already inverted by the caller
	Page         int
	Rows         int
}

// PlaceOrderRequest is the venue order-placement call. IdempotencyToken
// is client-generated; a replayed request with the same token must not
// create a second order.
type PlaceOrderRequest struct {
	MerchantID       string
	Asset            string
	FiatCurrency     string
	Side             Side
	Amount           decimal.Decimal // fiat amount, zero when Quantity is set
	Quantity         decimal.Decimal // asset quantity, zero when Amount is set
	AdID             string          // optional counterparty ad to take
	IdempotencyToken string
}

// Order mirrors the venue's authoritative order record. Status is written
// only by the synchronizer after the venue confirms a new status.
type Order struct {
	OrderNumber    string          `json:"orderNumber"`
	MerchantID     string          `json:"merchantId"`
	Status         OrderStatus     `json:"status"`
	Side           Side            `json:"side"`
	CounterpartyID string          `json:"counterpartyId"`
	Asset          string          `json:"asset"`
	FiatCurrency   string          `json:"fiatCurrency"`
	Amount         decimal.Decimal `json:"amount"`
	Price          decimal.Decimal `json:"price"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastSyncedAt   time.Time       `json:"lastSyncedAt"`
}
