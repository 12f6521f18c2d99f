package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// IntentType tags the supported buy-intent variants. Unknown shapes are
// rejected at the queue boundary before a Dispatch is persisted.
type IntentType string

const (
	// IntentFixedAmount buys a fixed fiat amount of the asset.
	IntentFixedAmount IntentType = "FIXED_AMOUNT"
	// IntentFixedQuantity buys a fixed asset quantity.
	IntentFixedQuantity IntentType = "FIXED_QUANTITY"
)

// BuyIntent is a request to place a counter-order. Exactly one of Amount
// or Quantity is set, selected by Type.
type BuyIntent struct {
	Type         IntentType      `json:"type"`
	Asset        string          `json:"asset"`
	FiatCurrency string          `json:"fiatCurrency"`
	Amount       decimal.Decimal `json:"amount,omitempty"`
	Quantity     decimal.Decimal `json:"quantity,omitempty"`
	AdID         string          `json:"adId,omitempty"`
}

// Validate checks the intent against its tagged-variant schema.
func (i BuyIntent) Validate() error {
	if i.Asset == "" {
		return fmt.Errorf("intent: asset is required")
	}
	if i.FiatCurrency == "" {
		return fmt.Errorf("intent: fiat currency is required")
	}
	switch i.Type {
	case IntentFixedAmount:
		if !i.Amount.IsPositive() {
			return fmt.Errorf("intent: fixed-amount intent requires a positive amount")
		}
		if !i.Quantity.IsZero() {
			return fmt.Errorf("intent: fixed-amount intent must not set quantity")
		}
	case IntentFixedQuantity:
		if !i.Quantity.IsPositive() {
			return fmt.Errorf("intent: fixed-quantity intent requires a positive quantity")
		}
		if !i.Amount.IsZero() {
			return fmt.Errorf("intent: fixed-quantity intent must not set amount")
		}
	default:
		return fmt.Errorf("intent: unknown intent type %q", i.Type)
	}
	return nil
}

// Dispatch tracks one buy intent through the retry state machine. It is
// mutated only by the dispatch queue; a dispatch that reaches SUCCEEDED
// is linked 1:1 to exactly one Order by OrderNumber.
type Dispatch struct {
	ID               string        `json:"id"`
	MerchantID       string        `json:"merchantId"`
	Intent           BuyIntent     `json:"intent"`
	State            DispatchState `json:"state"`
	AttemptCount     int           `json:"attemptCount"`
	LastError        string        `json:"lastError,omitempty"`
	IdempotencyToken string        `json:"idempotencyToken"`
	OrderNumber      string        `json:"orderNumber,omitempty"`
	NextAttemptAt    time.Time     `json:"nextAttemptAt"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}
