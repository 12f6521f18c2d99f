package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBuyIntentValidateFixedAmount(t *testing.T) {
	intent := BuyIntent{
		Type:         IntentFixedAmount,
		Asset:        "USDT",
		FiatCurrency: "EUR",
		Amount:       decimal.RequireFromString("100"),
	}
	assert.NoError(t, intent.Validate())

	intent.Quantity = decimal.RequireFromString("5")
	assert.Error(t, intent.Validate(), "fixed-amount must not carry a quantity")

	intent.Quantity = decimal.Zero
	intent.Amount = decimal.Zero
	assert.Error(t, intent.Validate(), "amount must be positive")
}

func TestBuyIntentValidateFixedQuantity(t *testing.T) {
	intent := BuyIntent{
		Type:         IntentFixedQuantity,
		Asset:        "USDT",
		FiatCurrency: "EUR",
		Quantity:     decimal.RequireFromString("50"),
	}
	assert.NoError(t, intent.Validate())

	intent.Amount = decimal.RequireFromString("10")
	assert.Error(t, intent.Validate(), "fixed-quantity must not carry an amount")
}

func TestBuyIntentValidateUnknownType(t *testing.T) {
	intent := BuyIntent{
		Type:         "MARKET_SWEEP",
		Asset:        "USDT",
		FiatCurrency: "EUR",
		Amount:       decimal.RequireFromString("100"),
	}
	assert.Error(t, intent.Validate())
}

func TestBuyIntentValidateRequiredFields(t *testing.T) {
	intent := BuyIntent{Type: IntentFixedAmount, Amount: decimal.RequireFromString("1")}
	assert.Error(t, intent.Validate())

	intent.Asset = "USDT"
	assert.Error(t, intent.Validate())

	intent.FiatCurrency = "EUR"
	assert.NoError(t, intent.Validate())
}

func TestTupleString(t *testing.T) {
	tuple := Tuple{MerchantID: "m1", Asset: "USDT", FiatCurrency: "EUR", Side: SideSell}
	assert.Equal(t, "m1/USDT/EUR/SELL", tuple.String())
}

func TestTradableFiatValue(t *testing.T) {
	ad := CompetitorAd{
		Price:             decimal.RequireFromString("0.95"),
		AvailableQuantity: decimal.RequireFromString("1000"),
	}
	assert.Equal(t, "950", ad.TradableFiatValue().String())
}
