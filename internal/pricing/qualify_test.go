package pricing

import (
	"testing"

	"p2pmaker/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func ad(nickname, price, qty string, orders int) core.CompetitorAd {
	return core.CompetitorAd{
		AdvertiserID:           "adv-" + nickname,
		Nickname:               nickname,
		Side:                   core.SideSell,
		Price:                  decimal.RequireFromString(price),
		AvailableQuantity:      decimal.RequireFromString(qty),
		CounterpartyOrderCount: orders,
		FiatCurrency:           "EUR",
		Asset:                  "USDT",
	}
}

func testConfig() core.PositioningConfig {
	return core.PositioningConfig{
		MerchantID:                "m1",
		Asset:                     "USDT",
		FiatCurrency:              "EUR",
		Side:                      core.SideSell,
		OwnNickname:               "mainshop",
		MinCounterpartyOrderCount: 50,
		MinTradableFiatValue:      decimal.RequireFromString("500"),
		UndercutAmount:            decimal.RequireFromString("0.01"),
		MatchMode:                 core.MatchUndercut,
	}
}

func TestQualifyExcludesOwnAd(t *testing.T) {
	cfg := testConfig()
	ads := []core.CompetitorAd{
		ad("mainshop", "0.95", "10000", 500),
		ad("rival", "0.96", "10000", 500),
	}

	got := Qualify(ads, cfg)

	assert.Len(t, got, 1)
	assert.Equal(t, "rival", got[0].Nickname)
}

func TestQualifyDropsLowOrderCount(t *testing.T) {
	cfg := testConfig()
	ads := []core.CompetitorAd{
		ad("newbie", "0.95", "10000", 49),
		ad("veteran", "0.96", "10000", 50),
	}

	got := Qualify(ads, cfg)

	assert.Len(t, got, 1)
	assert.Equal(t, "veteran", got[0].Nickname)
}

func TestQualifyDropsThinInventory(t *testing.T) {
	cfg := testConfig()
	// 0.95 * 500 = 475 fiat, below the 500 threshold
	ads := []core.CompetitorAd{
		ad("thin", "0.95", "500", 500),
		ad("deep", "0.95", "600", 500),
	}

	got := Qualify(ads, cfg)

	assert.Len(t, got, 1)
	assert.Equal(t, "deep", got[0].Nickname)
}

func TestQualifyThresholdIsFiatNotQuantity(t *testing.T) {
	cfg := testConfig()
	cfg.MinTradableFiatValue = decimal.RequireFromString("1000")
	// High price, small quantity: 50000 * 0.5 = 25000 fiat, passes.
	btc := ad("btcseller", "50000", "0.5", 500)
	btc.Asset = "BTC"

	got := Qualify([]core.CompetitorAd{btc}, cfg)

	assert.Len(t, got, 1)
}

func TestQualifyOutputIsSubsetOfInput(t *testing.T) {
	cfg := testConfig()
	ads := []core.CompetitorAd{
		ad("a", "0.95", "10000", 500),
		ad("b", "0.96", "100", 10),
		ad("mainshop", "0.94", "10000", 500),
		ad("c", "0.97", "10000", 500),
	}

	got := Qualify(ads, cfg)

	byID := make(map[string]bool)
	for _, in := range ads {
		byID[in.AdvertiserID] = true
	}
	for _, out := range got {
		assert.True(t, byID[out.AdvertiserID], "qualified ad %s not in input", out.AdvertiserID)
	}
	assert.LessOrEqual(t, len(got), len(ads))
}

func TestQualifyEmptyResultIsNotAnError(t *testing.T) {
	cfg := testConfig()
	ads := []core.CompetitorAd{
		ad("tiny", "0.95", "1", 1),
	}

	got := Qualify(ads, cfg)

	assert.Empty(t, got)
}
