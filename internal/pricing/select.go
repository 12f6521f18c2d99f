package pricing

import (
	"fmt"
	"sort"
	"time"

	"p2pmaker/internal/core"
	apperrors "p2pmaker/pkg/errors"

	"github.com/shopspring/decimal"
)

// priceDecimals is the minimum price increment per fiat currency,
// expressed as decimal places. Currencies not listed use two places.
var priceDecimals = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
}

// PriceDecimals returns the price precision for a fiat currency.
func PriceDecimals(fiat string) int32 {
	if d, ok := priceDecimals[fiat]; ok {
		return d
	}
	return 2
}

// Select derives the merchant's target price from the qualified
// competitor set via match-or-undercut.
//
// With qualified competitors the benchmark is the cheapest qualified
// seller (SELL) or the highest qualified buyer (BUY). UNDERCUT moves the
// target strictly past the benchmark in the direction that attracts a
// counterparty; EXACT matches it. With no qualified competitors but a
// non-empty snapshot, the best raw price is used as a one-off safety
// price with no undercut. An empty snapshot fails with NoMarketData: the
// scheduler must not publish in that case.
func Select(qualified, allAds []core.CompetitorAd, cfg core.PositioningConfig) (core.PricingDecision, error) {
	now := time.Now()

	if len(qualified) > 0 {
		ref := bestPrice(qualified, cfg.Side)
		target := ref
		if cfg.MatchMode == core.MatchUndercut {
			if cfg.Side == core.SideSell {
				target = ref.Sub(cfg.UndercutAmount)
			} else {
				target = ref.Add(cfg.UndercutAmount)
			}
		}
		return core.PricingDecision{
			TargetPrice:              roundHalfUp(target, PriceDecimals(cfg.FiatCurrency)),
			ReferenceCompetitorPrice: ref,
			QualifiedCompetitorCount: len(qualified),
			ComputedAt:               now,
		}, nil
	}

	if len(allAds) > 0 {
		ref := bestPrice(allAds, cfg.Side)
		return core.PricingDecision{
			TargetPrice:              roundHalfUp(ref, PriceDecimals(cfg.FiatCurrency)),
			ReferenceCompetitorPrice: ref,
			QualifiedCompetitorCount: 0,
			ComputedAt:               now,
		}, nil
	}

	return core.PricingDecision{}, fmt.Errorf("select %s/%s %s: %w",
		cfg.Asset, cfg.FiatCurrency, cfg.Side, apperrors.ErrNoMarketData)
}

// bestPrice returns the minimum price for SELL and the maximum for BUY.
func bestPrice(ads []core.CompetitorAd, side core.Side) decimal.Decimal {
	sorted := make([]core.CompetitorAd, len(ads))
	copy(sorted, ads)
	if side == core.SideSell {
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Price.LessThan(sorted[j].Price)
		})
	} else {
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Price.GreaterThan(sorted[j].Price)
		})
	}
	return sorted[0].Price
}

// roundHalfUp rounds to the given decimal places, ties away from zero.
// Prices are positive, so this is round-half-up and deterministic.
func roundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}
