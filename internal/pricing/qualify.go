// Package pricing holds the pure competitive-ranking logic: competitor
// qualification and target price selection. No I/O happens here.
package pricing

import "p2pmaker/internal/core"

// Qualify filters a snapshot of competitor ads against the merchant's
// quality thresholds. Rules, applied in order: drop our own ad by
// nickname, drop under-seasoned counterparties, drop ads whose remaining
// fiat value is below the threshold. Output order is unspecified; the
// caller re-sorts. An empty result means "no qualified competitors",
// never an error.
func Qualify(ads []core.CompetitorAd, cfg core.PositioningConfig) []core.CompetitorAd {
	qualified := make([]core.CompetitorAd, 0, len(ads))
	for _, ad := range ads {
		if ad.Nickname == cfg.OwnNickname {
			continue
		}
		if ad.CounterpartyOrderCount < cfg.MinCounterpartyOrderCount {
			continue
		}
		if ad.TradableFiatValue().LessThan(cfg.MinTradableFiatValue) {
			continue
		}
		qualified = append(qualified, ad)
	}
	return qualified
}
