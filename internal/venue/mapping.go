package venue

import "p2pmaker/internal/core"

// SearchSide maps our ad side to the venue search-tab side. To find
// competitors for our SELL ad we must query the venue's BUY-tab listings
// (other sellers, visible to buyers), and vice versa: the search side is
// always the opposite of our own ad's side. This is a venue quirk that is
// easy to misremember, so it lives in one exhaustively tested function
// rather than inline logic.
func SearchSide(ownSide core.Side) core.Side {
	if ownSide == core.SideSell {
		return core.SideBuy
	}
	return core.SideSell
}

// venueStatuses maps wire status codes to the domain order statuses.
var venueStatuses = map[int]core.OrderStatus{
	10: core.OrderStatusCreated,
	20: core.OrderStatusPaid,
	30: core.OrderStatusAppealed,
	40: core.OrderStatusCompleted,
	50: core.OrderStatusCancelled,
	60: core.OrderStatusCancelledSystem,
	70: core.OrderStatusCancelledTimeout,
}

// OrderStatusFromCode converts the venue's numeric status enum.
func OrderStatusFromCode(code int) (core.OrderStatus, bool) {
	st, ok := venueStatuses[code]
	return st, ok
}
