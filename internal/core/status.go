package core

// OrderStatus mirrors the venue's authoritative order state machine.
type OrderStatus string

const (
	OrderStatusCreated          OrderStatus = "CREATED"
	OrderStatusPaid             OrderStatus = "PAID"
	OrderStatusCompleted        OrderStatus = "COMPLETED"
	OrderStatusAppealed         OrderStatus = "APPEALED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
	OrderStatusCancelledSystem  OrderStatus = "CANCELLED_SYSTEM"
	OrderStatusCancelledTimeout OrderStatus = "CANCELLED_TIMEOUT"
)

// Terminal reports whether no further transition is permitted.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusCancelledSystem, OrderStatusCancelledTimeout:
		return true
	default:
		return false
	}
}

// orderTransitions holds the forward edges of the venue state machine.
// APPEALED resolves to COMPLETED or one of the CANCELLED_* terminals.
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusCreated: {
		OrderStatusPaid:             true,
		OrderStatusCompleted:        true,
		OrderStatusAppealed:         true,
		OrderStatusCancelled:        true,
		OrderStatusCancelledSystem:  true,
		OrderStatusCancelledTimeout: true,
	},
	OrderStatusPaid: {
		OrderStatusCompleted:        true,
		OrderStatusAppealed:         true,
		OrderStatusCancelled:        true,
		OrderStatusCancelledSystem:  true,
		OrderStatusCancelledTimeout: true,
	},
	OrderStatusAppealed: {
		OrderStatusCompleted:        true,
		OrderStatusCancelled:        true,
		OrderStatusCancelledSystem:  true,
		OrderStatusCancelledTimeout: true,
	},
}

// CanTransitionOrder reports whether the venue state machine permits
// moving from one status to another. Terminal states admit nothing.
func CanTransitionOrder(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	return orderTransitions[from][to]
}

// DispatchState is the auto-buy dispatch retry state machine.
type DispatchState string

const (
	DispatchPending   DispatchState = "PENDING"
	DispatchRunning   DispatchState = "RUNNING"
	DispatchSucceeded DispatchState = "SUCCEEDED"
	DispatchRetrying  DispatchState = "RETRYING"
	DispatchDead      DispatchState = "DEAD"
	DispatchCancelled DispatchState = "CANCELLED"
)

// Terminal reports whether the dispatch state is immutable once reached.
func (s DispatchState) Terminal() bool {
	switch s {
	case DispatchSucceeded, DispatchDead, DispatchCancelled:
		return true
	default:
		return false
	}
}

var dispatchTransitions = map[DispatchState]map[DispatchState]bool{
	DispatchPending: {
		DispatchRunning:   true,
		DispatchCancelled: true,
	},
	DispatchRunning: {
		DispatchSucceeded: true,
		DispatchRetrying:  true,
		DispatchDead:      true,
	},
	DispatchRetrying: {
		DispatchRunning:   true,
		DispatchDead:      true,
		DispatchCancelled: true,
	},
	// Manual retry re-arms a DEAD dispatch without resetting its attempt
	// count; the cap keeps applying.
	DispatchDead: {
		DispatchRetrying: true,
	},
}

// CanTransitionDispatch reports whether the dispatch state machine
// permits moving from one state to another.
func CanTransitionDispatch(from, to DispatchState) bool {
	return dispatchTransitions[from][to]
}
