package control

// Message is one WebSocket event pushed to operator clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Message type constants
const (
	TypeDispatchEvent = "dispatch_event"
	TypeOrderEvent    = "order_event"
	TypePriceEvent    = "price_event"
)

// NewDispatchEventMessage wraps a dispatch change for broadcast.
func NewDispatchEventMessage(data interface{}) Message {
	return Message{Type: TypeDispatchEvent, Data: data}
}

// NewOrderEventMessage wraps an order change for broadcast.
func NewOrderEventMessage(data interface{}) Message {
	return Message{Type: TypeOrderEvent, Data: data}
}

// NewPriceEventMessage wraps a published price for broadcast.
func NewPriceEventMessage(data interface{}) Message {
	return Message{Type: TypePriceEvent, Data: data}
}
