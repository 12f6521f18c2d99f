package venue

// Wire DTOs for the venue's P2P REST API. Prices and quantities travel
// as strings and are parsed into decimals at the boundary.

type searchAdsResponse struct {
	Data []adRecord `json:"data"`
}

type adRecord struct {
	AdvertiserID string `json:"advertiserId"`
	Nickname     string `json:"nickname"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Available    string `json:"availableQuantity"`
	OrderCount   int    `json:"orderCount"`
	Fiat         string `json:"fiatCurrency"`
	Asset        string `json:"asset"`
}

type publishAdRequest struct {
	AdID  string `json:"adId"`
	Price string `json:"price"`
}

type placeOrderRequest struct {
	Asset        string `json:"asset"`
	FiatCurrency string `json:"fiatCurrency"`
	Side         string `json:"side"`
	Amount       string `json:"amount,omitempty"`
	Quantity     string `json:"quantity,omitempty"`
	AdID         string `json:"adId,omitempty"`
}

type orderRecord struct {
	OrderNumber    string `json:"orderNumber"`
	Status         int    `json:"status"`
	Side           string `json:"side"`
	CounterpartyID string `json:"counterpartyId"`
	Asset          string `json:"asset"`
	FiatCurrency   string `json:"fiatCurrency"`
	Amount         string `json:"amount"`
	Price          string `json:"price"`
	CreateTime     int64  `json:"createTime"`
}

type listOrdersResponse struct {
	Data []orderRecord `json:"data"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
