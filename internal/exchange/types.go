package exchange

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64 // shares available at this price
}

// OrderBook is a snapshot of a token's CLOB order book.
// Bids are sorted best (highest) first, asks best (lowest) first.
type OrderBook struct {
	TokenID string
	Bids    []BookLevel
	Asks    []BookLevel
}

// BestBid returns the highest bid price, 0 when no bids.
func (b *OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, 0 when no asks.
func (b *OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Quote is a derived top-of-book price summary.
type Quote struct {
	TokenID string
	Bid     float64
	Ask     float64
	Mid     float64
	Spread  float64
}

// OrderStatus is the exchange-reported fill state of a placed order.
type OrderStatus string

const (
	OrderStatusFilled        OrderStatus = "FILLED"
	OrderStatusPartialFilled OrderStatus = "PARTIAL"
	OrderStatusRejected      OrderStatus = "REJECTED"
)

// FillResult is the outcome of a placed order.
type FillResult struct {
	OrderID      string
	FilledAmount float64 // USDC notional actually filled
	Shares       float64
	AvgPrice     float64
	Status       OrderStatus
}

// UserPosition is one on-chain position reported by the data API.
type UserPosition struct {
	MarketID string
	TokenID  string
	Outcome  string
	Shares   float64
	AvgPrice float64
}
