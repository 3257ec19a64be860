package domain

// Side indicates order direction, using the exchange's wire values.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus tracks the exchange-reported order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
)

// Fill is one confirmed execution for a ladder order, matched to its
// submission by the client-chosen correlation id (orderLinkId). Qty is the
// cumulative executed quantity reported by the exchange, so for a given
// correlation id the most recent Fill supersedes earlier ones.
type Fill struct {
	OrderLinkID string  `json:"order_link_id"`
	Qty         float64 `json:"qty"`
	AvgPrice    float64 `json:"avg_price"`
	Status      string  `json:"status"`
}

// Value returns the fill notional.
func (f Fill) Value() float64 {
	return f.Qty * f.AvgPrice
}
