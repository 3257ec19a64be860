package domain

// SnipeResult is the outcome of one ladder run against a new listing.
// Immutable once returned. Success means some quantity filled; a run that
// simply never fills reports Success=false with an empty Error.
type SnipeResult struct {
	Symbol      string  `json:"symbol"`
	Success     bool    `json:"success"`
	FilledQty   float64 `json:"filled_qty"`
	FilledValue float64 `json:"filled_value"`
	AvgEntry    float64 `json:"avg_entry"`
	OrdersSent  int     `json:"orders_sent"`
	Fills       []Fill  `json:"fills,omitempty"`
	Error       string  `json:"error,omitempty"`
}
