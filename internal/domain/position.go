package domain

import "time"

// Position is one open position, created on snipe success and owned
// exclusively by the ledger until an exit fill converts it to a TradeResult.
// At most one position exists per symbol.
type Position struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Qty         float64   `json:"qty"`
	EntryPrice  float64   `json:"entry_price"`
	EntryValue  float64   `json:"entry_value"`
	EntryTime   time.Time `json:"entry_time"`
	TrailingSet bool      `json:"trailing_set"`
}

// UnrealizedPnl returns the mark-to-market P&L at the given price.
func (p Position) UnrealizedPnl(currentPrice float64) float64 {
	if p.Side == SideBuy {
		return (currentPrice - p.EntryPrice) * p.Qty
	}
	return (p.EntryPrice - currentPrice) * p.Qty
}

// UnrealizedPnlPct returns the mark-to-market P&L as a percentage of the
// entry value.
func (p Position) UnrealizedPnlPct(currentPrice float64) float64 {
	if p.EntryValue == 0 {
		return 0
	}
	return p.UnrealizedPnl(currentPrice) / p.EntryValue * 100
}
