package domain

import "time"

// TradeResult is one completed round trip: entry via the ladder, exit via a
// counter-side fill or a triggered trailing stop. Append-only; journaled on
// every exit.
//
// Invariant: NetPnl = GrossPnl - Fees exactly.
type TradeResult struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Qty         float64   `json:"qty"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	EntryValue  float64   `json:"entry_value"`
	ExitValue   float64   `json:"exit_value"`
	GrossPnl    float64   `json:"gross_pnl"`
	Fees        float64   `json:"fees"`
	NetPnl      float64   `json:"net_pnl"`
	RoiPct      float64   `json:"roi_pct"`
	DurationSec float64   `json:"duration_sec"`
}

// PnlSummary aggregates all completed trades.
type PnlSummary struct {
	Trades   int     `json:"total_trades"`
	Winners  int     `json:"winners"`
	Losers   int     `json:"losers"`
	WinRate  float64 `json:"win_rate"`
	GrossPnl float64 `json:"total_gross_pnl"`
	Fees     float64 `json:"total_fees"`
	NetPnl   float64 `json:"total_net_pnl"`
}
