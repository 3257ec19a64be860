package handler

import (
	"net/http"

	"github.com/jwdevries/snipebot/internal/domain"
)

// TradeSource exposes the completed-trade history.
type TradeSource interface {
	Trades() []domain.TradeResult
}

// TradesHandler serves the completed-trade history.
type TradesHandler struct {
	trades TradeSource
}

// NewTradesHandler creates a TradesHandler backed by the given source.
func NewTradesHandler(trades TradeSource) *TradesHandler {
	return &TradesHandler{trades: trades}
}

// listTradesResponse wraps the trade list response. Total is the full history
// size regardless of the requested limit.
type listTradesResponse struct {
	Trades []domain.TradeResult `json:"trades"`
	Total  int                  `json:"total"`
}

// ListTrades returns completed trades, newest first.
// GET /api/trades?limit=50
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)

	all := h.trades.Trades()
	n := limit
	if len(all) < n {
		n = len(all)
	}

	// History is stored oldest first; serve newest first.
	trades := make([]domain.TradeResult, 0, n)
	for i := len(all) - 1; len(trades) < n; i-- {
		trades = append(trades, all[i])
	}

	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades, Total: len(all)})
}
