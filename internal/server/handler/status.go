package handler

import (
	"net/http"
	"time"

	"github.com/jwdevries/snipebot/internal/domain"
)

// PositionSource exposes the ledger views rendered by the status endpoint.
type PositionSource interface {
	Positions() []domain.Position
	TotalPnl() domain.PnlSummary
}

// MarkSource reports the last ticker observed for a symbol.
type MarkSource interface {
	Ticker(symbol string) (domain.Ticker, bool)
}

// ClockSource reports the estimated exchange clock offset in milliseconds.
type ClockSource interface {
	Offset() int64
}

// SnipeSource reports how many snipes were attempted and how many succeeded.
type SnipeSource interface {
	SnipeCounts() (attempted, succeeded int64)
}

// StreamStates returns the lifecycle state of each websocket stream by name.
type StreamStates func() map[string]domain.StreamState

// StatusDeps bundles the runtime views the status endpoint renders.
type StatusDeps struct {
	Mode      string
	StartedAt time.Time
	Ledger    PositionSource
	Marks     MarkSource
	Clock     ClockSource
	Snipes    SnipeSource
	Streams   StreamStates
}

// StatusHandler serves the liveness and runtime status endpoints.
type StatusHandler struct {
	deps StatusDeps
}

// NewStatusHandler creates a StatusHandler over the given runtime views.
func NewStatusHandler(deps StatusDeps) *StatusHandler {
	return &StatusHandler{deps: deps}
}

// HealthCheck responds with a simple JSON status indicating the process is
// alive.
// GET /api/health
func (h *StatusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// openPosition is a Position annotated with its mark-to-market valuation at
// the last observed ticker.
type openPosition struct {
	domain.Position
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	UnrealizedPnlPct float64 `json:"unrealized_pnl_pct"`
}

// statusResponse is the full runtime snapshot served at /api/status.
type statusResponse struct {
	Status          string                        `json:"status"`
	Mode            string                        `json:"mode"`
	StartedAt       time.Time                     `json:"started_at"`
	UptimeSec       float64                       `json:"uptime_sec"`
	SnipesAttempted int64                         `json:"snipes_attempted"`
	SnipesSucceeded int64                         `json:"snipes_succeeded"`
	ClockOffsetMs   int64                         `json:"clock_offset_ms"`
	Streams         map[string]domain.StreamState `json:"streams"`
	OpenPositions   []openPosition                `json:"open_positions"`
	Pnl             domain.PnlSummary             `json:"pnl"`
}

// GetStatus responds with the current runtime state: open positions marked to
// the last ticker, realized P&L, snipe counters, stream health, and the
// exchange clock offset.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	positions := h.deps.Ledger.Positions()
	open := make([]openPosition, 0, len(positions))
	for _, p := range positions {
		// Fall back to the entry price when no ticker has been seen yet,
		// which values the position flat.
		mark := p.EntryPrice
		if t, ok := h.deps.Marks.Ticker(p.Symbol); ok && t.Last > 0 {
			mark = t.Last
		}
		open = append(open, openPosition{
			Position:         p,
			MarkPrice:        mark,
			UnrealizedPnl:    p.UnrealizedPnl(mark),
			UnrealizedPnlPct: p.UnrealizedPnlPct(mark),
		})
	}

	attempted, succeeded := h.deps.Snipes.SnipeCounts()

	writeJSON(w, http.StatusOK, statusResponse{
		Status:          "running",
		Mode:            h.deps.Mode,
		StartedAt:       h.deps.StartedAt.UTC(),
		UptimeSec:       time.Since(h.deps.StartedAt).Seconds(),
		SnipesAttempted: attempted,
		SnipesSucceeded: succeeded,
		ClockOffsetMs:   h.deps.Clock.Offset(),
		Streams:         h.deps.Streams(),
		OpenPositions:   open,
		Pnl:             h.deps.Ledger.TotalPnl(),
	})
}
