package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwdevries/snipebot/internal/domain"
)

type fakeLedger struct {
	positions []domain.Position
	pnl       domain.PnlSummary
}

func (f *fakeLedger) Positions() []domain.Position { return f.positions }
func (f *fakeLedger) TotalPnl() domain.PnlSummary  { return f.pnl }

type fakeMarks map[string]domain.Ticker

func (f fakeMarks) Ticker(symbol string) (domain.Ticker, bool) {
	t, ok := f[symbol]
	return t, ok
}

type fakeClock int64

func (f fakeClock) Offset() int64 { return int64(f) }

type fakeSnipes struct{ attempted, succeeded int64 }

func (f fakeSnipes) SnipeCounts() (int64, int64) { return f.attempted, f.succeeded }

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	h := NewStatusHandler(StatusDeps{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	res := httptest.NewRecorder()

	h.HealthCheck(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/json; charset=utf-8", res.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestGetStatusMarksPositionsToLastTicker(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{
		positions: []domain.Position{{
			Symbol:      "NEWUSDT",
			Side:        domain.SideBuy,
			Qty:         97,
			EntryPrice:  1.03,
			EntryValue:  99.91,
			EntryTime:   time.Now().UTC(),
			TrailingSet: true,
		}},
		pnl: domain.PnlSummary{Trades: 2, Winners: 1, Losers: 1, WinRate: 50, NetPnl: 5.5},
	}
	h := NewStatusHandler(StatusDeps{
		Mode:      "trade",
		StartedAt: time.Now().Add(-90 * time.Second),
		Ledger:    ledger,
		Marks:     fakeMarks{"NEWUSDT": {Symbol: "NEWUSDT", Last: 1.10}},
		Clock:     fakeClock(-12),
		Snipes:    fakeSnipes{attempted: 3, succeeded: 1},
		Streams: func() map[string]domain.StreamState {
			return map[string]domain.StreamState{
				"public":  domain.StreamReady,
				"private": domain.StreamConnecting,
			}
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	res := httptest.NewRecorder()
	h.GetStatus(res, req)

	require.Equal(t, http.StatusOK, res.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))

	assert.Equal(t, "running", got.Status)
	assert.Equal(t, "trade", got.Mode)
	assert.InDelta(t, 90, got.UptimeSec, 5)
	assert.Equal(t, int64(3), got.SnipesAttempted)
	assert.Equal(t, int64(1), got.SnipesSucceeded)
	assert.Equal(t, int64(-12), got.ClockOffsetMs)
	assert.Equal(t, domain.StreamReady, got.Streams["public"])
	assert.Equal(t, domain.StreamConnecting, got.Streams["private"])
	assert.Equal(t, domain.PnlSummary{Trades: 2, Winners: 1, Losers: 1, WinRate: 50, NetPnl: 5.5}, got.Pnl)

	require.Len(t, got.OpenPositions, 1)
	pos := got.OpenPositions[0]
	assert.Equal(t, "NEWUSDT", pos.Symbol)
	assert.InDelta(t, 1.10, pos.MarkPrice, 1e-9)
	assert.InDelta(t, (1.10-1.03)*97, pos.UnrealizedPnl, 1e-9)
	assert.InDelta(t, (1.10-1.03)*97/99.91*100, pos.UnrealizedPnlPct, 1e-9)
}

func TestGetStatusWithoutTickerValuesPositionFlat(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{
		positions: []domain.Position{{
			Symbol:     "NEWUSDT",
			Side:       domain.SideBuy,
			Qty:        97,
			EntryPrice: 1.03,
			EntryValue: 99.91,
		}},
	}
	h := NewStatusHandler(StatusDeps{
		Mode:      "monitor",
		StartedAt: time.Now(),
		Ledger:    ledger,
		Marks:     fakeMarks{},
		Clock:     fakeClock(0),
		Snipes:    fakeSnipes{},
		Streams:   func() map[string]domain.StreamState { return nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	res := httptest.NewRecorder()
	h.GetStatus(res, req)

	require.Equal(t, http.StatusOK, res.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	require.Len(t, got.OpenPositions, 1)
	assert.InDelta(t, 1.03, got.OpenPositions[0].MarkPrice, 1e-9)
	assert.Zero(t, got.OpenPositions[0].UnrealizedPnl)
}
