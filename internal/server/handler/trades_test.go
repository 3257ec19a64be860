package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwdevries/snipebot/internal/domain"
)

type fakeTrades []domain.TradeResult

func (f fakeTrades) Trades() []domain.TradeResult { return f }

func listTrades(t *testing.T, h *TradesHandler, target string) listTradesResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	res := httptest.NewRecorder()
	h.ListTrades(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var got listTradesResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	return got
}

func TestListTradesNewestFirst(t *testing.T) {
	t.Parallel()

	h := NewTradesHandler(fakeTrades{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}})
	got := listTrades(t, h, "/api/trades")

	assert.Equal(t, 3, got.Total)
	require.Len(t, got.Trades, 3)
	assert.Equal(t, "t3", got.Trades[0].ID)
	assert.Equal(t, "t2", got.Trades[1].ID)
	assert.Equal(t, "t1", got.Trades[2].ID)
}

func TestListTradesHonorsLimit(t *testing.T) {
	t.Parallel()

	h := NewTradesHandler(fakeTrades{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}})
	got := listTrades(t, h, "/api/trades?limit=2")

	assert.Equal(t, 3, got.Total)
	require.Len(t, got.Trades, 2)
	assert.Equal(t, "t3", got.Trades[0].ID)
	assert.Equal(t, "t2", got.Trades[1].ID)
}

func TestListTradesIgnoresMalformedLimit(t *testing.T) {
	t.Parallel()

	h := NewTradesHandler(fakeTrades{{ID: "t1"}})
	got := listTrades(t, h, "/api/trades?limit=banana")

	assert.Equal(t, 1, got.Total)
	assert.Len(t, got.Trades, 1)
}

func TestListTradesEmptyHistory(t *testing.T) {
	t.Parallel()

	h := NewTradesHandler(fakeTrades{})
	req := httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	res := httptest.NewRecorder()
	h.ListTrades(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	// Empty history serializes as an empty array, not null.
	assert.Contains(t, res.Body.String(), `"trades":[]`)
}

func TestParseLimitCapsAtCeiling(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/trades?limit=9999", nil)
	assert.Equal(t, 500, parseLimit(req, 50, 500))

	req = httptest.NewRequest(http.MethodGet, "/api/trades?limit=-3", nil)
	assert.Equal(t, 50, parseLimit(req, 50, 500))
}
