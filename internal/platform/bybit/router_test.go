package bybit

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwdevries/snipebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterTickerSnapshotAndDelta(t *testing.T) {
	t.Parallel()

	r := NewRouter(testLogger())
	var seen []domain.Ticker
	r.OnTicker(func(tk domain.Ticker) { seen = append(seen, tk) })

	r.Route([]byte(`{"topic":"tickers.NEWUSDT","type":"snapshot","data":{"symbol":"NEWUSDT","bid1Price":"1.00","ask1Price":"1.02","lastPrice":"1.01"}}`))
	r.Route([]byte(`{"topic":"tickers.NEWUSDT","type":"delta","data":{"symbol":"NEWUSDT","ask1Price":"1.05"}}`))

	require.Len(t, seen, 2)
	assert.InDelta(t, 1.02, seen[0].Ask, 1e-9)

	// The delta keeps the untouched fields from the snapshot.
	assert.InDelta(t, 1.00, seen[1].Bid, 1e-9)
	assert.InDelta(t, 1.05, seen[1].Ask, 1e-9)
	assert.InDelta(t, 1.01, seen[1].Last, 1e-9)

	got, ok := r.Ticker("NEWUSDT")
	require.True(t, ok)
	assert.Equal(t, seen[1], got)
}

func TestRouterTickerMiss(t *testing.T) {
	t.Parallel()

	r := NewRouter(testLogger())
	_, ok := r.Ticker("NOPEUSDT")
	assert.False(t, ok)
}

func TestRouterAdministrativeFramesNeverReachHandlers(t *testing.T) {
	t.Parallel()

	r := NewRouter(testLogger())
	called := false
	r.OnTicker(func(domain.Ticker) { called = true })
	r.OnOrder(func(OrderUpdate) { called = true })
	r.OnExecution(func(ExecutionUpdate) { called = true })

	r.Route([]byte(`{"op":"subscribe","success":true,"conn_id":"abc"}`))
	r.Route([]byte(`{"op":"pong","req_id":"ping_1","args":["1700000000000"]}`))
	r.Route([]byte(`{"op":"auth","success":true}`))
	r.Route([]byte(`not json`))
	r.Route([]byte(`{}`))

	assert.False(t, called)
}

func TestRouterOrderDispatch(t *testing.T) {
	t.Parallel()

	r := NewRouter(testLogger())
	var got []OrderUpdate
	r.OnOrder(func(u OrderUpdate) { got = append(got, u) })

	r.Route([]byte(`{"topic":"order","data":[
		{"symbol":"NEWUSDT","orderLinkId":"SNIPE_NEWUSDT_0_1700000000000","orderStatus":"Filled","cumExecQty":"10","avgPrice":"1.02"},
		{"symbol":"NEWUSDT","orderLinkId":"SNIPE_NEWUSDT_1_1700000000050","orderStatus":"Cancelled","cumExecQty":"0"}
	]}`))

	require.Len(t, got, 2)
	assert.Equal(t, "SNIPE_NEWUSDT_0_1700000000000", got[0].OrderLinkID)
	assert.InDelta(t, 10.0, got[0].ExecutedQty(), 1e-9)
	assert.Equal(t, "Cancelled", got[1].OrderStatus)
}

func TestRouterExecutionDispatch(t *testing.T) {
	t.Parallel()

	r := NewRouter(testLogger())
	var got []ExecutionUpdate
	r.OnExecution(func(u ExecutionUpdate) { got = append(got, u) })

	r.Route([]byte(`{"topic":"execution","data":[
		{"symbol":"NEWUSDT","side":"Sell","execQty":"5","execPrice":"1.10"}
	]}`))

	require.Len(t, got, 1)
	assert.Equal(t, "Sell", got[0].Side)
	assert.InDelta(t, 5.0, got[0].QtyValue(), 1e-9)
	assert.InDelta(t, 1.10, got[0].PriceValue(), 1e-9)
}

func TestRouterNoHandlersRegistered(t *testing.T) {
	t.Parallel()

	r := NewRouter(testLogger())

	// Frames for unclaimed topics are dropped without side effects.
	r.Route([]byte(`{"topic":"order","data":[{"symbol":"NEWUSDT"}]}`))
	r.Route([]byte(`{"topic":"execution","data":[{"symbol":"NEWUSDT"}]}`))
	r.Route([]byte(`{"topic":"kline.1.NEWUSDT","data":[]}`))

	_, ok := r.Ticker("NEWUSDT")
	assert.False(t, ok)
}
