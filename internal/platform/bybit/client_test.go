package bybit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwdevries/snipebot/internal/domain"
)

func newTestClient(url string) *Client {
	return NewClient(url, "test-key", "test-secret", 5000)
}

func TestClientSignedGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/position/list", r.URL.Path)
		assert.Equal(t, "category=linear&settleCoin=USDT", r.URL.RawQuery)
		assert.Equal(t, "test-key", r.Header.Get("X-BAPI-API-KEY"))
		assert.Equal(t, "5000", r.Header.Get("X-BAPI-RECV-WINDOW"))

		// The signature must cover the exact query string on the wire.
		ts := r.Header.Get("X-BAPI-TIMESTAMP")
		require.NotEmpty(t, ts)
		want := SignAt("test-secret", ts, "test-key", "5000", r.URL.RawQuery)
		assert.Equal(t, want, r.Header.Get("X-BAPI-SIGN"))

		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"NEWUSDT","side":"Buy","size":"97","avgPrice":"1.03"}
		]}}`)
	}))
	defer srv.Close()

	positions, err := newTestClient(srv.URL).GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "NEWUSDT", positions[0].Symbol)
	assert.InDelta(t, 97.0, positions[0].SizeValue(), 1e-9)
}

func TestClientPlaceOrder(t *testing.T) {
	t.Parallel()

	const wantBody = `{"category":"linear","symbol":"NEWUSDT","side":"Buy","orderType":"Limit","qty":"97","timeInForce":"IOC","price":"1.0300","orderLinkId":"SNIPE_NEWUSDT_0_1700000000000"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v5/order/create", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, wantBody, string(body))

		ts := r.Header.Get("X-BAPI-TIMESTAMP")
		want := SignAt("test-secret", ts, "test-key", "5000", string(body))
		assert.Equal(t, want, r.Header.Get("X-BAPI-SIGN"))

		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"orderId":"abc-123","orderLinkId":"SNIPE_NEWUSDT_0_1700000000000"}}`)
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).PlaceOrder(context.Background(), OrderRequest{
		Symbol:      "NEWUSDT",
		Side:        "Buy",
		Qty:         "97",
		Price:       "1.0300",
		OrderLinkID: "SNIPE_NEWUSDT_0_1700000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", ref.OrderID)
	assert.Equal(t, "SNIPE_NEWUSDT_0_1700000000000", ref.OrderLinkID)
}

func TestClientPlaceOrderRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":110007,"retMsg":"insufficient available balance"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).PlaceOrder(context.Background(), OrderRequest{Symbol: "NEWUSDT", Side: "Buy", Qty: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Contains(t, err.Error(), "insufficient available balance")
}

func TestClientPlaceOrderTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).PlaceOrder(context.Background(), OrderRequest{Symbol: "NEWUSDT", Side: "Buy", Qty: "1"})
	require.Error(t, err)

	// A failed exchange is not an exchange rejection.
	assert.NotErrorIs(t, err, domain.ErrOrderRejected)
}

func TestClientGetInstrumentsFollowsCursor(t *testing.T) {
	t.Parallel()

	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.RawQuery)
		if r.URL.Query().Get("cursor") == "" {
			io.WriteString(w, `{"retCode":0,"result":{"list":[{"symbol":"AAAUSDT"}],"nextPageCursor":"page2"}}`)
			return
		}
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"symbol":"BBBUSDT"}],"nextPageCursor":""}}`)
	}))
	defer srv.Close()

	list, err := newTestClient(srv.URL).GetInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "AAAUSDT", list[0].Symbol)
	assert.Equal(t, "BBBUSDT", list[1].Symbol)

	require.Len(t, calls, 2)
	assert.Equal(t, "category=linear&limit=1000", calls[0])
	assert.Equal(t, "category=linear&cursor=page2&limit=1000", calls[1])
}

func TestClientGetTicker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "category=linear&symbol=NEWUSDT", r.URL.RawQuery)
		assert.Empty(t, r.Header.Get("X-BAPI-SIGN"))
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"symbol":"NEWUSDT","bid1Price":"1.00","ask1Price":"1.02","lastPrice":"1.01"}]}}`)
	}))
	defer srv.Close()

	tk, err := newTestClient(srv.URL).GetTicker(context.Background(), "NEWUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.02, tk.Ask, 1e-9)
}

func TestClientGetTickerEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":0,"result":{"list":[]}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetTicker(context.Background(), "NEWUSDT")
	assert.ErrorIs(t, err, domain.ErrNoTicker)
}

func TestClientGetServerTime(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":0,"result":{"timeSecond":"1700000000","timeNano":"1700000000123456789"}}`)
	}))
	defer srv.Close()

	ms, err := newTestClient(srv.URL).GetServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), ms)
}

func TestClientGetWalletBalance(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "accountType=UNIFIED", r.URL.RawQuery)
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"accountType":"UNIFIED","totalEquity":"1234.56","coin":[{"coin":"USDT","walletBalance":"1200"}]}]}}`)
	}))
	defer srv.Close()

	acct, err := newTestClient(srv.URL).GetWalletBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1234.56, acct.Equity(), 1e-9)
	require.Len(t, acct.Coins, 1)
	assert.Equal(t, "USDT", acct.Coins[0].Coin)
}

func TestClientSetTrailingStop(t *testing.T) {
	t.Parallel()

	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(body))
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	require.NoError(t, c.SetTrailingStop(context.Background(), "NEWUSDT", "0.0412", ""))
	require.NoError(t, c.SetTrailingStop(context.Background(), "NEWUSDT", "0.0412", "1.0815"))

	require.Len(t, bodies, 2)

	// positionIdx is always sent, zero included; activePrice only when set.
	assert.Equal(t, `{"category":"linear","symbol":"NEWUSDT","trailingStop":"0.0412","positionIdx":0}`, bodies[0])
	assert.Equal(t, `{"category":"linear","symbol":"NEWUSDT","trailingStop":"0.0412","positionIdx":0,"activePrice":"1.0815"}`, bodies[1])
}

func TestClientCancelAllOrders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "linear", payload["category"])
		assert.Equal(t, "NEWUSDT", payload["symbol"])
		io.WriteString(w, `{"retCode":0,"result":{}}`)
	}))
	defer srv.Close()

	assert.NoError(t, newTestClient(srv.URL).CancelAllOrders(context.Background(), "NEWUSDT"))
}
