// Package bybit implements the Bybit V5 exchange adapters: the signed REST
// client, the public and private websocket streams, topic routing, and
// exchange clock synchronization.
package bybit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jwdevries/snipebot/internal/domain"
)

const (
	categoryLinear = "linear"

	// defaultHTTPTimeout bounds every REST exchange.
	defaultHTTPTimeout = 10 * time.Second
)

// Client is a Bybit V5 REST client. Private endpoints are signed per request;
// market-data endpoints go out unsigned.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow string
	httpClient *http.Client
}

// NewClient creates a REST client for the given host. apiKey and apiSecret
// may be empty for market-data only use.
func NewClient(baseURL, apiKey, apiSecret string, recvWindowMs int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: strconv.Itoa(recvWindowMs),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// GetInstruments returns all linear instruments, following the page cursor
// until the exchange reports no more.
func (c *Client) GetInstruments(ctx context.Context) ([]InstrumentInfo, error) {
	var out []InstrumentInfo
	cursor := ""
	for {
		params := map[string]string{"category": categoryLinear, "limit": "1000"}
		if cursor != "" {
			params["cursor"] = cursor
		}
		body, err := c.doPublic(ctx, "/v5/market/instruments-info", params)
		if err != nil {
			return nil, fmt.Errorf("bybit: get instruments: %w", err)
		}

		var result struct {
			List           []InstrumentInfo `json:"list"`
			NextPageCursor string           `json:"nextPageCursor"`
		}
		if err := decodeResult(body, &result); err != nil {
			return nil, fmt.Errorf("bybit: get instruments: %w", err)
		}
		out = append(out, result.List...)

		if result.NextPageCursor == "" {
			return out, nil
		}
		cursor = result.NextPageCursor
	}
}

// GetTicker returns the current best quotes for one symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	params := map[string]string{"category": categoryLinear, "symbol": symbol}
	body, err := c.doPublic(ctx, "/v5/market/tickers", params)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("bybit: get ticker %s: %w", symbol, err)
	}

	var result struct {
		List []TickerInfo `json:"list"`
	}
	if err := decodeResult(body, &result); err != nil {
		return domain.Ticker{}, fmt.Errorf("bybit: get ticker %s: %w", symbol, err)
	}
	if len(result.List) == 0 {
		return domain.Ticker{}, fmt.Errorf("bybit: get ticker %s: %w", symbol, domain.ErrNoTicker)
	}
	return result.List[0].Merge(domain.Ticker{Symbol: symbol}), nil
}

// GetServerTime returns the exchange clock in unix millis.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/v5/market/time", nil)
	if err != nil {
		return 0, fmt.Errorf("bybit: get server time: %w", err)
	}

	var result struct {
		TimeNano string `json:"timeNano"`
	}
	if err := decodeResult(body, &result); err != nil {
		return 0, fmt.Errorf("bybit: get server time: %w", err)
	}
	nanos, err := strconv.ParseInt(result.TimeNano, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit: get server time: bad timeNano %q", result.TimeNano)
	}
	return nanos / 1_000_000, nil
}

// PlaceOrder submits an order. Category, order type, and time-in-force
// default to linear IOC limit when unset. An exchange rejection wraps
// domain.ErrOrderRejected so callers can tell it from transport failure.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	if req.Category == "" {
		req.Category = categoryLinear
	}
	if req.OrderType == "" {
		req.OrderType = "Limit"
	}
	if req.TimeInForce == "" {
		req.TimeInForce = "IOC"
	}

	body, err := c.doSignedPost(ctx, "/v5/order/create", req)
	if err != nil {
		return OrderRef{}, fmt.Errorf("bybit: place order %s: %w", req.Symbol, err)
	}

	var ref OrderRef
	if err := decodeResult(body, &ref); err != nil {
		var ae *apiError
		if errors.As(err, &ae) {
			return OrderRef{}, fmt.Errorf("bybit: place order %s: retCode %d (%s): %w",
				req.Symbol, ae.Code, ae.Msg, domain.ErrOrderRejected)
		}
		return OrderRef{}, fmt.Errorf("bybit: place order %s: %w", req.Symbol, err)
	}
	return ref, nil
}

// SetTrailingStop attaches a trailing stop to the open position on symbol.
// distance is an absolute price distance; activePrice, when non-empty, defers
// activation until the mark reaches it. Position index zero targets one-way
// position mode.
func (c *Client) SetTrailingStop(ctx context.Context, symbol, distance, activePrice string) error {
	payload := struct {
		Category     string `json:"category"`
		Symbol       string `json:"symbol"`
		TrailingStop string `json:"trailingStop"`
		PositionIdx  int    `json:"positionIdx"`
		ActivePrice  string `json:"activePrice,omitempty"`
	}{
		Category:     categoryLinear,
		Symbol:       symbol,
		TrailingStop: distance,
		ActivePrice:  activePrice,
	}

	body, err := c.doSignedPost(ctx, "/v5/position/trading-stop", payload)
	if err != nil {
		return fmt.Errorf("bybit: set trailing stop %s: %w", symbol, err)
	}
	if err := decodeResult(body, nil); err != nil {
		return fmt.Errorf("bybit: set trailing stop %s: %w", symbol, err)
	}
	return nil
}

// CancelAllOrders cancels every open order on symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	payload := struct {
		Category string `json:"category"`
		Symbol   string `json:"symbol"`
	}{Category: categoryLinear, Symbol: symbol}

	body, err := c.doSignedPost(ctx, "/v5/order/cancel-all", payload)
	if err != nil {
		return fmt.Errorf("bybit: cancel all %s: %w", symbol, err)
	}
	if err := decodeResult(body, nil); err != nil {
		return fmt.Errorf("bybit: cancel all %s: %w", symbol, err)
	}
	return nil
}

// GetPositions returns USDT-settled positions, optionally narrowed to one
// symbol. Flat symbols may appear with size zero; callers filter.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionInfo, error) {
	params := map[string]string{"category": categoryLinear, "settleCoin": "USDT"}
	if symbol != "" {
		params["symbol"] = symbol
	}

	body, err := c.doSignedGet(ctx, "/v5/position/list", params)
	if err != nil {
		return nil, fmt.Errorf("bybit: get positions: %w", err)
	}

	var result struct {
		List []PositionInfo `json:"list"`
	}
	if err := decodeResult(body, &result); err != nil {
		return nil, fmt.Errorf("bybit: get positions: %w", err)
	}
	return result.List, nil
}

// GetWalletBalance returns the unified account balance.
func (c *Client) GetWalletBalance(ctx context.Context) (WalletAccount, error) {
	params := map[string]string{"accountType": "UNIFIED"}
	body, err := c.doSignedGet(ctx, "/v5/account/wallet-balance", params)
	if err != nil {
		return WalletAccount{}, fmt.Errorf("bybit: get wallet balance: %w", err)
	}

	var result struct {
		List []WalletAccount `json:"list"`
	}
	if err := decodeResult(body, &result); err != nil {
		return WalletAccount{}, fmt.Errorf("bybit: get wallet balance: %w", err)
	}
	if len(result.List) == 0 {
		return WalletAccount{}, errors.New("bybit: get wallet balance: empty account list")
	}
	return result.List[0], nil
}

// doPublic sends an unsigned GET request.
func (c *Client) doPublic(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	url := c.baseURL + path
	if query := canonicalQuery(params); query != "" {
		url += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.send(req)
}

// doSignedGet signs the canonical query string and sends it verbatim; the
// query on the wire must be the exact bytes the signature covers.
func (c *Client) doSignedGet(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	query := canonicalQuery(params)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := SignAt(c.apiSecret, ts, c.apiKey, c.recvWindow, query)

	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuthHeaders(req, ts, sig)
	return c.send(req)
}

// doSignedPost signs the compact JSON body.
func (c *Client) doSignedPost(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := SignAt(c.apiSecret, ts, c.apiKey, c.recvWindow, string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, ts, sig)
	return c.send(req)
}

func (c *Client) setAuthHeaders(req *http.Request, ts, sig string) {
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", sig)
}

// send executes the request and surfaces non-2xx statuses as errors.
func (c *Client) send(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// decodeResult unwraps the REST envelope into out. A non-zero retCode comes
// back as an *apiError.
func decodeResult(body []byte, out any) error {
	var env apiResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.RetCode != 0 {
		return &apiError{Code: env.RetCode, Msg: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
