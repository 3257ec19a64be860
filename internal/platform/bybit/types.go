package bybit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jwdevries/snipebot/internal/domain"
)

// apiResponse is the V5 REST envelope. Result decoding is deferred so each
// endpoint can unwrap its own shape.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// apiError is a non-zero retCode from an otherwise successful HTTP exchange.
type apiError struct {
	Code int
	Msg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("retCode %d: %s", e.Code, e.Msg)
}

// pushEnvelope is the inbound websocket frame shape. Administrative frames
// (acks, pongs) carry op/success/ret_msg, topic pushes carry topic/data.
// RetCode is a pointer because some gateways omit it on auth acks, and an
// absent code must not read as code zero.
type pushEnvelope struct {
	Op      string          `json:"op"`
	ReqID   string          `json:"req_id"`
	Success bool            `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	RetCode *int            `json:"retCode"`
	ConnID  string          `json:"conn_id"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Args    []string        `json:"args"`
	Data    json.RawMessage `json:"data"`
}

// wsCommand is the outbound websocket frame shape.
type wsCommand struct {
	ReqID string `json:"req_id,omitempty"`
	Op    string `json:"op"`
	Args  []any  `json:"args,omitempty"`
}

// InstrumentInfo is one entry from GET /v5/market/instruments-info.
type InstrumentInfo struct {
	Symbol       string `json:"symbol"`
	ContractType string `json:"contractType"`
	Status       string `json:"status"`
	BaseCoin     string `json:"baseCoin"`
	QuoteCoin    string `json:"quoteCoin"`
	LaunchTime   string `json:"launchTime"`
	PriceFilter  struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		QtyStep          string `json:"qtyStep"`
		MinOrderQty      string `json:"minOrderQty"`
		MaxOrderQty      string `json:"maxOrderQty"`
		MinNotionalValue string `json:"minNotionalValue"`
	} `json:"lotSizeFilter"`
}

// ToInstrument validates the record and converts it to the domain type.
// Absent filter fields take the exchange defaults; present but malformed
// values are rejected rather than silently zeroed.
func (i InstrumentInfo) ToInstrument() (domain.Instrument, error) {
	if i.Symbol == "" {
		return domain.Instrument{}, errors.New("bybit: instrument without symbol")
	}

	inst := domain.Instrument{
		Symbol:       i.Symbol,
		ContractType: i.ContractType,
		Status:       i.Status,
		TickSize:     i.PriceFilter.TickSize,
		QtyStep:      1,
		MinOrderQty:  1,
		MinNotional:  5,
	}
	if inst.TickSize == "" {
		inst.TickSize = "0.0001"
	}

	if v := i.LotSizeFilter.QtyStep; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: bad qtyStep %q", i.Symbol, v)
		}
		inst.QtyStep = f
	}
	if v := i.LotSizeFilter.MinOrderQty; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: bad minOrderQty %q", i.Symbol, v)
		}
		inst.MinOrderQty = f
	}
	if v := i.LotSizeFilter.MinNotionalValue; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: bad minNotionalValue %q", i.Symbol, v)
		}
		inst.MinNotional = f
	}
	if v := i.LaunchTime; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: bad launchTime %q", i.Symbol, v)
		}
		inst.LaunchTime = time.UnixMilli(ms)
	}
	return inst, nil
}

// TickerInfo is one best-quote record, shared by the REST tickers endpoint
// and the tickers.* stream topic.
type TickerInfo struct {
	Symbol    string `json:"symbol"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	LastPrice string `json:"lastPrice"`
}

// Merge overlays the record's populated fields onto prev. Stream ticker
// frames are deltas that omit unchanged fields, so empty or unparseable
// fields keep the previous value.
func (t TickerInfo) Merge(prev domain.Ticker) domain.Ticker {
	out := prev
	if t.Symbol != "" {
		out.Symbol = t.Symbol
	}
	if v, ok := toFloat(t.Bid1Price); ok {
		out.Bid = v
	}
	if v, ok := toFloat(t.Ask1Price); ok {
		out.Ask = v
	}
	if v, ok := toFloat(t.LastPrice); ok {
		out.Last = v
	}
	return out
}

// OrderRequest is the payload for POST /v5/order/create. Field order matches
// the serialized body the signature covers.
type OrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	TimeInForce string `json:"timeInForce"`
	Price       string `json:"price,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

// OrderRef identifies an accepted order.
type OrderRef struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// OrderUpdate is one entry from the private order stream topic.
type OrderUpdate struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	OrderStatus   string `json:"orderStatus"`
	StopOrderType string `json:"stopOrderType"`
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	CumExecQty    string `json:"cumExecQty"`
	CumExecValue  string `json:"cumExecValue"`
	AvgPrice      string `json:"avgPrice"`
	UpdatedTime   string `json:"updatedTime"`
}

// ExecutedQty returns the cumulative executed quantity, zero when absent.
func (o OrderUpdate) ExecutedQty() float64 {
	v, _ := toFloat(o.CumExecQty)
	return v
}

// ExecutedPrice returns the average execution price, zero when absent.
func (o OrderUpdate) ExecutedPrice() float64 {
	v, _ := toFloat(o.AvgPrice)
	return v
}

// ExecutionUpdate is one entry from the private execution stream topic.
type ExecutionUpdate struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	ExecID      string `json:"execId"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecValue   string `json:"execValue"`
	ExecFee     string `json:"execFee"`
	ExecTime    string `json:"execTime"`
}

// QtyValue returns the executed quantity, zero when absent.
func (e ExecutionUpdate) QtyValue() float64 {
	v, _ := toFloat(e.ExecQty)
	return v
}

// PriceValue returns the execution price, zero when absent.
func (e ExecutionUpdate) PriceValue() float64 {
	v, _ := toFloat(e.ExecPrice)
	return v
}

// PositionInfo is one entry from GET /v5/position/list.
type PositionInfo struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	PositionValue string `json:"positionValue"`
	MarkPrice     string `json:"markPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	TrailingStop  string `json:"trailingStop"`
}

// SizeValue returns the position size, zero when flat or absent.
func (p PositionInfo) SizeValue() float64 {
	v, _ := toFloat(p.Size)
	return v
}

// WalletAccount is one entry from GET /v5/account/wallet-balance.
type WalletAccount struct {
	AccountType           string        `json:"accountType"`
	TotalEquity           string        `json:"totalEquity"`
	TotalWalletBalance    string        `json:"totalWalletBalance"`
	TotalAvailableBalance string        `json:"totalAvailableBalance"`
	Coins                 []CoinBalance `json:"coin"`
}

// Equity returns the account's total equity in USD, zero when absent.
func (w WalletAccount) Equity() float64 {
	v, _ := toFloat(w.TotalEquity)
	return v
}

// CoinBalance is one per-coin balance inside a wallet account.
type CoinBalance struct {
	Coin          string `json:"coin"`
	WalletBalance string `json:"walletBalance"`
	Equity        string `json:"equity"`
	UsdValue      string `json:"usdValue"`
}

// toFloat parses an exchange decimal string. Empty and malformed values
// report ok=false so callers can keep a previous value or a default.
func toFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
