package bybit

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/jwdevries/snipebot/internal/domain"
)

// Handlers for decoded stream frames. Handlers run synchronously on the
// stream's delivery goroutine and must not block.
type (
	TickerHandler    func(domain.Ticker)
	OrderHandler     func(OrderUpdate)
	ExecutionHandler func(ExecutionUpdate)
)

// Router decodes topic frames and dispatches them, at most one handler per
// topic. Administrative frames never reach handlers. Ticker frames update the
// shared best-quote snapshot before dispatch, so readers polling Ticker see
// the same state handlers do.
type Router struct {
	logger *slog.Logger

	mu      sync.RWMutex
	tickers map[string]domain.Ticker

	handlerMu   sync.RWMutex
	onTicker    TickerHandler
	onOrder     OrderHandler
	onExecution ExecutionHandler
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		logger:  logger.With(slog.String("component", "router")),
		tickers: make(map[string]domain.Ticker),
	}
}

// OnTicker sets the ticker handler, replacing any previous one.
func (r *Router) OnTicker(h TickerHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onTicker = h
}

// OnOrder sets the order-update handler, replacing any previous one.
func (r *Router) OnOrder(h OrderHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onOrder = h
}

// OnExecution sets the execution handler, replacing any previous one.
func (r *Router) OnExecution(h ExecutionHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onExecution = h
}

// Ticker returns the latest best-quote snapshot for symbol.
func (r *Router) Ticker(symbol string) (domain.Ticker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickers[symbol]
	return t, ok
}

// Route decodes one raw frame and dispatches it by topic. Frames carrying an
// op are administrative and are dropped here; the stream consumes them before
// routing, so seeing one is a wiring error, not data.
func (r *Router) Route(raw []byte) {
	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Debug("dropping unparseable frame", slog.String("error", err.Error()))
		return
	}
	if env.Op != "" || env.Topic == "" {
		return
	}

	switch {
	case strings.HasPrefix(env.Topic, "tickers."):
		r.handleTicker(env.Data)
	case strings.Contains(env.Topic, "order"):
		r.handleOrders(env.Data)
	case strings.Contains(env.Topic, "execution"):
		r.handleExecutions(env.Data)
	default:
		r.logger.Debug("unhandled topic", slog.String("topic", env.Topic))
	}
}

func (r *Router) handleTicker(data json.RawMessage) {
	var info TickerInfo
	if err := json.Unmarshal(data, &info); err != nil || info.Symbol == "" {
		return
	}

	r.mu.Lock()
	merged := info.Merge(r.tickers[info.Symbol])
	r.tickers[info.Symbol] = merged
	r.mu.Unlock()

	r.handlerMu.RLock()
	h := r.onTicker
	r.handlerMu.RUnlock()
	if h != nil {
		h(merged)
	}
}

func (r *Router) handleOrders(data json.RawMessage) {
	var updates []OrderUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		r.logger.Debug("dropping malformed order payload", slog.String("error", err.Error()))
		return
	}

	r.handlerMu.RLock()
	h := r.onOrder
	r.handlerMu.RUnlock()
	if h == nil {
		return
	}
	for _, u := range updates {
		h(u)
	}
}

func (r *Router) handleExecutions(data json.RawMessage) {
	var updates []ExecutionUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		r.logger.Debug("dropping malformed execution payload", slog.String("error", err.Error()))
		return
	}

	r.handlerMu.RLock()
	h := r.onExecution
	r.handlerMu.RUnlock()
	if h == nil {
		return
	}
	for _, u := range updates {
		h(u)
	}
}
