// Package sniper implements the entry side of the bot: a ladder of paced IOC
// limit buys walked up a slippage schedule until the budget is filled, plus
// the fill tracker that matches stream confirmations back to ladder orders.
package sniper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jwdevries/snipebot/internal/domain"
	"github.com/jwdevries/snipebot/internal/metrics"
	"github.com/jwdevries/snipebot/internal/platform/bybit"
)

const (
	// subscribeSettle is the wait after subscribing the symbol's ticker topic
	// before the first price read.
	subscribeSettle = 300 * time.Millisecond

	// noTickerBackoff is the retry delay when no quote exists at all;
	// badAskBackoff when a quote exists but carries no usable ask yet.
	noTickerBackoff = 100 * time.Millisecond
	badAskBackoff   = 50 * time.Millisecond
)

// Exchange is the slice of the trading API the ladder uses.
type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	PlaceOrder(ctx context.Context, req bybit.OrderRequest) (bybit.OrderRef, error)
	SetTrailingStop(ctx context.Context, symbol, distance, activePrice string) error
}

// TickerSource exposes the live best-quote snapshot maintained by the stream
// router.
type TickerSource interface {
	Ticker(symbol string) (domain.Ticker, bool)
}

// TopicSubscriber adds topics to a stream's replayed subscription set.
type TopicSubscriber interface {
	Subscribe(topics ...string) error
}

// Params shape one ladder run.
type Params struct {
	BudgetUSDT    float64
	Steps         []float64 // ascending slippage fractions, e.g. 0.0005
	RepeatPerStep int
	OrderInterval time.Duration
	MaxOrders     int
	TrailingPct   float64
	ActivationPct float64
}

// Ladder walks a fresh listing with paced IOC limit buys, advancing the
// slippage step every RepeatPerStep orders until the budget is filled, the
// order cap is hit, or the remaining budget can no longer clear the
// instrument's minimum notional.
type Ladder struct {
	params  Params
	client  Exchange
	tickers TickerSource
	public  TopicSubscriber
	fills   *FillTracker
	logger  *slog.Logger
}

func NewLadder(params Params, client Exchange, tickers TickerSource, public TopicSubscriber, fills *FillTracker, logger *slog.Logger) *Ladder {
	return &Ladder{
		params:  params,
		client:  client,
		tickers: tickers,
		public:  public,
		fills:   fills,
		logger:  logger.With(slog.String("component", "ladder")),
	}
}

// ExecuteSnipe runs the ladder against one instrument and reports the
// outcome. Success means any quantity filled. The run is cancelled only by
// ctx; a rejection counts against the order cap but is never retried
// verbatim, while a transport failure costs nothing.
func (l *Ladder) ExecuteSnipe(ctx context.Context, inst domain.Instrument) domain.SnipeResult {
	symbol := inst.Symbol
	logger := l.logger.With(slog.String("symbol", symbol))
	logger.InfoContext(ctx, "snipe starting",
		slog.Float64("budget_usdt", l.params.BudgetUSDT),
		slog.Int("max_orders", l.params.MaxOrders),
		slog.Int("price_precision", inst.PricePrecision()))

	if err := l.public.Subscribe("tickers." + symbol); err != nil {
		logger.WarnContext(ctx, "ticker subscribe failed", slog.String("error", err.Error()))
	}
	sleepCtx(ctx, subscribeSettle)

	var (
		taken       = make(map[string]domain.Fill)
		issued      []string
		filledQty   float64
		filledValue float64
		ordersSent  int
		repeats     int
		stepIdx     int
	)
	precision := inst.PricePrecision()

	recompute := func() {
		filledQty, filledValue = 0, 0
		for _, f := range taken {
			filledQty += f.Qty
			filledValue += f.Qty * f.AvgPrice
		}
	}

	for filledValue < l.params.BudgetUSDT && ordersSent < l.params.MaxOrders {
		if ctx.Err() != nil {
			break
		}

		ask, haveTicker := l.currentAsk(ctx, symbol)
		if !haveTicker {
			if !sleepCtx(ctx, noTickerBackoff) {
				break
			}
			continue
		}
		if ask <= 0 {
			if !sleepCtx(ctx, badAskBackoff) {
				break
			}
			continue
		}

		slip := l.slippageAt(stepIdx)
		priceStr, qtyStr, notional, err := buildOrder(inst, ask, slip, l.params.BudgetUSDT-filledValue, precision)
		if err != nil {
			if errors.Is(err, domain.ErrMinNotional) {
				logger.InfoContext(ctx, "ladder exhausted",
					slog.Float64("notional", notional),
					slog.Float64("min_notional", inst.MinNotional))
				break
			}
			logger.WarnContext(ctx, "order sizing failed", slog.String("error", err.Error()))
			break
		}

		linkID := fmt.Sprintf("SNIPE_%s_%d_%d", symbol, ordersSent, time.Now().UnixMilli())
		ref, err := l.client.PlaceOrder(ctx, bybit.OrderRequest{
			Symbol:      symbol,
			Side:        string(domain.SideBuy),
			Qty:         qtyStr,
			Price:       priceStr,
			OrderLinkID: linkID,
		})
		switch {
		case err == nil:
			ordersSent++
			issued = append(issued, linkID)
			metrics.IncOrderPlaced(symbol)
			logger.InfoContext(ctx, "order submitted",
				slog.Int("n", ordersSent),
				slog.String("order_id", ref.OrderID),
				slog.String("price", priceStr),
				slog.String("qty", qtyStr),
				slog.Float64("slippage", slip))
		case errors.Is(err, domain.ErrOrderRejected):
			ordersSent++
			metrics.IncOrderRejected(symbol)
			logger.WarnContext(ctx, "order rejected", slog.Int("n", ordersSent), slog.String("error", err.Error()))
		default:
			logger.WarnContext(ctx, "order submit failed", slog.String("error", err.Error()))
		}

		if !sleepCtx(ctx, l.params.OrderInterval) {
			break
		}

		if fill, ok := l.fills.Take(linkID); ok {
			taken[linkID] = fill
			metrics.IncFill(symbol)
			recompute()
			logger.InfoContext(ctx, "fill",
				slog.Float64("qty", fill.Qty),
				slog.Float64("avg_price", fill.AvgPrice),
				slog.Float64("filled_value", filledValue))
		}

		repeats++
		if repeats >= l.params.RepeatPerStep {
			repeats = 0
			stepIdx++
		}
	}

	// IOC confirmations can land after the last pacing wait; give stragglers
	// one more interval, then sweep everything this run issued.
	if len(issued) > 0 {
		sleepCtx(ctx, l.params.OrderInterval)
		for _, id := range issued {
			if fill, ok := l.fills.Take(id); ok {
				taken[id] = fill
				metrics.IncFill(symbol)
			}
		}
		recompute()
	}

	result := domain.SnipeResult{
		Symbol:     symbol,
		OrdersSent: ordersSent,
	}
	for _, id := range issued {
		if fill, ok := taken[id]; ok {
			result.Fills = append(result.Fills, fill)
		}
	}
	if filledQty > 0 {
		result.Success = true
		result.FilledQty = filledQty
		result.FilledValue = filledValue
		result.AvgEntry = filledValue / filledQty
	} else if err := ctx.Err(); err != nil {
		result.Error = err.Error()
	}
	metrics.IncSnipe(result.Success)

	logger.InfoContext(ctx, "snipe finished",
		slog.Bool("success", result.Success),
		slog.Float64("filled_qty", result.FilledQty),
		slog.Float64("filled_value", result.FilledValue),
		slog.Float64("avg_entry", result.AvgEntry),
		slog.Int("orders_sent", result.OrdersSent))
	return result
}

// SetTrailingStop converts the configured trail percent into an absolute
// price distance and attaches it to the fresh position. An activation
// percent above zero defers the trail until price has moved that far in
// favor. Failure leaves the position standing; the caller decides what to do
// with an unprotected position.
func (l *Ladder) SetTrailingStop(ctx context.Context, symbol string, entryPrice float64) error {
	distance := formatTrail(entryPrice * l.params.TrailingPct / 100)
	active := ""
	if l.params.ActivationPct > 0 {
		active = formatTrail(entryPrice * (1 + l.params.ActivationPct/100))
	}

	if err := l.client.SetTrailingStop(ctx, symbol, distance, active); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "trailing stop set",
		slog.String("symbol", symbol),
		slog.String("distance", distance),
		slog.Float64("trailing_pct", l.params.TrailingPct))
	return nil
}

// slippageAt returns the slippage fraction for a step index, clamped to the
// last configured step.
func (l *Ladder) slippageAt(idx int) float64 {
	if idx >= len(l.params.Steps) {
		idx = len(l.params.Steps) - 1
	}
	return l.params.Steps[idx]
}

// currentAsk prefers the live snapshot and falls back to a REST quote.
// haveTicker distinguishes "no quote at all" from "quote without a usable
// ask"; the two get different backoffs.
func (l *Ladder) currentAsk(ctx context.Context, symbol string) (ask float64, haveTicker bool) {
	if tk, ok := l.tickers.Ticker(symbol); ok {
		return tk.Ask, true
	}
	tk, err := l.client.GetTicker(ctx, symbol)
	if err != nil {
		return 0, false
	}
	return tk.Ask, true
}

// buildOrder sizes one rung: limit price = ask stretched by the slippage
// fraction and formatted to the price quantum, quantity = remaining budget at
// that price floored to the step and promoted to the instrument minimum. A
// notional below the instrument's floor reports domain.ErrMinNotional.
func buildOrder(inst domain.Instrument, ask, slip, remaining float64, precision int) (priceStr, qtyStr string, notional float64, err error) {
	priceStr = strconv.FormatFloat(ask*(1+slip), 'f', precision, 64)
	price, perr := strconv.ParseFloat(priceStr, 64)
	if perr != nil || price <= 0 {
		return "", "", 0, fmt.Errorf("sniper: degenerate limit price %q", priceStr)
	}

	qty := roundQty(remaining/price, inst.QtyStep)
	if qty < inst.MinOrderQty {
		qty = inst.MinOrderQty
	}
	notional = qty * price
	if notional < inst.MinNotional {
		return "", "", notional, fmt.Errorf("sniper: notional %.4f: %w", notional, domain.ErrMinNotional)
	}
	return priceStr, formatQty(qty, inst.QtyStep), notional, nil
}

// roundQty floors qty to the instrument's step; steps of one or more floor
// to whole contracts.
func roundQty(qty, step float64) float64 {
	if step >= 1 {
		return math.Floor(qty)
	}
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}

// formatQty renders qty with exactly the decimals the step implies, clearing
// the float noise the step division leaves behind.
func formatQty(qty, step float64) string {
	return strconv.FormatFloat(qty, 'f', stepDecimals(step), 64)
}

// stepDecimals derives the decimal places of a quantity step, e.g. 0.001 -> 3.
func stepDecimals(step float64) int {
	if step >= 1 || step <= 0 {
		return 0
	}
	s := strconv.FormatFloat(step, 'f', -1, 64)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return len(s) - i - 1
		}
	}
	return 0
}

// formatTrail renders a stop distance or activation price at the exchange's
// six-decimal tolerance.
func formatTrail(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

// sleepCtx waits for d, reporting false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
