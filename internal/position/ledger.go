package position

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwdevries/snipebot/internal/domain"
	"github.com/jwdevries/snipebot/internal/metrics"
	"github.com/jwdevries/snipebot/internal/platform/bybit"
)

// ExitCallback receives each completed trade after it has been journaled.
type ExitCallback func(domain.TradeResult)

// Ledger owns the open-position map and the realized-trade history. Exits
// are detected from the private stream: a counter-side execution fill, or a
// filled trailing-stop order update. Both paths book the trade identically.
// At most one position exists per symbol.
type Ledger struct {
	journal  *Journal
	takerPct float64 // taker fee in percent per side, e.g. 0.055
	logger   *slog.Logger

	mu        sync.Mutex
	positions map[string]domain.Position
	trades    []domain.TradeResult
	onExit    ExitCallback
}

// NewLedger builds a ledger seeded with the journaled trade history.
func NewLedger(journal *Journal, takerPct float64, logger *slog.Logger) (*Ledger, error) {
	trades, err := journal.Load()
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		journal:   journal,
		takerPct:  takerPct,
		logger:    logger.With(slog.String("component", "ledger")),
		positions: make(map[string]domain.Position),
		trades:    trades,
	}
	metrics.SetOpenPositions(0)
	metrics.SetRealizedPnl(l.netPnlLocked())

	if len(trades) > 0 {
		l.logger.Info("trade history loaded",
			slog.Int("trades", len(trades)),
			slog.String("path", journal.Path()))
	}
	return l, nil
}

// OnExit registers the callback fired after every booked exit. The callback
// runs after persistence, off the ledger lock.
func (l *Ledger) OnExit(cb ExitCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onExit = cb
}

// AddPosition opens a tracked position. A second position on the same symbol
// is refused.
func (l *Ledger) AddPosition(symbol string, side domain.Side, qty, entryPrice float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[symbol]; exists {
		return fmt.Errorf("position: add %s: %w", symbol, domain.ErrPositionExists)
	}
	l.positions[symbol] = domain.Position{
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		EntryPrice: entryPrice,
		EntryValue: qty * entryPrice,
		EntryTime:  time.Now(),
	}
	metrics.SetOpenPositions(len(l.positions))

	l.logger.Info("position opened",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("qty", qty),
		slog.Float64("entry_price", entryPrice))
	return nil
}

// MarkTrailingSet records that the exchange accepted a trailing stop for the
// position.
func (l *Ledger) MarkTrailingSet(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	pos.TrailingSet = true
	l.positions[symbol] = pos
}

// HasPosition reports whether symbol is currently tracked.
func (l *Ledger) HasPosition(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[symbol]
	return ok
}

// GetPosition returns the tracked position for symbol.
func (l *Ledger) GetPosition(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Positions returns the open positions sorted by symbol.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns a copy of the realized-trade history, oldest first.
func (l *Ledger) Trades() []domain.TradeResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.TradeResult, len(l.trades))
	copy(out, l.trades)
	return out
}

// TotalPnl aggregates the realized history. A break-even trade counts as a
// loser.
func (l *Ledger) TotalPnl() domain.PnlSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := domain.PnlSummary{Trades: len(l.trades)}
	for _, t := range l.trades {
		s.GrossPnl += t.GrossPnl
		s.Fees += t.Fees
		s.NetPnl += t.NetPnl
		if t.NetPnl > 0 {
			s.Winners++
		} else {
			s.Losers++
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Winners) / float64(s.Trades) * 100
	}
	return s
}

// HandleExecution books an exit when a counter-side fill lands on a tracked
// symbol.
func (l *Ledger) HandleExecution(u bybit.ExecutionUpdate) {
	pos, ok := l.GetPosition(u.Symbol)
	if !ok {
		return
	}
	if domain.Side(u.Side) != pos.Side.Opposite() {
		return
	}
	qty, price := u.QtyValue(), u.PriceValue()
	if qty <= 0 || price <= 0 {
		l.logger.Warn("ignoring degenerate exit execution",
			slog.String("symbol", u.Symbol),
			slog.String("exec_qty", u.ExecQty),
			slog.String("exec_price", u.ExecPrice))
		return
	}
	l.exit(u.Symbol, qty, price, "execution")
}

// HandleOrderUpdate books an exit when a trailing-stop order on a tracked
// symbol reports itself filled.
func (l *Ledger) HandleOrderUpdate(u bybit.OrderUpdate) {
	if u.OrderStatus != string(domain.OrderStatusFilled) {
		return
	}
	if !strings.Contains(u.StopOrderType, "Trailing") {
		return
	}
	if !l.HasPosition(u.Symbol) {
		return
	}
	qty, price := u.ExecutedQty(), u.ExecutedPrice()
	if qty <= 0 || price <= 0 {
		return
	}
	l.exit(u.Symbol, qty, price, "trailing_stop")
}

// exit converts a detected exit into a TradeResult: P&L on the exit
// quantity, fee on both legs' notional, position removed whole, journal
// rewritten, callback fired last.
func (l *Ledger) exit(symbol string, qty, exitPrice float64, trigger string) {
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return
	}

	now := time.Now()
	exitValue := qty * exitPrice
	entryValue := qty * pos.EntryPrice
	gross := exitValue - entryValue
	if pos.Side == domain.SideSell {
		gross = -gross
	}
	fees := (entryValue + exitValue) * l.takerPct / 100
	net := gross - fees
	roi := 0.0
	if entryValue != 0 {
		roi = net / entryValue * 100
	}

	trade := domain.TradeResult{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        pos.Side,
		Qty:         qty,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		EntryTime:   pos.EntryTime,
		ExitTime:    now,
		EntryValue:  entryValue,
		ExitValue:   exitValue,
		GrossPnl:    gross,
		Fees:        fees,
		NetPnl:      net,
		RoiPct:      roi,
		DurationSec: now.Sub(pos.EntryTime).Seconds(),
	}
	l.trades = append(l.trades, trade)
	delete(l.positions, symbol)

	if err := l.journal.Rewrite(l.trades); err != nil {
		l.logger.Error("journal rewrite failed", slog.String("error", err.Error()))
	}
	metrics.SetOpenPositions(len(l.positions))
	metrics.SetRealizedPnl(l.netPnlLocked())
	cb := l.onExit
	l.mu.Unlock()

	l.logger.Info("position closed",
		slog.String("symbol", symbol),
		slog.String("trigger", trigger),
		slog.Float64("qty", qty),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("net_pnl", net),
		slog.Float64("roi_pct", roi),
		slog.Float64("duration_sec", trade.DurationSec))

	if cb != nil {
		cb(trade)
	}
}

// netPnlLocked sums realized net P&L; callers hold the lock or own the
// ledger exclusively.
func (l *Ledger) netPnlLocked() float64 {
	total := 0.0
	for _, t := range l.trades {
		total += t.NetPnl
	}
	return total
}
