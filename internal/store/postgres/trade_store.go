package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jwdevries/snipebot/internal/domain"
)

// TradeStore persists completed trades. Inserts are idempotent on the trade
// id, so replaying the journal at startup converges the mirror instead of
// duplicating rows.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// InsertBatch inserts multiple trades using a pgx Batch. Rows whose id
// already exists are silently skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.TradeResult) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (
			id, symbol, side, qty,
			entry_price, exit_price, entry_time, exit_time,
			entry_value, exit_value,
			gross_pnl, fees, net_pnl, roi_pct, duration_sec
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10,
			$11, $12, $13, $14, $15
		) ON CONFLICT (id) DO NOTHING`

	for _, t := range trades {
		batch.Queue(query,
			t.ID, t.Symbol, string(t.Side), t.Qty,
			t.EntryPrice, t.ExitPrice, t.EntryTime, t.ExitTime,
			t.EntryValue, t.ExitValue,
			t.GrossPnl, t.Fees, t.NetPnl, t.RoiPct, t.DurationSec,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}
