package position

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwdevries/snipebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleTrade(symbol string, net float64) domain.TradeResult {
	entry := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return domain.TradeResult{
		ID:          "t-" + symbol,
		Symbol:      symbol,
		Side:        domain.SideBuy,
		Qty:         97,
		EntryPrice:  1.03,
		ExitPrice:   1.10,
		EntryTime:   entry,
		ExitTime:    entry.Add(42 * time.Second),
		EntryValue:  99.91,
		ExitValue:   106.7,
		GrossPnl:    6.79,
		Fees:        0.1136355,
		NetPnl:      net,
		RoiPct:      6.68,
		DurationSec: 42,
	}
}

func TestJournalRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trades.json")
	j := NewJournal(path, testLogger())

	trades, err := j.Load()
	require.NoError(t, err)
	assert.Empty(t, trades)

	want := []domain.TradeResult{sampleTrade("AAAUSDT", 6.67), sampleTrade("BBBUSDT", -1.2)}
	require.NoError(t, j.Rewrite(want))

	got, err := j.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "AAAUSDT", got[0].Symbol)
	assert.Equal(t, "BBBUSDT", got[1].Symbol)
	assert.InDelta(t, 6.67, got[0].NetPnl, 1e-9)
	assert.InDelta(t, -1.2, got[1].NetPnl, 1e-9)
	assert.WithinDuration(t, want[0].EntryTime, got[0].EntryTime, time.Second)

	// The temp file never survives a completed rewrite.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestJournalUnreadableFileStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trades.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{ not json"), 0o644))

	trades, err := NewJournal(path, testLogger()).Load()
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestJournalRewriteCreatesParentDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "journal", "trades.json")
	j := NewJournal(path, testLogger())
	require.NoError(t, j.Rewrite([]domain.TradeResult{sampleTrade("AAAUSDT", 1)}))

	got, err := j.Load()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestJournalRewriteEmptyHistory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trades.json")
	j := NewJournal(path, testLogger())
	require.NoError(t, j.Rewrite(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	trades, err := j.Load()
	require.NoError(t, err)
	assert.Empty(t, trades)
}
