package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwdevries/snipebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeListings struct {
	batches [][]domain.Instrument
	calls   int
}

func (f *fakeListings) ScanForNew(context.Context) []domain.Instrument {
	if f.calls >= len(f.batches) {
		return nil
	}
	b := f.batches[f.calls]
	f.calls++
	return b
}

type fakeEngine struct {
	result   domain.SnipeResult
	trailErr error
	sniped   []string
	trailed  []string
}

func (f *fakeEngine) ExecuteSnipe(_ context.Context, inst domain.Instrument) domain.SnipeResult {
	f.sniped = append(f.sniped, inst.Symbol)
	r := f.result
	r.Symbol = inst.Symbol
	return r
}

func (f *fakeEngine) SetTrailingStop(_ context.Context, symbol string, _ float64) error {
	f.trailed = append(f.trailed, symbol)
	return f.trailErr
}

type fakeBook struct {
	open   map[string]bool
	addErr error
	added  []string
	marked []string
}

func (f *fakeBook) HasPosition(symbol string) bool { return f.open[symbol] }

func (f *fakeBook) AddPosition(symbol string, _ domain.Side, _, _ float64) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, symbol)
	return nil
}

func (f *fakeBook) MarkTrailingSet(symbol string) { f.marked = append(f.marked, symbol) }

type fakeAlerts struct {
	events []string
	titles []string
}

func (f *fakeAlerts) Notify(event, title, _ string) {
	f.events = append(f.events, event)
	f.titles = append(f.titles, title)
}

// fixedClock always reports the same instant.
type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// stepClock advances by step on every Now call, so grid sleeps resolve
// without real waiting.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.now
	c.now = c.now.Add(c.step)
	return n
}

var pollBase = time.Date(2026, 8, 23, 12, 0, 2, 0, time.UTC)

func newTestOrchestrator(listings ListingSource, engine SnipeEngine, book PositionBook, alerts Alerter, clock Clock) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Scanner:  listings,
		Ladder:   engine,
		Ledger:   book,
		Notifier: alerts,
		Clock:    clock,
		Interval: 5 * time.Second,
		Offset:   100 * time.Millisecond,
		Logger:   testLogger(),
	})
}

func TestPollSnipesFreshListing(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{batches: [][]domain.Instrument{{
		{Symbol: "NEWUSDT", LaunchTime: pollBase.Add(-30 * time.Second)},
	}}}
	engine := &fakeEngine{result: domain.SnipeResult{
		Success:     true,
		FilledQty:   97,
		FilledValue: 99.91,
		AvgEntry:    1.03,
		OrdersSent:  5,
	}}
	book := &fakeBook{}
	alerts := &fakeAlerts{}

	o := newTestOrchestrator(listings, engine, book, alerts, fixedClock(pollBase))
	require.NoError(t, o.poll(context.Background()))

	assert.Equal(t, []string{"NEWUSDT"}, engine.sniped)
	assert.Equal(t, []string{"NEWUSDT"}, engine.trailed)
	assert.Equal(t, []string{"NEWUSDT"}, book.added)
	assert.Equal(t, []string{"NEWUSDT"}, book.marked)

	attempted, succeeded := o.SnipeCounts()
	assert.Equal(t, int64(1), attempted)
	assert.Equal(t, int64(1), succeeded)

	assert.Equal(t, []string{"listing", "snipe"}, alerts.events)
	assert.Equal(t, []string{"New listing detected", "Snipe complete"}, alerts.titles)
}

func TestPollSkipsSymbolWithOpenPosition(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{batches: [][]domain.Instrument{{
		{Symbol: "NEWUSDT", LaunchTime: pollBase.Add(-30 * time.Second)},
	}}}
	engine := &fakeEngine{result: domain.SnipeResult{Success: true}}
	book := &fakeBook{open: map[string]bool{"NEWUSDT": true}}
	alerts := &fakeAlerts{}

	o := newTestOrchestrator(listings, engine, book, alerts, fixedClock(pollBase))
	require.NoError(t, o.poll(context.Background()))

	assert.Empty(t, engine.sniped)
	assert.Empty(t, alerts.events)

	attempted, _ := o.SnipeCounts()
	assert.Zero(t, attempted)
}

func TestPollMonitorModeOnlyReports(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{batches: [][]domain.Instrument{{
		{Symbol: "NEWUSDT", LaunchTime: pollBase.Add(-30 * time.Second)},
	}}}
	book := &fakeBook{}
	alerts := &fakeAlerts{}

	o := NewOrchestrator(OrchestratorConfig{
		Scanner:  listings,
		Ledger:   book,
		Notifier: alerts,
		Clock:    fixedClock(pollBase),
		Interval: 5 * time.Second,
		Offset:   100 * time.Millisecond,
		Logger:   testLogger(),
	})
	require.NoError(t, o.poll(context.Background()))

	assert.Equal(t, []string{"listing"}, alerts.events)
	assert.Empty(t, book.added)

	attempted, succeeded := o.SnipeCounts()
	assert.Zero(t, attempted)
	assert.Zero(t, succeeded)
}

func TestPollFailedSnipeCountsAttemptOnly(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{batches: [][]domain.Instrument{{
		{Symbol: "NEWUSDT", LaunchTime: pollBase.Add(-30 * time.Second)},
	}}}
	engine := &fakeEngine{result: domain.SnipeResult{
		Success:    false,
		Error:      "budget exhausted",
		OrdersSent: 18,
	}}
	book := &fakeBook{}
	alerts := &fakeAlerts{}

	o := newTestOrchestrator(listings, engine, book, alerts, fixedClock(pollBase))
	require.NoError(t, o.poll(context.Background()))

	attempted, succeeded := o.SnipeCounts()
	assert.Equal(t, int64(1), attempted)
	assert.Zero(t, succeeded)

	assert.Empty(t, book.added)
	assert.Contains(t, alerts.titles, "Snipe failed")
}

func TestPollTrailingStopFailureKeepsPosition(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{batches: [][]domain.Instrument{{
		{Symbol: "NEWUSDT", LaunchTime: pollBase.Add(-30 * time.Second)},
	}}}
	engine := &fakeEngine{
		result:   domain.SnipeResult{Success: true, FilledQty: 97, AvgEntry: 1.03},
		trailErr: errors.New("rest: retCode 10001"),
	}
	book := &fakeBook{}
	alerts := &fakeAlerts{}

	o := newTestOrchestrator(listings, engine, book, alerts, fixedClock(pollBase))
	require.NoError(t, o.poll(context.Background()))

	assert.Equal(t, []string{"NEWUSDT"}, book.added)
	assert.Empty(t, book.marked)
	assert.Contains(t, alerts.titles, "Trailing stop failed")
	assert.Contains(t, alerts.titles, "Snipe complete")

	_, succeeded := o.SnipeCounts()
	assert.Equal(t, int64(1), succeeded)
}

func TestPollPropagatesLedgerError(t *testing.T) {
	t.Parallel()

	listings := &fakeListings{batches: [][]domain.Instrument{{
		{Symbol: "NEWUSDT", LaunchTime: pollBase.Add(-30 * time.Second)},
	}}}
	engine := &fakeEngine{result: domain.SnipeResult{Success: true, FilledQty: 97, AvgEntry: 1.03}}
	book := &fakeBook{addErr: domain.ErrPositionExists}
	alerts := &fakeAlerts{}

	o := newTestOrchestrator(listings, engine, book, alerts, fixedClock(pollBase))
	err := o.poll(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPositionExists)
	assert.Contains(t, err.Error(), "record position")
}

func TestNextPollTime(t *testing.T) {
	t.Parallel()

	interval := 5 * time.Second
	offset := 100 * time.Millisecond

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid interval",
			now:  time.Date(2026, 8, 23, 12, 0, 2, 300000000, time.UTC),
			want: time.Date(2026, 8, 23, 12, 0, 5, 100000000, time.UTC),
		},
		{
			name: "exactly on boundary schedules a full interval out",
			now:  time.Date(2026, 8, 23, 12, 0, 5, 0, time.UTC),
			want: time.Date(2026, 8, 23, 12, 0, 10, 100000000, time.UTC),
		},
		{
			name: "just past the offset waits for the next slot",
			now:  time.Date(2026, 8, 23, 12, 0, 5, 200000000, time.UTC),
			want: time.Date(2026, 8, 23, 12, 0, 10, 100000000, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, nextPollTime(tt.now, interval, offset).Equal(tt.want))
		})
	}
}

func TestRunReturnsWhenCancelledBeforeFirstPoll(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(&fakeListings{}, &fakeEngine{}, &fakeBook{}, &fakeAlerts{}, fixedClock(pollBase))
	err := o.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)

	attempted, _ := o.SnipeCounts()
	assert.Zero(t, attempted)
}

// cancellingListings cancels the run context as the scan returns, simulating
// shutdown arriving while a poll is in flight.
type cancellingListings struct {
	cancel context.CancelFunc
	inner  *fakeListings
}

func (c *cancellingListings) ScanForNew(ctx context.Context) []domain.Instrument {
	defer c.cancel()
	return c.inner.ScanForNew(ctx)
}

func TestRunSnipesThenStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listings := &cancellingListings{
		cancel: cancel,
		inner: &fakeListings{batches: [][]domain.Instrument{{
			{Symbol: "NEWUSDT", LaunchTime: pollBase.Add(-30 * time.Second)},
		}}},
	}
	engine := &fakeEngine{result: domain.SnipeResult{Success: true, FilledQty: 97, AvgEntry: 1.03}}
	book := &fakeBook{}

	// Large steps make every grid wait resolve without real sleeping.
	clock := &stepClock{now: pollBase, step: 6 * time.Second}

	o := newTestOrchestrator(listings, engine, book, &fakeAlerts{}, clock)
	err := o.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"NEWUSDT"}, engine.sniped)

	attempted, succeeded := o.SnipeCounts()
	assert.Equal(t, int64(1), attempted)
	assert.Equal(t, int64(1), succeeded)
}
