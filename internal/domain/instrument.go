// Package domain defines the core types and sentinel errors shared across
// the bot. It has no dependencies beyond the standard library.
package domain

import (
	"strings"
	"time"
)

// Instrument describes one tradable contract as reported by the exchange
// instrument list. It is immutable for the duration of a snipe.
type Instrument struct {
	Symbol       string
	ContractType string
	Status       string
	TickSize     string // minimum price increment, e.g. "0.0001"
	QtyStep      float64
	MinOrderQty  float64
	MinNotional  float64
	LaunchTime   time.Time
}

// PricePrecision returns the number of decimal places implied by the tick
// size, e.g. "0.0010" -> 3. Malformed tick sizes fall back to 4.
func (i Instrument) PricePrecision() int {
	ts := i.TickSize
	if ts == "" {
		return 4
	}
	dot := strings.IndexByte(ts, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(ts[dot+1:], "0")
	return len(frac)
}

// Age returns how long ago the instrument launched.
func (i Instrument) Age(now time.Time) time.Duration {
	return now.Sub(i.LaunchTime)
}

// Ticker is the latest best-quote snapshot for one symbol. Last-writer-wins;
// there is no history.
type Ticker struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
}
