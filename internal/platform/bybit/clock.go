package bybit

import (
	"sort"
	"sync"
	"time"

	"github.com/jwdevries/snipebot/internal/metrics"
)

const (
	// clockSampleWindow bounds the number of retained offset samples.
	clockSampleWindow = 10

	// clockWarmupSamples is how many leading calibration samples are ignored.
	// The first round trips after a fresh connection run slow and bias the
	// estimate.
	clockWarmupSamples = 2
)

// ClockSync estimates the offset between the exchange clock and the local
// clock from ping round trips on the private stream. The estimate is the
// median of the most recent samples, so an individual slow round trip does
// not move it.
type ClockSync struct {
	mu      sync.Mutex
	samples []int64
	offset  int64
}

func NewClockSync() *ClockSync {
	return &ClockSync{}
}

// Sample records one round-trip observation. serverTs is the exchange
// timestamp carried in the pong, localSend and localRecv are the local
// unix-milli times around the round trip. The derived offset sample is
// serverTs + rtt/2 - localRecv.
func (c *ClockSync) Sample(serverTs, localSend, localRecv int64) {
	oneWay := (localRecv - localSend) / 2
	sample := serverTs + oneWay - localRecv

	c.mu.Lock()
	c.samples = append(c.samples, sample)
	if len(c.samples) > clockSampleWindow {
		c.samples = c.samples[1:]
	}
	c.offset = median(c.samples)
	offset := c.offset
	c.mu.Unlock()

	metrics.SetClockOffsetMs(offset)
}

// Calibrate recomputes the offset ignoring the warm-up samples. Called once
// after the initial probe burst; the warm-up samples stay in the window and
// age out on their own.
func (c *ClockSync) Calibrate() {
	c.mu.Lock()
	if len(c.samples) <= clockWarmupSamples {
		c.mu.Unlock()
		return
	}
	c.offset = median(c.samples[clockWarmupSamples:])
	offset := c.offset
	c.mu.Unlock()

	metrics.SetClockOffsetMs(offset)
}

// Offset returns the current offset estimate in milliseconds, zero until the
// first sample arrives.
func (c *ClockSync) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Now returns the local clock shifted by the current offset estimate, i.e.
// the best guess of the exchange's own clock.
func (c *ClockSync) Now() time.Time {
	return time.Now().Add(time.Duration(c.Offset()) * time.Millisecond)
}

// median returns the upper median of samples. Callers guarantee a non-empty
// slice; the input is not mutated.
func median(samples []int64) int64 {
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
