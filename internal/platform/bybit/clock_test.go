package bybit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// addSample injects a raw offset sample: with localSend == localRecv == 0 the
// derived sample equals serverTs.
func addSample(c *ClockSync, v int64) {
	c.Sample(v, 0, 0)
}

func TestClockSyncSampleDerivation(t *testing.T) {
	t.Parallel()

	c := NewClockSync()

	// Round trip of 40ms, server 150ms ahead at receipt: the one-way estimate
	// is 20ms, so the derived offset is 150.
	c.Sample(1170, 1000, 1040)
	assert.Equal(t, int64(150), c.Offset())
}

func TestClockSyncMedianShrugsOffSpike(t *testing.T) {
	t.Parallel()

	c := NewClockSync()
	for _, v := range []int64{10, 12, 1000, 11, 13} {
		addSample(c, v)
	}
	assert.Equal(t, int64(12), c.Offset())
}

func TestClockSyncUpperMedianOnEvenWindow(t *testing.T) {
	t.Parallel()

	c := NewClockSync()
	for _, v := range []int64{10, 20, 30, 40} {
		addSample(c, v)
	}
	assert.Equal(t, int64(30), c.Offset())
}

func TestClockSyncWindowEviction(t *testing.T) {
	t.Parallel()

	c := NewClockSync()

	// Ten early samples at 100, then ten at 200: the old ones age out and the
	// estimate follows.
	for i := 0; i < 10; i++ {
		addSample(c, 100)
	}
	assert.Equal(t, int64(100), c.Offset())

	for i := 0; i < 10; i++ {
		addSample(c, 200)
	}
	assert.Equal(t, int64(200), c.Offset())
}

func TestClockSyncEvictionWithJitter(t *testing.T) {
	t.Parallel()

	c := NewClockSync()
	for _, v := range []int64{10, 12, 11, 9, 50, 10, 11, 9, 10, 11, 12} {
		addSample(c, v)
	}

	// Eleven samples, so the first aged out; the upper median of the
	// surviving window holds at 11 despite the 50ms outlier.
	assert.Equal(t, int64(11), c.Offset())
}

func TestClockSyncCalibrateTrimsWarmup(t *testing.T) {
	t.Parallel()

	c := NewClockSync()

	// Two slow warm-up probes, then clean samples.
	for _, v := range []int64{500, 400, 10, 12, 11} {
		addSample(c, v)
	}
	assert.Equal(t, int64(12), c.Offset())

	c.Calibrate()
	assert.Equal(t, int64(11), c.Offset())
}

func TestClockSyncCalibrateNeedsSamples(t *testing.T) {
	t.Parallel()

	c := NewClockSync()
	addSample(c, 300)
	addSample(c, 400)

	// Nothing beyond the warm-up window: the estimate stands.
	c.Calibrate()
	assert.Equal(t, int64(400), c.Offset())
}

func TestClockSyncNow(t *testing.T) {
	t.Parallel()

	c := NewClockSync()
	addSample(c, 250)

	want := time.Now().Add(250 * time.Millisecond)
	assert.WithinDuration(t, want, c.Now(), 100*time.Millisecond)
}
