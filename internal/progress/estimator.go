// Package progress tracks import throughput and estimates completion.
package progress

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Estimator calculates ETA using an exponential moving average of byte
// throughput. EMA gives far steadier estimates than total/elapsed,
// especially across phase changes (schema DDL vs bulk row inserts).
type Estimator struct {
	mu sync.Mutex

	// Exponential moving average of throughput (bytes/sec)
	speedEMA float64
	alpha    float64 // 0.2 = 20% new sample, 80% history

	lastUpdate time.Time
	lastBytes  int64

	// Warmup: suppress ETA until enough stable samples exist.
	sampleCount    int
	warmupRequired int
	warmupComplete bool
}

// NewEstimator creates an estimator. alpha controls smoothing (lower =
// steadier), warmupSamples is how many intervals to wait before an ETA
// is reported.
func NewEstimator(alpha float64, warmupSamples int) *Estimator {
	if alpha <= 0 || alpha > 1.0 {
		alpha = 0.2
	}
	if warmupSamples < 1 {
		warmupSamples = 5
	}
	return &Estimator{
		alpha:          alpha,
		warmupRequired: warmupSamples,
	}
}

// NewDefaultEstimator uses alpha=0.2 and a 5-sample warmup.
func NewDefaultEstimator() *Estimator {
	return NewEstimator(0.2, 5)
}

// Update records a byte-offset sample. Samples closer than 500ms apart
// are dropped to keep the instantaneous speed out of the noise floor.
func (e *Estimator) Update(currentBytes int64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastUpdate.IsZero() {
		e.lastUpdate = now
		e.lastBytes = currentBytes
		return
	}

	elapsed := now.Sub(e.lastUpdate).Seconds()
	if elapsed < 0.5 {
		return
	}

	deltaBytes := currentBytes - e.lastBytes
	if deltaBytes < 0 {
		deltaBytes = 0 // counter reset guard (replay seek)
	}
	instantSpeed := float64(deltaBytes) / elapsed

	if e.speedEMA == 0 {
		e.speedEMA = instantSpeed
	} else {
		e.speedEMA = e.alpha*instantSpeed + (1-e.alpha)*e.speedEMA
	}

	e.lastUpdate = now
	e.lastBytes = currentBytes
	e.sampleCount++

	if !e.warmupComplete && e.sampleCount >= e.warmupRequired {
		e.warmupComplete = true
	}
}

// EstimateETA returns the estimated time to consume remainingBytes.
// Returns (0, false) during warmup or when throughput is effectively
// stalled.
func (e *Estimator) EstimateETA(remainingBytes int64) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.warmupComplete || e.speedEMA < 100 {
		return 0, false
	}

	secondsRemaining := float64(remainingBytes) / e.speedEMA
	return time.Duration(secondsRemaining * float64(time.Second)), true
}

// SpeedBytesPerSec returns the smoothed throughput.
func (e *Estimator) SpeedBytesPerSec() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speedEMA
}

// FormatSpeed renders the smoothed throughput like "12 MB/s".
func (e *Estimator) FormatSpeed() string {
	return humanize.Bytes(uint64(e.SpeedBytesPerSec())) + "/s"
}

// Reset clears all state, e.g. when a session restarts after replay.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.speedEMA = 0
	e.lastUpdate = time.Time{}
	e.lastBytes = 0
	e.sampleCount = 0
	e.warmupComplete = false
}
