// Package tuner recommends INSERT batch sizes from live memory pressure,
// file characteristics, and a named performance profile, and adapts the
// recommendation as batches execute.
package tuner

import (
	"fmt"
	"time"

	"github.com/w3spi5/bigdump-sub000/internal/analysis"
	apperrors "github.com/w3spi5/bigdump-sub000/internal/errors"
	"github.com/w3spi5/bigdump-sub000/internal/stream"
)

// Profile names a tuning posture.
type Profile string

const (
	ProfileConservative Profile = "conservative"
	ProfileAggressive   Profile = "aggressive"
)

// profileParams are the fixed knobs of each profile.
type profileParams struct {
	SafetyMargin float64 // memory-used fraction above which we back off
	Ceiling      int     // batch-size upper clamp (logical rows)
	Floor        int     // batch-size lower clamp
	Multiplier   float64
}

var profiles = map[Profile]profileParams{
	ProfileConservative: {SafetyMargin: 0.8, Ceiling: 1_500_000, Floor: 100, Multiplier: 1.0},
	ProfileAggressive:   {SafetyMargin: 0.7, Ceiling: 2_000_000, Floor: 100, Multiplier: 1.3},
}

// aggressiveHeadroom is the available-memory floor below which the
// aggressive profile downgrades to conservative.
const aggressiveHeadroom = 128 << 20 // 128 MiB

// ParseProfile validates a profile name. Unknown names return the
// conservative profile together with an error so callers can warn and
// continue.
func ParseProfile(name string) (Profile, error) {
	switch Profile(name) {
	case ProfileConservative, ProfileAggressive:
		return Profile(name), nil
	case "":
		return ProfileConservative, nil
	}
	return ProfileConservative, apperrors.InvalidProfile(name)
}

// CompressionMultiplier scales the baseline batch size per codec:
// uncompressed streams tolerate the largest batches, bzip2's
// decompression working set the smallest. Unknown codecs take the
// uncompressed multiplier.
func CompressionMultiplier(c stream.Codec) float64 {
	switch c {
	case stream.CodecGzip:
		return 1.0
	case stream.CodecBzip2:
		return 0.7
	case stream.CodecZstd:
		return 1.2
	case stream.CodecXz:
		return 0.6
	default:
		return 1.5
	}
}

// cacheTTL bounds how often memory is re-read inside tight loops.
const cacheTTL = 2 * time.Second

// windowSize caps the rolling sample window; minSamples gates the
// feedback loop.
const (
	windowSize = 10
	minSamples = 3
)

type sample struct {
	at          time.Time
	linesPerSec float64
	bytesPerSec float64
	memUsedPct  float64
}

// Adjustment is the outcome of one AdaptBatchSize call.
type Adjustment struct {
	BatchSize   int     `json:"batch_size"`
	Changed     bool    `json:"changed"`
	Reason      string  `json:"reason,omitempty"`
	MemUsedPct  float64 `json:"mem_used_pct"`
	LinesPerSec float64 `json:"lines_per_sec"`
	BytesPerSec float64 `json:"bytes_per_sec"`
}

// Tuner owns the tuning state for one import. Not safe for concurrent
// use; the import loop is single-threaded so the memory cache needs
// only a TTL, not a lock.
type Tuner struct {
	requested  Profile
	effective  Profile
	downgraded bool
	params     profileParams

	codec    stream.Codec
	analysis *analysis.Result

	batchSize int

	sampler Sampler
	now     func() time.Time
	cache   MemoryReading
	hasMem  bool

	window    []sample
	lastAt    time.Time
	lastRows  int64
	lastBytes int64
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithSampler replaces the memory sampler (tests).
func WithSampler(s Sampler) Option {
	return func(t *Tuner) { t.sampler = s }
}

// WithClock replaces the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tuner) { t.now = now }
}

// New creates a tuner. The aggressive profile silently downgrades to
// conservative when less than 128 MiB of system memory is available;
// the downgrade is visible through Metrics and Downgraded.
func New(profile Profile, codec stream.Codec, res *analysis.Result, opts ...Option) *Tuner {
	t := &Tuner{
		requested: profile,
		effective: profile,
		codec:     codec,
		analysis:  res,
		sampler:   systemSampler,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if profile == ProfileAggressive {
		if r, err := t.sampler(); err != nil || r.AvailableBytes < aggressiveHeadroom {
			t.effective = ProfileConservative
			t.downgraded = true
		}
	}
	t.params = profiles[t.effective]
	t.batchSize = t.CalculateOptimalBatchSize()
	return t
}

// EffectiveProfile returns the profile actually in force.
func (t *Tuner) EffectiveProfile() Profile { return t.effective }

// Downgraded reports whether aggressive was downgraded for lack of
// memory headroom.
func (t *Tuner) Downgraded() bool { return t.downgraded }

// BatchSize returns the current recommendation.
func (t *Tuner) BatchSize() int { return t.batchSize }

// CalculateOptimalBatchSize combines available memory, the file-size
// category, the compression multiplier, and the profile multiplier into
// a row-count recommendation clamped to the profile range.
func (t *Tuner) CalculateOptimalBatchSize() int {
	reading := t.CheckMemoryPressure()

	targetFrac := 0.10
	avgRow := 80.0
	if t.analysis != nil {
		targetFrac = t.analysis.TargetRAMFrac
		if t.analysis.AvgBytesPerLine > 0 {
			avgRow = t.analysis.AvgBytesPerLine
		}
	}

	budget := float64(reading.AvailableBytes) * t.params.SafetyMargin * targetFrac
	rows := budget / avgRow
	rows *= CompressionMultiplier(t.codec)
	rows *= t.params.Multiplier

	return t.clamp(int(rows))
}

func (t *Tuner) clamp(n int) int {
	if n < t.params.Floor {
		return t.params.Floor
	}
	if n > t.params.Ceiling {
		return t.params.Ceiling
	}
	return n
}

// CheckMemoryPressure returns the current memory reading, served from a
// short-TTL cache when fresh enough. A failed system read degrades to
// the last known reading rather than surfacing an error.
func (t *Tuner) CheckMemoryPressure() MemoryReading {
	now := t.now()
	if t.hasMem && now.Sub(t.cache.At) < cacheTTL {
		r := t.cache
		r.Cached = true
		return r
	}

	r, err := t.sampler()
	if err != nil {
		if t.hasMem {
			stale := t.cache
			stale.Cached = true
			return stale
		}
		return MemoryReading{At: now}
	}
	if r.At.IsZero() {
		r.At = now
	}
	t.cache = r
	t.hasMem = true
	return r
}

// ClearCache forces the next CheckMemoryPressure to hit the OS.
func (t *Tuner) ClearCache() {
	t.hasMem = false
}

// AdaptBatchSize records one executed batch and adjusts the
// recommendation: down 25% when memory usage crosses the profile's
// safety margin, up 10% when memory sits comfortably below it and
// throughput is stable or improving. Needs at least three samples
// before it will move.
func (t *Tuner) AdaptBatchSize(bytesProcessed, rowsProcessed int64) Adjustment {
	now := t.now()
	reading := t.CheckMemoryPressure()

	lps := 0.0
	bps := 0.0
	if !t.lastAt.IsZero() {
		if secs := now.Sub(t.lastAt).Seconds(); secs > 0 {
			lps = float64(rowsProcessed-t.lastRows) / secs
			bps = float64(bytesProcessed-t.lastBytes) / secs
		}
	}
	t.lastAt = now
	t.lastRows = rowsProcessed
	t.lastBytes = bytesProcessed

	t.window = append(t.window, sample{at: now, linesPerSec: lps, bytesPerSec: bps, memUsedPct: reading.UsedPercent})
	if len(t.window) > windowSize {
		t.window = t.window[1:]
	}

	adj := Adjustment{
		BatchSize:   t.batchSize,
		MemUsedPct:  reading.UsedPercent,
		LinesPerSec: lps,
		BytesPerSec: bps,
	}
	if len(t.window) < minSamples {
		return adj
	}

	marginPct := t.params.SafetyMargin * 100
	switch {
	case reading.UsedPercent >= marginPct:
		t.batchSize = t.clamp(t.batchSize * 3 / 4)
		adj.Reason = fmt.Sprintf("memory usage %.1f%% at safety margin %.0f%%", reading.UsedPercent, marginPct)
	case reading.UsedPercent < marginPct*0.85 && t.throughputStable():
		t.batchSize = t.clamp(t.batchSize + t.batchSize/10)
		adj.Reason = fmt.Sprintf("memory usage %.1f%% well under margin, throughput stable", reading.UsedPercent)
	}
	adj.Changed = adj.BatchSize != t.batchSize
	adj.BatchSize = t.batchSize
	return adj
}

// throughputStable reports whether the newest sample is at least 90% of
// the window average, i.e. throughput is holding or improving. Byte
// throughput is preferred when the caller supplies it; row throughput
// is the fallback for callers that only count rows.
func (t *Tuner) throughputStable() bool {
	var rowSum, byteSum float64
	for _, s := range t.window {
		rowSum += s.linesPerSec
		byteSum += s.bytesPerSec
	}
	n := float64(len(t.window))
	latest := t.window[len(t.window)-1]

	if avg := byteSum / n; avg > 0 {
		return latest.bytesPerSec >= avg*0.9
	}
	avg := rowSum / n
	if avg == 0 {
		return true
	}
	return latest.linesPerSec >= avg*0.9
}

// Metrics exposes every input and derived value for display and tests.
func (t *Tuner) Metrics() map[string]interface{} {
	reading := t.CheckMemoryPressure()
	return map[string]interface{}{
		"profile":                t.requested,
		"effective_profile":      t.effective,
		"downgraded":             t.downgraded,
		"safety_margin":          t.params.SafetyMargin,
		"batch_ceiling":          t.params.Ceiling,
		"batch_floor":            t.params.Floor,
		"profile_multiplier":     t.params.Multiplier,
		"compression":            string(t.codec),
		"compression_multiplier": CompressionMultiplier(t.codec),
		"batch_size":             t.batchSize,
		"memory_used_percent":    reading.UsedPercent,
		"memory_available":       reading.AvailableBytes,
		"memory_process":         reading.ProcessBytes,
		"memory_cached_reading":  reading.Cached,
		"samples":                len(t.window),
	}
}
