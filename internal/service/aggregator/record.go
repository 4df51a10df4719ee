// Package aggregator holds the per-session Metrics record shared by the samplers
// and the scoring loop.
//
// Every field has exactly one writer: the transcript segmenter owns pace, filler
// rate and the pause fields, the body-signal sampler owns eye contact and motion
// energy. Fields are stored individually as atomics, so readers never block and
// may observe a combination written at slightly different moments.
package aggregator

import (
	"math"
	"sync"
	"sync/atomic"
)

// Metrics is a point-in-time snapshot of the aggregate record.
type Metrics struct {
	PaceWpm          float64 `json:"paceWpm"`
	FillerRatePerMin float64 `json:"fillerRatePerMin"`
	EyeContactPct    float64 `json:"eyeContactPct"`
	MaxPauseMs       int64   `json:"maxPauseMs"`
	PauseCount       int     `json:"pauseCount"`
	MotionEnergy     float64 `json:"motionEnergy"`
}

// InitialMetrics returns the values a session starts with before any sampler
// has reported.
func InitialMetrics() Metrics {
	return Metrics{
		PaceWpm:          0,
		FillerRatePerMin: 0,
		EyeContactPct:    0.5,
		MaxPauseMs:       0,
		PauseCount:       0,
		MotionEnergy:     0.3,
	}
}

// SpeechWriter is the write capability handed to the transcript segmenter.
type SpeechWriter interface {
	WriteRates(paceWpm, fillerRatePerMin float64) bool
	WritePauses(pauseCount int, maxPauseMs int64) bool
}

// BodyWriter is the write capability handed to the body-signal sampler.
type BodyWriter interface {
	WriteBody(eyeContactPct, motionEnergy float64) bool
}

// Record is the shared Metrics record of one session.
type Record struct {
	pace       atomic.Uint64 // float64 bits
	filler     atomic.Uint64 // float64 bits
	eye        atomic.Uint64 // float64 bits
	motion     atomic.Uint64 // float64 bits
	maxPause   atomic.Int64
	pauseCount atomic.Int64

	// gate orders writes against Close: writers hold the read side while they
	// store, Close takes the write side, so no write lands after Close returns.
	gate   sync.RWMutex
	closed bool

	changed chan struct{}
}

// NewRecord creates a record holding InitialMetrics.
func NewRecord() *Record {
	r := &Record{changed: make(chan struct{}, 1)}
	m := InitialMetrics()
	r.pace.Store(math.Float64bits(m.PaceWpm))
	r.filler.Store(math.Float64bits(m.FillerRatePerMin))
	r.eye.Store(math.Float64bits(m.EyeContactPct))
	r.motion.Store(math.Float64bits(m.MotionEnergy))
	return r
}

// Snapshot returns the current values of every field.
func (r *Record) Snapshot() Metrics {
	return Metrics{
		PaceWpm:          math.Float64frombits(r.pace.Load()),
		FillerRatePerMin: math.Float64frombits(r.filler.Load()),
		EyeContactPct:    math.Float64frombits(r.eye.Load()),
		MaxPauseMs:       r.maxPause.Load(),
		PauseCount:       int(r.pauseCount.Load()),
		MotionEnergy:     math.Float64frombits(r.motion.Load()),
	}
}

// Changed returns a channel that receives after any write. Notifications coalesce.
func (r *Record) Changed() <-chan struct{} {
	return r.changed
}

// WriteRates stores pace and filler rate. Non-finite or negative values are
// ignored. Returns false once the record is closed.
func (r *Record) WriteRates(paceWpm, fillerRatePerMin float64) bool {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.closed {
		return false
	}
	if finite(paceWpm) && paceWpm >= 0 {
		r.pace.Store(math.Float64bits(paceWpm))
	}
	if finite(fillerRatePerMin) && fillerRatePerMin >= 0 {
		r.filler.Store(math.Float64bits(fillerRatePerMin))
	}
	r.notify()
	return true
}

// WritePauses stores the lifetime pause count and longest pause.
func (r *Record) WritePauses(pauseCount int, maxPauseMs int64) bool {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.closed {
		return false
	}
	if pauseCount >= 0 {
		r.pauseCount.Store(int64(pauseCount))
	}
	if maxPauseMs >= 0 {
		r.maxPause.Store(maxPauseMs)
	}
	r.notify()
	return true
}

// WriteBody stores eye contact and motion energy, clamped to [0,1].
// Non-finite values leave the previous value in place.
func (r *Record) WriteBody(eyeContactPct, motionEnergy float64) bool {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.closed {
		return false
	}
	if finite(eyeContactPct) {
		r.eye.Store(math.Float64bits(clamp01(eyeContactPct)))
	}
	if finite(motionEnergy) {
		r.motion.Store(math.Float64bits(clamp01(motionEnergy)))
	}
	r.notify()
	return true
}

// Close stops accepting writes. Blocks until in-flight writes finish. Idempotent.
func (r *Record) Close() {
	r.gate.Lock()
	defer r.gate.Unlock()
	r.closed = true
}

// Closed reports whether Close was called.
func (r *Record) Closed() bool {
	r.gate.RLock()
	defer r.gate.RUnlock()
	return r.closed
}

func (r *Record) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
