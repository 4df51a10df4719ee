// Package prosody classifies the speaker's instantaneous vocal tone from
// periodic audio-analysis frames.
package prosody

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/window"
)

// Volume is the loudness class of the recent audio.
type Volume string

// Energy is the high-frequency energy class of the current frame.
type Energy string

// PitchTrend is the direction of the recent spectral centroid.
type PitchTrend string

const (
	VolumeQuiet  Volume = "quiet"
	VolumeNormal Volume = "normal"
	VolumeLoud   Volume = "loud"

	EnergyLow    Energy = "low"
	EnergyMedium Energy = "medium"
	EnergyHigh   Energy = "high"

	PitchFalling PitchTrend = "falling"
	PitchFlat    PitchTrend = "flat"
	PitchRising  PitchTrend = "rising"
)

// ToneInfo is the tone "right now".
type ToneInfo struct {
	Volume     Volume     `json:"volume"`
	Energy     Energy     `json:"energy"`
	PitchTrend PitchTrend `json:"pitchTrend"`
}

// NeutralTone is reported before any frame was analyzed.
func NeutralTone() ToneInfo {
	return ToneInfo{Volume: VolumeNormal, Energy: EnergyMedium, PitchTrend: PitchFlat}
}

// AudioFrame is one analysis snapshot from the capture side. Both arrays hold
// unsigned bytes: time-domain samples centred at 128 and frequency-bin magnitudes.
type AudioFrame struct {
	TimeDomain []byte  `json:"timeDomain"`
	Frequency  []byte  `json:"frequency"`
	SampleRate float64 `json:"sampleRate"`
}

// Config holds the empirical classification thresholds.
type Config struct {
	QuietVolume     float64       // RMS below this is quiet
	LoudVolume      float64       // RMS above this is loud
	LowEnergy       float64       // upper-band mean below this is low
	HighEnergy      float64       // upper-band mean above this is high
	PitchDeltaHz    float64       // centroid change needed for a trend
	MinTrendSamples int           // centroid samples required before a trend is reported
	Window          int           // rolling buffer size
	Interval        time.Duration // tick cadence
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		QuietVolume:     0.02,
		LoudVolume:      0.15,
		LowEnergy:       20,
		HighEnergy:      60,
		PitchDeltaHz:    50,
		MinTrendSamples: 5,
		Window:          10,
		Interval:        200 * time.Millisecond,
	}
}

// Listener receives tone updates.
type Listener interface {
	OnTone(tone ToneInfo)
}

// Sampler keeps rolling volume and centroid buffers and classifies tone.
type Sampler struct {
	cfg      Config
	listener Listener
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	volumes   *window.Rolling
	centroids *window.Rolling
	current   ToneInfo
	pending   *AudioFrame
}

// NewSampler creates a prosody sampler. listener may be nil.
func NewSampler(cfg Config, listener Listener, logger zerolog.Logger) *Sampler {
	if cfg.Window < 1 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MinTrendSamples < 4 {
		cfg.MinTrendSamples = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Sampler{
		cfg:       cfg,
		listener:  listener,
		logger:    logger,
		metrics:   metrics.DefaultMetrics,
		volumes:   window.New(cfg.Window),
		centroids: window.New(cfg.Window),
		current:   NeutralTone(),
	}
}

// Tick analyzes one frame and returns the updated tone.
func (s *Sampler) Tick(frame AudioFrame) ToneInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickLocked(frame)
}

func (s *Sampler) tickLocked(frame AudioFrame) ToneInfo {
	s.volumes.Push(rms(frame.TimeDomain))
	s.centroids.Push(spectralCentroid(frame.Frequency, frame.SampleRate))

	tone := ToneInfo{
		Volume:     s.classifyVolume(),
		Energy:     s.classifyEnergy(frame.Frequency),
		PitchTrend: s.classifyTrend(),
	}
	s.current = tone
	return tone
}

// Offer hands the latest frame to the sampler; the next tick analyzes it.
// A newer frame replaces one that was not analyzed yet.
func (s *Sampler) Offer(frame AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &frame
}

// CurrentTone returns a copy of the latest tone.
func (s *Sampler) CurrentTone() ToneInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reset clears the rolling buffers, as on a sampler restart.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes.Reset()
	s.centroids.Reset()
	s.current = NeutralTone()
	s.pending = nil
}

// Run ticks at the configured cadence until ctx is cancelled. Ticks without a
// fresh frame are skipped.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := s.pending
			s.pending = nil
			var tone ToneInfo
			if frame != nil {
				tone = s.tickLocked(*frame)
			}
			s.mu.Unlock()

			if frame == nil {
				continue
			}
			s.metrics.RecordProsodyTick()
			s.logger.Debug().
				Str("volume", string(tone.Volume)).
				Str("energy", string(tone.Energy)).
				Str("pitchTrend", string(tone.PitchTrend)).
				Msg("Tone updated")
			if s.listener != nil && ctx.Err() == nil {
				s.listener.OnTone(tone)
			}
		}
	}
}

func (s *Sampler) classifyVolume() Volume {
	avg, ok := s.volumes.Mean()
	if !ok {
		return VolumeNormal
	}
	switch {
	case avg < s.cfg.QuietVolume:
		return VolumeQuiet
	case avg > s.cfg.LoudVolume:
		return VolumeLoud
	default:
		return VolumeNormal
	}
}

// classifyEnergy looks at the current frame only.
func (s *Sampler) classifyEnergy(bins []byte) Energy {
	half := len(bins) / 2
	if half == 0 {
		return EnergyMedium
	}
	upper := bins[half:]
	sum := 0.0
	for _, b := range upper {
		sum += float64(b)
	}
	avg := sum / float64(len(upper))
	switch {
	case avg < s.cfg.LowEnergy:
		return EnergyLow
	case avg > s.cfg.HighEnergy:
		return EnergyHigh
	default:
		return EnergyMedium
	}
}

// classifyTrend compares the oldest two and newest two of the last
// MinTrendSamples centroids.
func (s *Sampler) classifyTrend() PitchTrend {
	if s.centroids.Len() < s.cfg.MinTrendSamples {
		return PitchFlat
	}
	recent := s.centroids.Last(s.cfg.MinTrendSamples)
	first := (recent[0] + recent[1]) / 2
	last := (recent[len(recent)-2] + recent[len(recent)-1]) / 2
	diff := last - first
	switch {
	case diff > s.cfg.PitchDeltaHz:
		return PitchRising
	case diff < -s.cfg.PitchDeltaHz:
		return PitchFalling
	default:
		return PitchFlat
	}
}

// rms returns the root-mean-square amplitude in [0,1] of byte samples centred at 128.
func rms(samples []byte) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range samples {
		v := (float64(b) - 128) / 128
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// spectralCentroid returns the magnitude-weighted mean bin frequency in Hz.
func spectralCentroid(bins []byte, sampleRate float64) float64 {
	if len(bins) == 0 || sampleRate <= 0 {
		return 0
	}
	weighted, total := 0.0, 0.0
	for i, b := range bins {
		freq := float64(i) * sampleRate / float64(2*len(bins))
		weighted += freq * float64(b)
		total += float64(b)
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}
