package body

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/aggregator"
	"talk-coach-engine/internal/service/window"
)

// Config holds body sampler settings.
type Config struct {
	Window         int           // rolling buffer size
	Interval       time.Duration // tick cadence
	PrimaryTimeout time.Duration // longest wait for a primary result before downgrading
	Fallback       FallbackConfig
}

// DefaultConfig returns the default sampler settings.
func DefaultConfig() Config {
	return Config{
		Window:         10,
		Interval:       100 * time.Millisecond,
		PrimaryTimeout: 3 * time.Second,
		Fallback:       DefaultFallbackConfig(),
	}
}

// Listener receives smoothed signals after every tick that produced a sample.
type Listener interface {
	OnBody(signals BodySignals)
}

// Sampler keeps rolling eye-contact and motion buffers fed by one strategy.
// The strategy starts as primary when a classifier is available and can be
// replaced by the fallback exactly once.
type Sampler struct {
	cfg      Config
	writer   aggregator.BodyWriter
	listener Listener
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// tickMu serializes ticks. mu guards the buffers and the active strategy
	// and is never held across a classifier call.
	tickMu sync.Mutex

	mu         sync.Mutex
	strategy   Strategy
	fallback   Strategy
	eye        *window.Rolling
	motion     *window.Rolling
	lastResult time.Time

	degraded atomic.Bool

	frameMu sync.Mutex
	pending *VideoFrame
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithFallback replaces the default fallback strategy.
func WithFallback(f Strategy) Option {
	return func(s *Sampler) { s.fallback = f }
}

// NewSampler creates a body sampler. primary may be nil, in which case the
// sampler runs on the fallback from the start. writer and listener may be nil.
func NewSampler(cfg Config, primary Strategy, writer aggregator.BodyWriter, listener Listener, logger zerolog.Logger, opts ...Option) *Sampler {
	if cfg.Window < 1 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = DefaultConfig().PrimaryTimeout
	}

	s := &Sampler{
		cfg:      cfg,
		writer:   writer,
		listener: listener,
		logger:   logger,
		metrics:  metrics.DefaultMetrics,
		now:      time.Now,
		eye:      window.New(cfg.Window),
		motion:   window.New(cfg.Window),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fallback == nil {
		s.fallback = NewFallbackStrategy(cfg.Fallback, nil)
	}

	s.strategy = primary
	if primary == nil {
		s.strategy = s.fallback
		s.degraded.Store(true)
	}
	s.lastResult = s.now()
	return s
}

// Strategy returns the name of the active strategy.
func (s *Sampler) Strategy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy.Name()
}

// Degraded reports whether the sampler runs on the fallback strategy.
func (s *Sampler) Degraded() bool {
	return s.degraded.Load()
}

// Signals returns the current smoothed signals.
func (s *Sampler) Signals() BodySignals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signalsLocked()
}

// Offer hands the latest decoded frame to the sampler for the next tick.
func (s *Sampler) Offer(frame VideoFrame) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	s.pending = &frame
}

func (s *Sampler) takeFrame() *VideoFrame {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	f := s.pending
	s.pending = nil
	return f
}

// Tick samples through the active strategy and returns the smoothed signals.
// ok is false when no new sample was pushed. Readers of the signals are not
// blocked while the classifier runs.
func (s *Sampler) Tick(ctx context.Context, frame *VideoFrame) (signals BodySignals, ok bool) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	strategy := s.strategy
	s.mu.Unlock()

	eye, motion, err := strategy.Sample(ctx, frame)
	if err != nil && strategy != s.fallback {
		if !s.downgradeOn(ctx, err) {
			return s.Signals(), false
		}
		strategy = s.fallback
		eye, motion, err = strategy.Sample(ctx, frame)
	}
	if err != nil {
		return s.Signals(), false
	}

	s.mu.Lock()
	if strategy != s.fallback {
		s.lastResult = s.now()
	}
	s.eye.Push(eye)
	s.motion.Push(motion)
	signals = s.signalsLocked()
	s.mu.Unlock()

	s.metrics.RecordBodyTick(strategy.Name())
	if s.writer != nil {
		s.writer.WriteBody(signals.EyeContactPct, signals.MotionEnergy)
	}
	return signals, true
}

// downgradeOn decides whether a primary failure swaps in the fallback.
// Malformed judgments and cancelled ticks are skipped, and a missing result
// only counts once the primary timeout has passed.
func (s *Sampler) downgradeOn(ctx context.Context, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, ErrMalformedJudgment):
		s.metrics.RecordSampleRejected("judgment")
		s.logger.Debug().Err(err).Msg("Dropped malformed judgment")
		return false
	case errors.Is(err, ErrNoResult):
		if s.now().Sub(s.lastResult) < s.cfg.PrimaryTimeout {
			return false
		}
		s.downgradeLocked("timeout", err)
	case ctx.Err() != nil:
		return false
	default:
		s.downgradeLocked("error", err)
	}
	return true
}

// Run ticks at the configured cadence until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			signals, ok := s.Tick(ctx, s.takeFrame())
			if ok && s.listener != nil && ctx.Err() == nil {
				s.listener.OnBody(signals)
			}
		}
	}
}

// downgradeLocked swaps in the fallback. There is no way back.
func (s *Sampler) downgradeLocked(reason string, cause error) {
	s.logger.Warn().
		Err(cause).
		Str("reason", reason).
		Str("from", s.strategy.Name()).
		Msg("Vision classifier unavailable, switching to local fallback for the rest of the session")
	s.strategy = s.fallback
	s.degraded.Store(true)
	s.metrics.RecordFallbackDowngrade(reason)
}

func (s *Sampler) signalsLocked() BodySignals {
	out := NeutralSignals()
	if v, ok := s.eye.Mean(); ok {
		out.EyeContactPct = clamp01(v)
	}
	if v, ok := s.motion.Mean(); ok {
		out.MotionEnergy = clamp01(v)
	}
	return out
}
