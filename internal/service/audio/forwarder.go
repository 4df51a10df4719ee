// Package audio forwards session audio to a server-side recognizer and keeps
// the recognizer stream alive across interruptions and stream limits.
package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/stt"
)

// ErrNotRunning is returned when audio arrives before Start or after Close.
var ErrNotRunning = errors.New("forwarder is not running")

// StreamLimits bounds one recognizer stream. When a limit is reached the
// stream is rotated: closed and restarted without losing session state.
type StreamLimits struct {
	MaxStreamBytes    int64         // Max audio sent on one stream
	MaxStreamDuration time.Duration // Max lifetime of one stream
}

// DefaultLimits returns limits below the usual cloud streaming caps.
func DefaultLimits() StreamLimits {
	return StreamLimits{
		MaxStreamBytes:    5 * 1024 * 1024, // 5MB (~325 seconds at 8kHz 16-bit mono)
		MaxStreamDuration: 4*time.Minute + 30*time.Second,
	}
}

// RestartPolicy bounds recognizer restarts after an error.
type RestartPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRestartPolicy returns the default restart backoff.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      time.Minute,
	}
}

func (p RestartPolicy) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsed
	return b
}

// Forwarder owns one recognizer adapter for a session. It implements
// stt.Callback, passing results through to the sink, and restarts the
// adapter with exponential backoff when the stream errors.
type Forwarder struct {
	adapter  stt.Adapter
	sink     stt.Callback
	provider string
	limits   StreamLimits
	policy   RestartPolicy
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
	restarting  bool
	degraded    bool
	streamStart time.Time
	streamBytes int64
	restarts    int
	wg          sync.WaitGroup
}

// NewForwarder wraps adapter. Results and errors reach sink.
func NewForwarder(adapter stt.Adapter, sink stt.Callback, provider string, limits StreamLimits, policy RestartPolicy, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		adapter:  adapter,
		sink:     sink,
		provider: provider,
		limits:   limits,
		policy:   policy,
		logger:   logger,
		metrics:  metrics.DefaultMetrics,
	}
}

// Start opens the first recognizer stream. A failure here is a start-up
// precondition failure and is returned to the caller.
func (f *Forwarder) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := f.adapter.Start(ctx, f); err != nil {
		cancel()
		return err
	}
	f.mu.Lock()
	f.ctx = ctx
	f.cancel = cancel
	f.running = true
	f.streamStart = time.Now()
	f.streamBytes = 0
	f.mu.Unlock()
	return nil
}

// SendAudio forwards audio, rotating the stream first when it hit a limit.
func (f *Forwarder) SendAudio(ctx context.Context, pcm []byte) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return ErrNotRunning
	}
	if f.restarting {
		f.mu.Unlock()
		return nil
	}
	rotate := f.limitReachedLocked(int64(len(pcm)))
	f.mu.Unlock()

	if rotate {
		if err := f.rotate(); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.streamBytes += int64(len(pcm))
	f.mu.Unlock()
	return f.adapter.SendAudio(ctx, pcm)
}

func (f *Forwarder) limitReachedLocked(next int64) bool {
	if f.limits.MaxStreamBytes > 0 && f.streamBytes+next > f.limits.MaxStreamBytes {
		return true
	}
	return f.limits.MaxStreamDuration > 0 && time.Since(f.streamStart) > f.limits.MaxStreamDuration
}

func (f *Forwarder) rotate() error {
	f.mu.Lock()
	ctx := f.ctx
	bytes := f.streamBytes
	age := time.Since(f.streamStart)
	f.mu.Unlock()

	f.logger.Info().
		Int64("streamBytes", bytes).
		Dur("streamAge", age).
		Msg("Recognizer stream limit reached, rotating")

	if err := f.adapter.Close(); err != nil {
		f.logger.Warn().Err(err).Msg("Error closing recognizer stream")
	}
	if err := f.adapter.Start(ctx, f); err != nil {
		return err
	}
	f.mu.Lock()
	f.streamStart = time.Now()
	f.streamBytes = 0
	f.mu.Unlock()
	return nil
}

// OnResults passes results through to the sink.
func (f *Forwarder) OnResults(results []stt.Result) {
	f.sink.OnResults(results)
}

// OnError reports the interruption to the sink and restarts the stream in
// the background. Counters held by the sink are never reset.
func (f *Forwarder) OnError(err error) {
	f.sink.OnError(err)
	f.metrics.RecordRecognizerError(f.provider)

	f.mu.Lock()
	if !f.running || f.restarting {
		f.mu.Unlock()
		return
	}
	f.restarting = true
	ctx := f.ctx
	f.wg.Add(1)
	f.mu.Unlock()

	go f.restart(ctx, err)
}

func (f *Forwarder) restart(ctx context.Context, cause error) {
	defer f.wg.Done()

	op := func() error {
		f.mu.Lock()
		running := f.running
		f.mu.Unlock()
		if !running {
			return backoff.Permanent(ErrNotRunning)
		}
		_ = f.adapter.Close()
		return f.adapter.Start(ctx, f)
	}
	notify := func(err error, next time.Duration) {
		f.logger.Warn().Err(err).Dur("retryIn", next).Msg("Recognizer restart failed")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(f.policy.backoff(), ctx), notify)

	f.mu.Lock()
	f.restarting = false
	if err == nil {
		f.restarts++
		f.degraded = false
		f.streamStart = time.Now()
		f.streamBytes = 0
	} else if f.running {
		f.degraded = true
	}
	restarts := f.restarts
	f.mu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrNotRunning) && ctx.Err() == nil {
			f.logger.Error().Err(err).AnErr("cause", cause).Msg("Recognizer could not be restarted, speech input degraded")
		}
		return
	}
	f.metrics.RecordRecognizerRestart()
	f.logger.Info().AnErr("cause", cause).Int("restarts", restarts).Msg("Recognizer stream restarted")
}

// Degraded reports whether the recognizer is down after exhausting restarts.
func (f *Forwarder) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

// Restarts returns how many times the stream was restarted after an error.
func (f *Forwarder) Restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

// Close stops the forwarder and the adapter and waits for any pending
// restart. Idempotent.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	f.running = false
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
	return f.adapter.Close()
}
