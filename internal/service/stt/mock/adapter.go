// Package mock provides a mock STT adapter for running sessions without cloud credentials.
// It simulates realistic recognizer behavior with progressive interim results and
// exactly one final result per utterance.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"talk-coach-engine/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string `yaml:"partials"`   // Progressive interim transcripts
	Final      string   `yaml:"final"`      // Final transcript text
	Confidence float64  `yaml:"confidence"` // Confidence score for final
}

// DefaultUtterances provides sample practice-talk utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"So today", "So today I want", "So today I want to talk"},
		Final:      "So today I want to talk about our roadmap",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Um the", "Um the first thing"},
		Final:      "Um the first thing is reliability",
		Confidence: 0.88,
	},
	{
		Partials:   []string{"We basically", "We basically rebuilt"},
		Final:      "We basically rebuilt the ingestion pipeline",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you for listening",
		Confidence: 0.98,
	},
}

// Adapter implements stt.Adapter with scripted responses.
// One interim is emitted per audio frame until the utterance's partials run out,
// then the next frame commits the final and the script advances.
type Adapter struct {
	mu           sync.Mutex
	cb           stt.Callback
	script       []SimulatedUtterance
	index        int // Current utterance in the script
	partialIndex int // Next partial to send
	delay        time.Duration
	closed       bool
}

// Option configures the mock adapter.
type Option func(*Adapter)

// WithScript replaces the default utterances.
func WithScript(script []SimulatedUtterance) Option {
	return func(a *Adapter) {
		if len(script) > 0 {
			a.script = script
		}
	}
}

// WithDelay sets the simulated recognition latency. Zero delivers synchronously.
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) {
		a.delay = d
	}
}

// New creates a new mock STT adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		script: DefaultUtterances,
		delay:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins a mock transcription session. Restarting keeps the script position.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	a.closed = false
	return nil
}

// SendAudio simulates receiving audio and triggers progressive results.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	if a.closed || a.cb == nil || a.index >= len(a.script) {
		a.mu.Unlock()
		return nil
	}

	utt := a.script[a.index]
	id := fmt.Sprintf("mock-utt-%d", a.index+1)
	var res stt.Result
	if a.partialIndex < len(utt.Partials) {
		res = stt.Result{ID: id, Text: utt.Partials[a.partialIndex]}
		a.partialIndex++
	} else {
		res = stt.Result{ID: id, Text: utt.Final, Confidence: utt.Confidence, IsFinal: true}
		a.index++
		a.partialIndex = 0
	}
	a.mu.Unlock()

	a.deliver(res)
	return nil
}

func (a *Adapter) deliver(res stt.Result) {
	if a.delay <= 0 {
		a.emit(res)
		return
	}
	go func() {
		time.Sleep(a.delay)
		a.emit(res)
	}()
}

func (a *Adapter) emit(res stt.Result) {
	a.mu.Lock()
	cb := a.cb
	closed := a.closed
	a.mu.Unlock()
	if !closed && cb != nil {
		cb.OnResults([]stt.Result{res})
	}
}

// Fail simulates the recognizer stream ending unexpectedly.
func (a *Adapter) Fail(err error) {
	a.mu.Lock()
	cb := a.cb
	closed := a.closed
	a.mu.Unlock()
	if !closed && cb != nil {
		cb.OnError(err)
	}
}

// Remaining returns how many utterances have not been finalized yet.
func (a *Adapter) Remaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.script) - a.index
}

// Close ends the mock session. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
