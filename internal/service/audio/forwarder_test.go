package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/service/stt"
	"talk-coach-engine/internal/service/stt/mock"
)

// testAdapter implements stt.Adapter for testing
type testAdapter struct {
	mu       sync.Mutex
	starts   int
	closes   int
	audio    [][]byte
	cb       stt.Callback
	startErr func(n int) error
}

func (a *testAdapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	if a.startErr != nil {
		if err := a.startErr(a.starts); err != nil {
			return err
		}
	}
	a.cb = cb
	return nil
}

func (a *testAdapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audio = append(a.audio, audio)
	return nil
}

func (a *testAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	return nil
}

func (a *testAdapter) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

type recordingSink struct {
	mu      sync.Mutex
	results []stt.Result
	errs    []error
}

func (s *recordingSink) OnResults(rs []stt.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, rs...)
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) Results() []stt.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stt.Result(nil), s.results...)
}

func fastPolicy() RestartPolicy {
	return RestartPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsed:      50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestForwarder_SendBeforeStart(t *testing.T) {
	f := NewForwarder(&testAdapter{}, &recordingSink{}, "test", DefaultLimits(), fastPolicy(), zerolog.Nop())

	if err := f.SendAudio(context.Background(), []byte{1}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestForwarder_StartFailureIsReturned(t *testing.T) {
	boom := errors.New("no credentials")
	a := &testAdapter{startErr: func(int) error { return boom }}
	f := NewForwarder(a, &recordingSink{}, "test", DefaultLimits(), fastPolicy(), zerolog.Nop())

	if err := f.Start(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected start error, got %v", err)
	}
}

func TestForwarder_PassesResultsThrough(t *testing.T) {
	sink := &recordingSink{}
	adapter := mock.New(mock.WithDelay(0), mock.WithScript([]mock.SimulatedUtterance{
		{Partials: []string{"hello"}, Final: "hello there", Confidence: 0.9},
	}))
	f := NewForwarder(adapter, sink, "mock", DefaultLimits(), fastPolicy(), zerolog.Nop())

	ctx := context.Background()
	if err := f.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	_ = f.SendAudio(ctx, make([]byte, 320))
	_ = f.SendAudio(ctx, make([]byte, 320))

	got := sink.Results()
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].IsFinal || !got[1].IsFinal || got[1].Text != "hello there" {
		t.Errorf("unexpected results %+v", got)
	}
}

func TestForwarder_RestartsAfterError(t *testing.T) {
	sink := &recordingSink{}
	adapter := mock.New(mock.WithDelay(0))
	f := NewForwarder(adapter, sink, "mock", DefaultLimits(), fastPolicy(), zerolog.Nop())

	ctx := context.Background()
	if err := f.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	_ = f.SendAudio(ctx, []byte{0})
	adapter.Fail(errors.New("stream ended"))

	waitFor(t, func() bool { return f.Restarts() == 1 })

	remaining := adapter.Remaining()
	for i := 0; i < 10; i++ {
		_ = f.SendAudio(ctx, []byte{0})
	}
	if adapter.Remaining() >= remaining {
		t.Error("expected the restarted stream to keep producing results")
	}
	if f.Degraded() {
		t.Error("expected a successful restart not to degrade speech input")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.errs) != 1 {
		t.Errorf("expected the sink to see the interruption once, got %d", len(sink.errs))
	}
}

func TestForwarder_DegradedWhenRestartsExhausted(t *testing.T) {
	a := &testAdapter{startErr: func(n int) error {
		if n > 1 {
			return errors.New("still down")
		}
		return nil
	}}
	f := NewForwarder(a, &recordingSink{}, "test", DefaultLimits(), fastPolicy(), zerolog.Nop())

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	a.cb.OnError(errors.New("stream ended"))

	waitFor(t, f.Degraded)
	if a.Starts() < 2 {
		t.Errorf("expected restart attempts, got %d starts", a.Starts())
	}
}

func TestForwarder_RotatesAtByteLimit(t *testing.T) {
	a := &testAdapter{}
	limits := StreamLimits{MaxStreamBytes: 100}
	f := NewForwarder(a, &recordingSink{}, "test", limits, fastPolicy(), zerolog.Nop())

	ctx := context.Background()
	if err := f.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	_ = f.SendAudio(ctx, make([]byte, 60))
	if a.Starts() != 1 {
		t.Fatalf("expected one stream, got %d", a.Starts())
	}
	_ = f.SendAudio(ctx, make([]byte, 60))
	if a.Starts() != 2 {
		t.Errorf("expected a rotated stream after the byte limit, got %d starts", a.Starts())
	}
	if len(a.audio) != 2 {
		t.Errorf("expected both chunks delivered, got %d", len(a.audio))
	}
	if f.Restarts() != 0 {
		t.Error("expected rotation not to count as an error restart")
	}
}

func TestForwarder_CloseIsIdempotent(t *testing.T) {
	a := &testAdapter{}
	f := NewForwarder(a, &recordingSink{}, "test", DefaultLimits(), fastPolicy(), zerolog.Nop())

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.SendAudio(context.Background(), []byte{1}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after close, got %v", err)
	}
}
