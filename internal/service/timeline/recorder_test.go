package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/service/aggregator"
	"talk-coach-engine/internal/service/transcript"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type staticSource struct {
	m aggregator.Metrics
}

func (s *staticSource) Snapshot() aggregator.Metrics { return s.m }

func TestCodeInterval(t *testing.T) {
	tests := []struct {
		descLen int
		want    time.Duration
	}{
		{0, 15 * time.Second},
		{-3, 15 * time.Second},
		{250, 22500 * time.Millisecond},
		{500, 30 * time.Second},
		{4000, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := CodeInterval(tt.descLen); got != tt.want {
			t.Errorf("CodeInterval(%d): expected %v, got %v", tt.descLen, tt.want, got)
		}
	}
}

func TestRecorder_AppendOnlyFinals(t *testing.T) {
	r := NewRecorder(Info{SessionID: "s1", Mode: "presentation"}, nil, zerolog.Nop())

	if err := r.Append(transcript.Segment{ID: "a", Text: "hello"}); !errors.Is(err, ErrNotFinal) {
		t.Errorf("expected ErrNotFinal, got %v", err)
	}
	if err := r.Append(transcript.Segment{ID: "a", Text: "hello there", IsFinal: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(r.Segments()); got != 1 {
		t.Errorf("expected 1 segment, got %d", got)
	}
}

func TestRecorder_CodeSnapshotsDeduplicate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewRecorder(Info{
		SessionID:           "s1",
		Mode:                "interview",
		QuestionName:        "Two Sum",
		QuestionDescription: "Find two numbers that add up to a target.",
	}, nil, zerolog.Nop(), WithClock(clock.Now))

	if !r.IsCoding() {
		t.Fatal("expected a coding session")
	}

	steps := []struct {
		advance time.Duration
		code    string
		want    bool
	}{
		{0, "def solve():", true},
		{15 * time.Second, "def solve():", false},
		{15 * time.Second, "def solve(nums):", true},
		{15 * time.Second, "def solve(nums):", false},
	}
	for i, s := range steps {
		clock.Advance(s.advance)
		took, err := r.AppendCodeSnapshot(s.code)
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if took != s.want {
			t.Errorf("step %d: expected snapshot=%v, got %v", i, s.want, took)
		}
	}

	tl := r.Seal(70)
	if tl.Coding == nil {
		t.Fatal("expected coding data on the sealed timeline")
	}
	if got := len(tl.Coding.Snapshots); got != 2 {
		t.Fatalf("expected 2 snapshots, got %d", got)
	}
	if tl.Coding.Snapshots[1].ElapsedSeconds != 30 {
		t.Errorf("expected second snapshot at 30s, got %d", tl.Coding.Snapshots[1].ElapsedSeconds)
	}
	if tl.Coding.FinalCode != "def solve(nums):" {
		t.Errorf("unexpected final code %q", tl.Coding.FinalCode)
	}
}

func TestRecorder_SealTakesFinalSnapshotWhenCodeChanged(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewRecorder(Info{SessionID: "s1", QuestionName: "FizzBuzz"}, nil, zerolog.Nop(), WithClock(clock.Now))

	if _, err := r.AppendCodeSnapshot("v1"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(5 * time.Second)
	if err := r.UpdateCode("v2", "ok: 3 passed"); err != nil {
		t.Fatal(err)
	}

	tl := r.Seal(55)
	if got := len(tl.Coding.Snapshots); got != 2 {
		t.Fatalf("expected a final snapshot at seal, got %d snapshots", got)
	}
	if tl.Coding.LastOutput != "ok: 3 passed" {
		t.Errorf("expected last output to be kept, got %q", tl.Coding.LastOutput)
	}
}

func TestRecorder_SealRecordsClearedCode(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewRecorder(Info{SessionID: "s1", QuestionName: "FizzBuzz"}, nil, zerolog.Nop(), WithClock(clock.Now))

	if _, err := r.AppendCodeSnapshot("print(1)"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Second)
	if err := r.UpdateCode("", ""); err != nil {
		t.Fatal(err)
	}

	tl := r.Seal(40)
	if got := len(tl.Coding.Snapshots); got != 2 {
		t.Fatalf("expected 2 snapshots, got %d", got)
	}
	last := tl.Coding.Snapshots[1]
	if last.Code != "" {
		t.Errorf("expected the cleared code as the last snapshot, got %q", last.Code)
	}
	if last.ElapsedSeconds != 10 {
		t.Errorf("expected the last snapshot at 10s, got %d", last.ElapsedSeconds)
	}
	if tl.Coding.FinalCode != "" {
		t.Errorf("expected empty final code, got %q", tl.Coding.FinalCode)
	}
}

func TestRecorder_SealSkipsEmptyEditor(t *testing.T) {
	r := NewRecorder(Info{SessionID: "s1", QuestionName: "FizzBuzz"}, nil, zerolog.Nop())

	tl := r.Seal(40)
	if tl.Coding == nil {
		t.Fatal("expected coding data on the sealed timeline")
	}
	if got := len(tl.Coding.Snapshots); got != 0 {
		t.Errorf("expected no snapshots for code never written, got %d", got)
	}
}

func TestRecorder_SealIsOneWay(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	src := &staticSource{m: aggregator.InitialMetrics()}
	r := NewRecorder(Info{SessionID: "s1", Mode: "presentation", Type: "pitch"}, src, zerolog.Nop(), WithClock(clock.Now))

	_ = r.Append(transcript.Segment{Text: "we grew", IsFinal: true})
	_ = r.Append(transcript.Segment{Text: "fast", IsFinal: true})

	src.m.PaceWpm = 150
	clock.Advance(90 * time.Second)
	tl := r.Seal(82)

	if tl.FinalScore != 82 || tl.ElapsedSeconds != 90 {
		t.Errorf("expected score 82 at 90s, got %d at %ds", tl.FinalScore, tl.ElapsedSeconds)
	}
	if tl.Metrics.PaceWpm != 150 {
		t.Errorf("expected metrics snapshot at seal, got pace %v", tl.Metrics.PaceWpm)
	}
	if tl.Transcript != "we grew fast" || tl.WordCount() != 3 {
		t.Errorf("unexpected transcript %q (%d words)", tl.Transcript, tl.WordCount())
	}
	if tl.Type != "pitch" || tl.Coding != nil {
		t.Errorf("unexpected metadata %+v", tl)
	}

	if err := r.Append(transcript.Segment{Text: "late", IsFinal: true}); !errors.Is(err, ErrSealed) {
		t.Errorf("expected ErrSealed on append, got %v", err)
	}
	if _, err := r.AppendCodeSnapshot("x"); !errors.Is(err, ErrSealed) {
		t.Errorf("expected ErrSealed on code snapshot, got %v", err)
	}
	if _, err := r.SnapshotMetrics(); !errors.Is(err, ErrSealed) {
		t.Errorf("expected ErrSealed on metrics snapshot, got %v", err)
	}

	again := r.Seal(10)
	if again.FinalScore != 82 || len(again.Segments) != 2 {
		t.Errorf("expected repeated Seal to return the first timeline, got %+v", again)
	}
	if !r.Sealed() {
		t.Error("expected Sealed to report true")
	}
}
