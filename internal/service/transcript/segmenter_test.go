package transcript

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/service/aggregator"
	"talk-coach-engine/internal/service/prosody"
	"talk-coach-engine/internal/service/stt"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type speechRecorder struct {
	mu         sync.Mutex
	pace       float64
	filler     float64
	pauseCount int
	maxPauseMs int64
	rateWrites int
}

func (r *speechRecorder) WriteRates(pace, filler float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pace, r.filler = pace, filler
	r.rateWrites++
	return true
}

func (r *speechRecorder) WritePauses(count int, maxMs int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseCount, r.maxPauseMs = count, maxMs
	return true
}

type segmentRecorder struct {
	segs []Segment
}

func (r *segmentRecorder) OnTranscript(seg Segment) {
	r.segs = append(r.segs, seg)
}

type fixedTone prosody.ToneInfo

func (f fixedTone) CurrentTone() prosody.ToneInfo { return prosody.ToneInfo(f) }

func newTestSegmenter(clock *fakeClock, w *speechRecorder, opts ...Option) *Segmenter {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	var writer aggregator.SpeechWriter
	if w != nil {
		writer = w
	}
	return New("sess-1", writer, zerolog.Nop(), opts...)
}

func final(id, text string) []stt.Result {
	return []stt.Result{{ID: id, Text: text, Confidence: 0.9, IsFinal: true}}
}

func interim(id, text string) []stt.Result {
	return []stt.Result{{ID: id, Text: text}}
}

func TestSegmenter_PauseThresholdsAreIndependent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	w := &speechRecorder{}
	s := newTestSegmenter(clock, w)

	clock.Advance(time.Second)
	s.OnResults(final("a", "first point"))

	clock.Advance(600 * time.Millisecond)
	s.OnResults(final("b", "second point"))

	clock.Advance(400 * time.Millisecond)
	s.OnResults(final("c", "third point"))

	clock.Advance(1600 * time.Millisecond)
	s.OnResults(final("d", "fourth point"))

	finals := s.Finals()
	if len(finals) != 4 {
		t.Fatalf("expected 4 finals, got %d", len(finals))
	}
	if finals[0].PauseBeforeMs != 0 {
		t.Errorf("expected no pause on the first final, got %d", finals[0].PauseBeforeMs)
	}
	if finals[1].PauseBeforeMs != 600 {
		t.Errorf("expected 600ms pause before the second final, got %d", finals[1].PauseBeforeMs)
	}
	if finals[2].PauseBeforeMs != 0 {
		t.Errorf("expected no pause annotation for a 400ms gap, got %d", finals[2].PauseBeforeMs)
	}
	if finals[3].PauseBeforeMs != 1600 {
		t.Errorf("expected 1600ms pause before the fourth final, got %d", finals[3].PauseBeforeMs)
	}

	stats := s.Stats()
	if stats.PauseCount != 1 || stats.MaxPauseMs != 1600 {
		t.Errorf("expected one metric pause of 1600ms, got %+v", stats)
	}
	if w.pauseCount != 1 || w.maxPauseMs != 1600 {
		t.Errorf("expected pause fields written to metrics, got count=%d max=%d", w.pauseCount, w.maxPauseMs)
	}
}

func TestSegmenter_MetricPauseCountsInterimGaps(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newTestSegmenter(clock, nil)

	// The first event never counts as a pause, however late it arrives.
	clock.Advance(10 * time.Second)
	s.OnResults(interim("", "so"))
	clock.Advance(2 * time.Second)
	s.OnResults(interim("", "so the"))
	clock.Advance(3 * time.Second)
	s.OnResults(final("", "so the plan"))

	stats := s.Stats()
	if stats.PauseCount != 2 || stats.MaxPauseMs != 3000 {
		t.Errorf("expected 2 pauses with max 3000ms, got %+v", stats)
	}
}

func TestSegmenter_DuplicateFinalIsNotCounted(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newTestSegmenter(clock, nil)

	clock.Advance(time.Second)
	s.OnResults(final("r-1", "um so basically it works"))
	clock.Advance(time.Second)
	s.OnResults(final("r-1", "um so basically it works"))

	stats := s.Stats()
	if stats.WordCount != 5 {
		t.Errorf("expected 5 words, got %d", stats.WordCount)
	}
	if stats.FillerCount != 3 {
		t.Errorf("expected 3 fillers, got %d", stats.FillerCount)
	}
	if len(s.Finals()) != 1 {
		t.Errorf("expected one final, got %d", len(s.Finals()))
	}
}

func TestSegmenter_InterimAfterFinalIsRejected(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	rec := &segmentRecorder{}
	s := newTestSegmenter(clock, nil, WithListener(rec))

	s.OnResults(final("r-1", "done"))
	s.OnResults(interim("r-1", "done and"))

	if len(rec.segs) != 1 {
		t.Errorf("expected only the final to be emitted, got %d segments", len(rec.segs))
	}
	if vis := s.Visible(); len(vis) != 1 || !vis[0].IsFinal {
		t.Errorf("expected only the final to be visible, got %+v", vis)
	}
}

func TestSegmenter_ReplacementSemantics(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newTestSegmenter(clock, nil)

	s.OnResults(interim("", "we"))
	s.OnResults(interim("", "we shipped"))
	vis := s.Visible()
	if len(vis) != 1 || vis[0].Text != "we shipped" || vis[0].IsFinal {
		t.Fatalf("expected a single live interim 'we shipped', got %+v", vis)
	}

	s.OnResults(final("", "we shipped it"))
	s.OnResults(interim("", "next"))
	vis = s.Visible()
	if len(vis) != 2 {
		t.Fatalf("expected final plus interim, got %d", len(vis))
	}
	if !vis[0].IsFinal || vis[1].IsFinal || vis[1].Text != "next" {
		t.Errorf("expected [final, interim 'next'], got %+v", vis)
	}
	if vis[0].ID == vis[1].ID {
		t.Error("expected a fresh segment ID after finalization")
	}
	if !strings.HasPrefix(vis[0].ID, "sess-1-seg-") {
		t.Errorf("expected generated ID with session prefix, got %q", vis[0].ID)
	}
}

func TestSegmenter_NewIDSupersedesInterim(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newTestSegmenter(clock, nil)

	s.OnResults(interim("r-1", "abandoned thought"))
	s.OnResults(interim("r-2", "new thought"))

	vis := s.Visible()
	if len(vis) != 1 || vis[0].ID != "r-2" {
		t.Fatalf("expected only the r-2 interim, got %+v", vis)
	}

	s.OnResults(final("r-1", "late final for r-1"))
	if len(s.Finals()) != 1 {
		t.Errorf("expected a late final for an unfinalized ID to be accepted, got %d finals", len(s.Finals()))
	}
}

func TestSegmenter_ToneAttachedToFinalsOnly(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	loud := fixedTone{Volume: prosody.VolumeLoud, Energy: prosody.EnergyHigh, PitchTrend: prosody.PitchRising}
	rec := &segmentRecorder{}
	s := newTestSegmenter(clock, nil, WithToneSource(loud), WithListener(rec))

	s.OnResults(interim("", "hello"))
	s.OnResults(final("", "hello everyone"))

	if len(rec.segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(rec.segs))
	}
	if rec.segs[0].Tone != nil {
		t.Error("expected no tone on an interim segment")
	}
	if rec.segs[1].Tone == nil || rec.segs[1].Tone.Volume != prosody.VolumeLoud {
		t.Errorf("expected loud tone on the final, got %+v", rec.segs[1].Tone)
	}
}

func TestSegmenter_AnnotatesSegments(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	rec := &segmentRecorder{}
	s := newTestSegmenter(clock, nil, WithListener(rec))

	clock.Advance(2 * time.Second)
	s.OnResults([]stt.Result{{Text: "Um I think we basically all agree", Confidence: 0.876, IsFinal: true}})

	seg := rec.segs[0]
	if seg.Confidence != 0.88 {
		t.Errorf("expected confidence 0.88, got %v", seg.Confidence)
	}
	if !seg.IsHesitation {
		t.Error("expected hesitation")
	}
	if len(seg.Fillers) != 2 || seg.Fillers[0] != "Um" {
		t.Errorf("expected fillers [Um basically], got %q", seg.Fillers)
	}
	if seg.SpeakingRate != RateFast {
		t.Errorf("expected fast (7 words in 2s), got %s", seg.SpeakingRate)
	}
	if seg.TimestampMs != clock.Now().UnixMilli() {
		t.Errorf("expected timestamp %d, got %d", clock.Now().UnixMilli(), seg.TimestampMs)
	}
}

func TestSegmenter_RatesHeldBackDuringWarmup(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	w := &speechRecorder{}
	s := newTestSegmenter(clock, w)

	clock.Advance(2 * time.Second)
	s.OnResults(final("", "one two three four five"))
	if w.rateWrites != 0 {
		t.Errorf("expected no rate writes before warmup, got %d", w.rateWrites)
	}

	clock.Advance(2 * time.Second)
	s.OnResults(final("", "six"))
	if w.rateWrites != 1 {
		t.Fatalf("expected a rate write after warmup, got %d", w.rateWrites)
	}
	if w.pace != 90 {
		t.Errorf("expected pace 90 (6 words in 4s), got %v", w.pace)
	}
}

func TestSegmenter_ThirtySecondSession(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	w := &speechRecorder{}
	s := newTestSegmenter(clock, w)

	// 90 words over 30 seconds, one filler, a final every second.
	for i := 1; i <= 30; i++ {
		clock.Advance(time.Second)
		text := "we grew revenue"
		if i == 15 {
			text = "um we grew"
		}
		s.OnResults(final("", text))
	}

	if w.pace != 180 {
		t.Errorf("expected pace 180, got %v", w.pace)
	}
	if w.filler != 2 {
		t.Errorf("expected filler rate 2.0, got %v", w.filler)
	}
	if w.pauseCount != 0 || w.maxPauseMs != 0 {
		t.Errorf("expected no pauses, got count=%d max=%d", w.pauseCount, w.maxPauseMs)
	}
}

func TestSegmenter_PaceCapped(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	w := &speechRecorder{}
	s := newTestSegmenter(clock, w)

	clock.Advance(3 * time.Second)
	s.OnResults(final("", strings.Repeat("word ", 40)))

	if w.pace != MaxPaceWpm {
		t.Errorf("expected pace capped at %d, got %v", MaxPaceWpm, w.pace)
	}
}

func TestSegmenter_CountersSurviveInterruption(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	s := newTestSegmenter(clock, nil)

	s.OnResults(final("", "before the gap"))
	s.OnError(errors.New("no-speech"))
	clock.Advance(time.Second)
	s.OnResults(final("", "after it"))

	if got := s.Stats().WordCount; got != 5 {
		t.Errorf("expected 5 words across the interruption, got %d", got)
	}
	if got := s.FullTranscript(); got != "before the gap after it" {
		t.Errorf("unexpected transcript %q", got)
	}
	if last := s.LastFinals(1); len(last) != 1 || last[0].Text != "after it" {
		t.Errorf("unexpected last finals %+v", last)
	}
	if last := s.LastFinals(5); len(last) != 2 {
		t.Errorf("expected LastFinals to cap at the available 2, got %d", len(last))
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.876, 0.88},
		{-0.2, 0},
		{1.3, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		if got := confidence(tt.in); got != tt.want {
			t.Errorf("confidence(%v): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
