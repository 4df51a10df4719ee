// Package transcript turns raw recognizer results into annotated transcript
// segments and keeps the speech-derived fields of the Metrics record current.
package transcript

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/aggregator"
	"talk-coach-engine/internal/service/prosody"
	"talk-coach-engine/internal/service/segment"
	"talk-coach-engine/internal/service/stt"
)

// Timing policy.
const (
	// DisplayPauseThreshold is the gap between finals that gets annotated on a segment.
	DisplayPauseThreshold = 500 * time.Millisecond
	// MetricPauseThreshold is the gap between any two recognizer events that counts as a pause.
	MetricPauseThreshold = 1500 * time.Millisecond
	// RateWarmup holds pace and filler rate back until enough time has elapsed.
	RateWarmup = 3 * time.Second
	// MaxPaceWpm caps the reported pace.
	MaxPaceWpm = 300
)

// Segment is one annotated utterance fragment.
type Segment struct {
	ID            string            `json:"id"`
	Text          string            `json:"text"`
	TimestampMs   int64             `json:"timestampMs"`
	IsFinal       bool              `json:"isFinal"`
	Confidence    float64           `json:"confidence"`
	PauseBeforeMs int64             `json:"pauseBeforeMs,omitempty"`
	Fillers       []string          `json:"fillers,omitempty"`
	SpeakingRate  SpeakingRate      `json:"speakingRate"`
	IsHesitation  bool              `json:"isHesitation,omitempty"`
	Tone          *prosody.ToneInfo `json:"tone,omitempty"`
}

// Stats are the session-lifetime counters.
type Stats struct {
	WordCount   int   `json:"wordCount"`
	FillerCount int   `json:"fillerCount"`
	PauseCount  int   `json:"pauseCount"`
	MaxPauseMs  int64 `json:"maxPauseMs"`
	Finals      int   `json:"finals"`
}

// ToneSource provides the current tone at finalization time.
type ToneSource interface {
	CurrentTone() prosody.ToneInfo
}

// Listener receives every segment the segmenter emits, interim and final.
type Listener interface {
	OnTranscript(seg Segment)
}

// Segmenter consumes recognizer results. It implements the result half of
// stt.Callback; recognizer restarts are the caller's concern.
type Segmenter struct {
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	writer   aggregator.SpeechWriter
	tone     ToneSource
	listener Listener

	mu        sync.Mutex
	ids       *segment.Generator
	live      *segment.Lifecycle
	ledger    *segment.Ledger
	finals    []Segment
	interim   *Segment
	start     time.Time
	lastFinal time.Time
	lastEvent time.Time
	sawEvent  bool
	sawFinal  bool
	stats     Stats
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// WithToneSource attaches the prosody sampler.
func WithToneSource(t ToneSource) Option {
	return func(s *Segmenter) { s.tone = t }
}

// WithListener registers the segment listener.
func WithListener(l Listener) Option {
	return func(s *Segmenter) { s.listener = l }
}

// New creates a segmenter for one session. The session clock starts now.
// writer may be nil.
func New(sessionID string, writer aggregator.SpeechWriter, logger zerolog.Logger, opts ...Option) *Segmenter {
	s := &Segmenter{
		logger:  logger,
		metrics: metrics.DefaultMetrics,
		now:     time.Now,
		writer:  writer,
		ids:     segment.New(sessionID),
		ledger:  segment.NewLedger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.live = segment.NewLifecycle(s.ids.Next())
	s.start = s.now()
	s.lastFinal = s.start
	s.lastEvent = s.start
	return s
}

// OnResults processes one recognizer batch. Data problems are logged and
// never returned.
func (s *Segmenter) OnResults(results []stt.Result) {
	if len(results) == 0 {
		return
	}

	s.mu.Lock()
	now := s.now()

	// Metric pause: gap since the previous recognizer event of any kind.
	if s.sawEvent {
		if gap := now.Sub(s.lastEvent); gap > MetricPauseThreshold {
			s.stats.PauseCount++
			if ms := gap.Milliseconds(); ms > s.stats.MaxPauseMs {
				s.stats.MaxPauseMs = ms
			}
		}
	}
	sinceLastEventMs := now.Sub(s.lastEvent).Milliseconds()

	var emitted []Segment
	for _, r := range results {
		seg, err := s.applyLocked(r, now, sinceLastEventMs)
		if err != nil {
			s.rejectLocked(r, err)
			continue
		}
		emitted = append(emitted, seg)
	}

	s.lastEvent = now
	s.sawEvent = true
	stats := s.stats
	elapsed := now.Sub(s.start)
	s.mu.Unlock()

	s.publishMetrics(stats, elapsed)
	if s.listener != nil {
		for _, seg := range emitted {
			s.listener.OnTranscript(seg)
		}
	}
}

// OnError is a no-op: the segmenter only accumulates and holds no retry logic.
// Counters survive until results resume.
func (s *Segmenter) OnError(err error) {
	s.logger.Warn().Err(err).Msg("Recognizer stream interrupted, keeping accumulated counters")
}

func (s *Segmenter) applyLocked(r stt.Result, now time.Time, sinceLastEventMs int64) (Segment, error) {
	id := s.resolveIDLocked(r.ID)

	if r.IsFinal {
		if err := s.ledger.MarkFinal(id); err != nil {
			return Segment{}, err
		}
	} else if s.ledger.IsFinal(id) {
		return Segment{}, segment.ErrCannotEmitPartialAfterFinal
	}

	words := Words(r.Text)
	fillers := Fillers(r.Text)
	seg := Segment{
		ID:           id,
		Text:         r.Text,
		TimestampMs:  now.UnixMilli(),
		IsFinal:      r.IsFinal,
		Confidence:   confidence(r.Confidence),
		Fillers:      fillers,
		SpeakingRate: ClassifyRate(len(words), sinceLastEventMs),
		IsHesitation: IsHesitation(r.Text),
	}

	s.metrics.RecordRecognizerEvent(r.IsFinal)

	if !r.IsFinal {
		if err := s.live.EmitPartial(); err != nil {
			return Segment{}, err
		}
		s.interim = &seg
		return seg, nil
	}

	if s.sawFinal {
		if gap := now.Sub(s.lastFinal); gap > DisplayPauseThreshold {
			seg.PauseBeforeMs = gap.Milliseconds()
		}
	}
	if s.tone != nil {
		tone := s.tone.CurrentTone()
		seg.Tone = &tone
	}

	if err := s.live.EmitFinal(); err != nil {
		return Segment{}, err
	}
	s.live.Close()
	s.live.Reset(s.ids.Next())

	s.finals = append(s.finals, seg)
	s.interim = nil
	s.lastFinal = now
	s.sawFinal = true
	s.stats.WordCount += len(words)
	s.stats.FillerCount += len(fillers)
	s.stats.Finals++
	return seg, nil
}

// resolveIDLocked maps a result to the live utterance. A result carrying a new
// explicit ID supersedes the live one: an unfinalized interim is dropped.
func (s *Segmenter) resolveIDLocked(explicit string) string {
	if explicit == "" || explicit == s.live.SegmentId() || s.ledger.IsFinal(explicit) {
		if explicit == "" {
			return s.live.SegmentId()
		}
		return explicit
	}
	if s.live.Drop() && s.interim != nil {
		s.logger.Debug().Str("segmentId", s.live.SegmentId()).Msg("Interim superseded without a final")
	}
	s.interim = nil
	s.live.Reset(explicit)
	return explicit
}

func (s *Segmenter) rejectLocked(r stt.Result, err error) {
	ev := s.logger.Debug()
	if errors.Is(err, segment.ErrFinalAlreadyEmitted) {
		s.metrics.RecordDuplicateFinal()
		ev = s.logger.Warn()
	}
	ev.Err(err).
		Str("segmentId", r.ID).
		Bool("isFinal", r.IsFinal).
		Msg("Recognizer result rejected")
}

func (s *Segmenter) publishMetrics(stats Stats, elapsed time.Duration) {
	if s.writer == nil {
		return
	}
	s.writer.WritePauses(stats.PauseCount, stats.MaxPauseMs)

	if elapsed < RateWarmup {
		return
	}
	minutes := elapsed.Minutes()
	pace := math.Min(math.Round(float64(stats.WordCount)/minutes), MaxPaceWpm)
	fillerRate := roundTo(float64(stats.FillerCount)/minutes, 1)
	s.writer.WriteRates(pace, fillerRate)
}

// Visible returns all finals plus the live interim, if any.
func (s *Segmenter) Visible() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, 0, len(s.finals)+1)
	out = append(out, s.finals...)
	if s.interim != nil {
		out = append(out, *s.interim)
	}
	return out
}

// Finals returns the finalized segments in order.
func (s *Segmenter) Finals() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Segment(nil), s.finals...)
}

// LastFinals returns up to n of the newest finalized segments, oldest first.
func (s *Segmenter) LastFinals(n int) []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.finals) {
		n = len(s.finals)
	}
	return append([]Segment(nil), s.finals[len(s.finals)-n:]...)
}

// FullTranscript joins the final texts with spaces.
func (s *Segmenter) FullTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, len(s.finals))
	for i, f := range s.finals {
		texts[i] = f.Text
	}
	return strings.Join(texts, " ")
}

// Stats returns the lifetime counters.
func (s *Segmenter) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// confidence rounds to two decimals for display. Out-of-range values are clamped.
func confidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return roundTo(c, 2)
}
