// Package timeline accumulates everything a session produced for the report
// generator: final transcript segments, metric snapshots and code evolution.
package timeline

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/aggregator"
	"talk-coach-engine/internal/service/transcript"
)

var (
	// ErrSealed is returned by every mutation after Seal.
	ErrSealed = errors.New("timeline is sealed")
	// ErrNotFinal is returned when an interim segment is appended.
	ErrNotFinal = errors.New("only final segments can be appended")
)

// Code snapshot cadence.
const (
	MinCodeInterval        = 15 * time.Second
	MaxCodeInterval        = 30 * time.Second
	codeIntervalScaleChars = 500
)

// CodeInterval returns the snapshot interval for a problem description of
// descLen characters, scaled linearly between the minimum and maximum.
func CodeInterval(descLen int) time.Duration {
	scale := math.Min(float64(max(descLen, 0))/codeIntervalScaleChars, 1)
	return MinCodeInterval + time.Duration(scale*float64(MaxCodeInterval-MinCodeInterval))
}

// CodeSnapshot is one recorded version of the candidate's code.
type CodeSnapshot struct {
	Code           string `json:"code"`
	TimestampMs    int64  `json:"timestampMs"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
}

// Coding holds the coding-interview part of a session.
type Coding struct {
	QuestionName        string         `json:"questionName"`
	QuestionDescription string         `json:"questionDescription"`
	FinalCode           string         `json:"finalCode"`
	LastOutput          string         `json:"lastOutput,omitempty"`
	Snapshots           []CodeSnapshot `json:"snapshots"`
}

// Info describes the session being recorded.
type Info struct {
	SessionID string
	Mode      string
	Type      string
	Context   string
	// QuestionName and QuestionDescription are set for coding sessions only.
	QuestionName        string
	QuestionDescription string
}

// SessionTimeline is the sealed record of one session.
type SessionTimeline struct {
	SessionID      string               `json:"sessionId"`
	Mode           string               `json:"mode"`
	Type           string               `json:"type,omitempty"`
	Context        string               `json:"context,omitempty"`
	StartedAt      time.Time            `json:"startedAt"`
	SealedAt       time.Time            `json:"sealedAt"`
	ElapsedSeconds int                  `json:"elapsedSeconds"`
	Segments       []transcript.Segment `json:"segments"`
	Transcript     string               `json:"transcript"`
	Metrics        aggregator.Metrics   `json:"metrics"`
	FinalScore     int                  `json:"finalScore"`
	Coding         *Coding              `json:"coding,omitempty"`
}

// WordCount counts words across all final segments.
func (t SessionTimeline) WordCount() int {
	n := 0
	for _, s := range t.Segments {
		n += len(transcript.Words(s.Text))
	}
	return n
}

// MetricsSource is read at snapshot time.
type MetricsSource interface {
	Snapshot() aggregator.Metrics
}

// Recorder builds a SessionTimeline. Safe for concurrent use.
type Recorder struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	source  MetricsSource

	mu       sync.Mutex
	info     Info
	started  time.Time
	segments []transcript.Segment
	snapshot aggregator.Metrics
	coding   *Coding
	code     string
	output   string
	sealed   *SessionTimeline
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder starts a timeline. source may be nil, in which case the
// initial metrics are sealed.
func NewRecorder(info Info, source MetricsSource, logger zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		logger:   logger,
		metrics:  metrics.DefaultMetrics,
		now:      time.Now,
		source:   source,
		info:     info,
		snapshot: aggregator.InitialMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()
	if info.QuestionName != "" || info.QuestionDescription != "" {
		r.coding = &Coding{
			QuestionName:        info.QuestionName,
			QuestionDescription: info.QuestionDescription,
		}
	}
	return r
}

// IsCoding reports whether the session records code snapshots.
func (r *Recorder) IsCoding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coding != nil
}

// CodeInterval returns the snapshot interval for this session's question.
func (r *Recorder) CodeInterval() time.Duration {
	return CodeInterval(len(r.info.QuestionDescription))
}

// Append records a final segment.
func (r *Recorder) Append(seg transcript.Segment) error {
	if !seg.IsFinal {
		return ErrNotFinal
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed != nil {
		return ErrSealed
	}
	r.segments = append(r.segments, seg)
	return nil
}

// SnapshotMetrics captures the current metrics and returns them.
func (r *Recorder) SnapshotMetrics() (aggregator.Metrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed != nil {
		return r.sealed.Metrics, ErrSealed
	}
	r.snapshotLocked()
	return r.snapshot, nil
}

func (r *Recorder) snapshotLocked() {
	if r.source != nil {
		r.snapshot = r.source.Snapshot()
	}
}

// UpdateCode sets the candidate's current code and, optionally, the output
// of its last execution. It does not take a snapshot.
func (r *Recorder) UpdateCode(code, output string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed != nil {
		return ErrSealed
	}
	r.code = code
	if output != "" {
		r.output = output
	}
	return nil
}

// AppendCodeSnapshot records code unless it matches the last recorded
// snapshot. It reports whether a snapshot was taken.
func (r *Recorder) AppendCodeSnapshot(code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed != nil {
		return false, ErrSealed
	}
	return r.appendCodeLocked(code), nil
}

// SnapshotCurrentCode records the code last passed to UpdateCode.
func (r *Recorder) SnapshotCurrentCode() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed != nil {
		return false, ErrSealed
	}
	return r.appendCodeLocked(r.code), nil
}

func (r *Recorder) appendCodeLocked(code string) bool {
	if r.coding == nil {
		r.coding = &Coding{}
	}
	if n := len(r.coding.Snapshots); n > 0 && r.coding.Snapshots[n-1].Code == code {
		return false
	}
	now := r.now()
	r.coding.Snapshots = append(r.coding.Snapshots, CodeSnapshot{
		Code:           code,
		TimestampMs:    now.UnixMilli(),
		ElapsedSeconds: int(now.Sub(r.started).Seconds()),
	})
	r.code = code
	return true
}

// Segments returns the recorded segments.
func (r *Recorder) Segments() []transcript.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transcript.Segment(nil), r.segments...)
}

// Sealed reports whether Seal was called.
func (r *Recorder) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed != nil
}

// Seal closes the timeline with the final smoothed score and returns it.
// A coding session gets a last snapshot if the code changed. Later calls
// return the same timeline.
func (r *Recorder) Seal(finalScore int) SessionTimeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed != nil {
		return *r.sealed
	}

	r.snapshotLocked()
	// Code cleared after a snapshot is a change too; an empty editor that
	// was never snapshotted is not.
	if r.coding != nil && (r.code != "" || len(r.coding.Snapshots) > 0) {
		r.appendCodeLocked(r.code)
	}

	now := r.now()
	texts := make([]string, len(r.segments))
	for i, s := range r.segments {
		texts[i] = s.Text
	}
	tl := SessionTimeline{
		SessionID:      r.info.SessionID,
		Mode:           r.info.Mode,
		Type:           r.info.Type,
		Context:        r.info.Context,
		StartedAt:      r.started,
		SealedAt:       now,
		ElapsedSeconds: int(now.Sub(r.started).Seconds()),
		Segments:       r.segments,
		Transcript:     strings.Join(texts, " "),
		Metrics:        r.snapshot,
		FinalScore:     finalScore,
	}
	if r.coding != nil {
		c := *r.coding
		c.FinalCode = r.code
		c.LastOutput = r.output
		tl.Coding = &c
	}
	r.sealed = &tl

	r.metrics.RecordTimelineSealed()
	r.logger.Info().
		Str("sessionId", tl.SessionID).
		Int("segments", len(tl.Segments)).
		Int("finalScore", finalScore).
		Int("elapsedSeconds", tl.ElapsedSeconds).
		Msg("Session timeline sealed")
	return tl
}
