// Package session wires the samplers, the metrics record, the scoring engine
// and the timeline recorder into one practice session with an explicit
// start/stop lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"talk-coach-engine/internal/models"
	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/schema"
	"talk-coach-engine/internal/service/aggregator"
	"talk-coach-engine/internal/service/audio"
	"talk-coach-engine/internal/service/body"
	"talk-coach-engine/internal/service/prosody"
	"talk-coach-engine/internal/service/scoring"
	"talk-coach-engine/internal/service/stt"
	"talk-coach-engine/internal/service/timeline"
	"talk-coach-engine/internal/service/transcript"
)

var (
	// ErrSourceUnavailable refuses a session whose required inputs are missing.
	ErrSourceUnavailable = errors.New("signal source unavailable")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrNotStarted        = errors.New("session not started")
	ErrStopped           = errors.New("session stopped")
	// ErrNoRecognizer is returned for PCM audio on a session whose speech
	// recognition runs on the client.
	ErrNoRecognizer = errors.New("session has no server-side recognizer")
)

// ProviderBrowser means recognizer events are pushed by the client.
const ProviderBrowser = "browser"

// RecentFinals is how many final segments a tip request carries.
const RecentFinals = 5

// Speech and body status values.
const (
	SpeechOK       = "ok"
	SpeechDegraded = "degraded"
)

// NewID returns a fresh session ID.
func NewID() string {
	return uuid.NewString()
}

// Publisher hands events to external collaborators.
type Publisher interface {
	PublishScore(ctx context.Context, event models.ScoreUpdated) error
	PublishTip(ctx context.Context, event models.TipRequested) error
	PublishTimeline(ctx context.Context, event models.TimelineSealed) error
}

// HistorySink stores sealed timelines.
type HistorySink interface {
	Save(ctx context.Context, tl timeline.SessionTimeline) error
}

// Listener receives live session output.
type Listener interface {
	OnUpdate(u Update)
	OnTranscript(seg transcript.Segment)
}

// Coding describes the question of a coding-interview session.
type Coding struct {
	QuestionName        string `json:"questionName"`
	QuestionDescription string `json:"questionDescription"`
	InitialCode         string `json:"initialCode,omitempty"`
}

// StartOptions describe the session and the inputs the client has.
type StartOptions struct {
	Mode       string  `json:"mode"`
	Type       string  `json:"type,omitempty"`
	Context    string  `json:"context,omitempty"`
	Microphone bool    `json:"microphone"`
	Camera     bool    `json:"camera"`
	SkipCamera bool    `json:"skipCamera"`
	Coding     *Coding `json:"coding,omitempty"`
}

// Status is the per-sampler health shown next to the score.
type Status struct {
	Running bool   `json:"running"`
	Speech  string `json:"speech"`
	Body    string `json:"body"`
}

// Update is one live score refresh.
type Update struct {
	SessionID      string             `json:"sessionId"`
	Timestamp      int64              `json:"timestamp"`
	ElapsedSeconds int                `json:"elapsedSeconds"`
	Score          int                `json:"score"`
	RawScore       int                `json:"rawScore"`
	Cues           []scoring.Cue      `json:"cues"`
	Metrics        aggregator.Metrics `json:"metrics"`
	Tone           prosody.ToneInfo   `json:"tone"`
	Body           body.BodySignals   `json:"body"`
	Status         Status             `json:"status"`
}

// Snapshot is the full live view of a session.
type Snapshot struct {
	SessionID  string               `json:"sessionId"`
	Mode       string               `json:"mode"`
	Type       string               `json:"type,omitempty"`
	StartedAt  time.Time            `json:"startedAt"`
	Update     Update               `json:"update"`
	Transcript []transcript.Segment `json:"transcript"`
	Stats      transcript.Stats     `json:"stats"`
}

// Config holds the per-session tuning.
type Config struct {
	Provider      string
	Prosody       prosody.Config
	Body          body.Config
	FeedLimit     int
	ScoreInterval time.Duration
	TipInterval   time.Duration
	TipDebounce   time.Duration
	StreamLimits  audio.StreamLimits
	Restart       audio.RestartPolicy
	// IdleTimeout stops a session without a stream listener after this long
	// without input. Zero disables it.
	IdleTimeout   time.Duration
}

// DefaultConfig returns the default session tuning.
func DefaultConfig() Config {
	return Config{
		Provider:      ProviderBrowser,
		Prosody:       prosody.DefaultConfig(),
		Body:          body.DefaultConfig(),
		FeedLimit:     8,
		ScoreInterval: time.Second,
		TipInterval:   5 * time.Second,
		TipDebounce:   3 * time.Second,
		StreamLimits:  audio.DefaultLimits(),
		Restart:       audio.DefaultRestartPolicy(),
		IdleTimeout:   2 * time.Minute,
	}
}

// Deps are the collaborators of a session. All fields may be nil.
type Deps struct {
	// Recognizer is the server-side recognizer, required unless the provider is browser.
	Recognizer stt.Adapter
	// Classifier is the remote vision classifier. Without one, judgments are
	// pushed by the client.
	Classifier body.Classifier
	Publisher  Publisher
	History    HistorySink
	Profiles   scoring.Profiles
	Validator  *schema.Validator
}

// Controller owns one session.
type Controller struct {
	id     string
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	metric *metrics.Metrics
	now    func() time.Time
	manual bool

	listenerMu sync.RWMutex
	listener   Listener

	// lastActive is the unix-nano time of the last input or stream change.
	lastActive atomic.Int64

	mu        sync.Mutex
	started   bool
	stopped   bool
	opts      StartOptions
	startedAt time.Time
	record    *aggregator.Record
	segmenter *transcript.Segmenter
	prosody   *prosody.Sampler
	body      *body.Sampler
	feed      *body.FeedClassifier
	engine    *scoring.Engine
	smoother  *scoring.Smoother
	recorder  *timeline.Recorder
	forwarder *audio.Forwarder
	last      Update
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	stopOnce sync.Once
	sealed   timeline.SessionTimeline
	stopErr  error
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now for every component of the session.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithManualTicks disables the background loops. Audio and video are
// sampled as they are offered and scores are computed on Refresh.
func WithManualTicks() Option {
	return func(c *Controller) { c.manual = true }
}

// WithListener registers the live output listener.
func WithListener(l Listener) Option {
	return func(c *Controller) { c.listener = l }
}

// NewController creates an idle session.
func NewController(id string, cfg Config, deps Deps, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		metric: metrics.DefaultMetrics,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.deps.Validator == nil {
		c.deps.Validator = schema.New(logger)
	}
	if c.deps.Profiles == nil {
		c.deps.Profiles = scoring.DefaultProfiles()
	}
	return c
}

// ID returns the session ID.
func (c *Controller) ID() string {
	return c.id
}

// SetListener replaces the live output listener.
func (c *Controller) SetListener(l Listener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listener = l
	c.touch()
}

func (c *Controller) touch() {
	c.lastActive.Store(c.now().UnixNano())
}

// Idle reports how long the session went without input or a stream change,
// and whether a stream listener is attached.
func (c *Controller) Idle() (time.Duration, bool) {
	attached := c.currentListener() != nil
	return c.now().Sub(time.Unix(0, c.lastActive.Load())), attached
}

func (c *Controller) currentListener() Listener {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	return c.listener
}

// Start checks the inputs and launches the samplers. Missing microphone,
// recognizer or camera (unless skipped) refuse the session with
// ErrSourceUnavailable. A cancelled ctx aborts the start and is returned.
// ctx bounds only the start-up; the session runs until Stop. Nothing is
// left running on failure.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.checkSources(opts); err != nil {
		return err
	}
	if opts.Mode == "" {
		opts.Mode = scoring.DefaultMode
	}
	c.opts = opts
	c.startedAt = c.now()

	c.record = aggregator.NewRecord()
	c.prosody = prosody.NewSampler(c.cfg.Prosody, nil, c.logger.With().Str("sampler", "prosody").Logger())
	c.segmenter = transcript.New(c.id, c.record, c.logger.With().Str("sampler", "transcript").Logger(),
		transcript.WithClock(c.now),
		transcript.WithToneSource(c.prosody),
		transcript.WithListener(transcriptListener{c}),
	)
	c.engine = scoring.NewEngine(c.deps.Profiles.ForMode(opts.Mode))
	c.smoother = scoring.NewSmoother(c.engine)

	info := timeline.Info{SessionID: c.id, Mode: opts.Mode, Type: opts.Type, Context: opts.Context}
	if opts.Coding != nil {
		info.QuestionName = opts.Coding.QuestionName
		info.QuestionDescription = opts.Coding.QuestionDescription
	}
	c.recorder = timeline.NewRecorder(info, c.record, c.logger, timeline.WithClock(c.now))
	if opts.Coding != nil {
		_ = c.recorder.UpdateCode(opts.Coding.InitialCode, "")
		_, _ = c.recorder.AppendCodeSnapshot(opts.Coding.InitialCode)
	}

	if opts.Camera {
		c.body = c.newBodySampler()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if c.deps.Recognizer != nil {
		c.forwarder = audio.NewForwarder(c.deps.Recognizer, recognizerSink{c}, c.cfg.Provider,
			c.cfg.StreamLimits, c.cfg.Restart, c.logger.With().Str("sampler", "recognizer").Logger())
		if err := c.forwarder.Start(runCtx); err != nil {
			cancel()
			c.record.Close()
			c.metric.RecordSessionRefused("recognizer")
			return fmt.Errorf("%w: recognizer: %v", ErrSourceUnavailable, err)
		}
	}
	if err := ctx.Err(); err != nil {
		// The caller gave up during the recognizer handshake.
		if c.forwarder != nil {
			_ = c.forwarder.Close()
		}
		cancel()
		c.record.Close()
		return err
	}

	// No loop runs yet, so the samplers are idle.
	c.last = c.buildUpdateLocked(c.smoother.Current(), c.engine.Score(c.record.Snapshot()), nil,
		observeSamplers(c.prosody, c.body, c.forwarder))
	c.started = true
	c.touch()
	c.metric.RecordSessionStart()

	if !c.manual {
		c.launch(runCtx, c.prosody.Run)
		if c.body != nil {
			c.launch(runCtx, c.body.Run)
		}
		c.launch(runCtx, c.scoreLoop)
		c.launch(runCtx, c.tipLoop)
		if opts.Coding != nil {
			c.launch(runCtx, c.codeLoop)
		}
	}

	c.logger.Info().
		Str("mode", opts.Mode).
		Str("type", opts.Type).
		Bool("camera", opts.Camera).
		Str("speechProvider", c.cfg.Provider).
		Str("body", c.last.Status.Body).
		Msg("Session started")
	return nil
}

func (c *Controller) checkSources(opts StartOptions) error {
	var source string
	switch {
	case !opts.Microphone:
		source = "microphone"
	case c.cfg.Provider != ProviderBrowser && c.deps.Recognizer == nil:
		source = "recognizer"
	case !opts.Camera && !opts.SkipCamera:
		source = "camera"
	default:
		return nil
	}
	c.metric.RecordSessionRefused(source)
	c.logger.Warn().Str("source", source).Msg("Session refused, required input unavailable")
	return fmt.Errorf("%w: %s", ErrSourceUnavailable, source)
}

func (c *Controller) newBodySampler() *body.Sampler {
	classifier := c.deps.Classifier
	if classifier == nil {
		c.feed = body.NewFeedClassifier(c.cfg.FeedLimit)
		classifier = c.feed
	}
	primary := body.NewPrimaryStrategy(classifier, c.deps.Validator.Judgment)
	return body.NewSampler(c.cfg.Body, primary, c.record, nil,
		c.logger.With().Str("sampler", "body").Logger(), body.WithClock(c.now))
}

func (c *Controller) launch(ctx context.Context, run func(context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		run(ctx)
	}()
}

// running returns the live components, or false once the session stopped.
func (c *Controller) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.stopped
}

// accept is running for session inputs; it also marks the session active.
func (c *Controller) accept() bool {
	if !c.running() {
		return false
	}
	c.touch()
	return true
}

// OnRecognizerResults accepts one batch of recognizer results pushed by the client.
func (c *Controller) OnRecognizerResults(results []stt.Result) {
	if !c.accept() {
		return
	}
	c.segmenter.OnResults(c.deps.Validator.Results(results))
}

// OnRecognizerError reports that the client-side recognizer stream ended.
// Accumulated counters are kept; the client restarts its stream.
func (c *Controller) OnRecognizerError(err error) {
	if !c.accept() {
		return
	}
	c.segmenter.OnError(err)
}

// SendAudio forwards PCM audio to the server-side recognizer.
func (c *Controller) SendAudio(ctx context.Context, pcm []byte) error {
	if !c.accept() {
		return ErrStopped
	}
	if c.forwarder == nil {
		return ErrNoRecognizer
	}
	return c.forwarder.SendAudio(ctx, pcm)
}

// OfferAudio hands an analysis frame to the prosody sampler.
func (c *Controller) OfferAudio(frame prosody.AudioFrame) {
	if !c.accept() || c.deps.Validator.AudioFrame(frame) != nil {
		return
	}
	if c.manual {
		c.prosody.Tick(frame)
		return
	}
	c.prosody.Offer(frame)
}

// OfferVideo hands a decoded frame to the body sampler.
func (c *Controller) OfferVideo(ctx context.Context, frame body.VideoFrame) {
	if !c.accept() || c.body == nil || c.deps.Validator.VideoFrame(frame) != nil {
		return
	}
	if c.manual {
		c.body.Tick(ctx, &frame)
		return
	}
	c.body.Offer(frame)
}

// PushJudgment queues a judgment from a client-side vision classifier.
func (c *Controller) PushJudgment(ctx context.Context, j body.Judgment) {
	if !c.accept() || c.feed == nil {
		return
	}
	c.feed.Push(j)
	if c.manual {
		c.body.Tick(ctx, nil)
	}
}

// FailJudgments reports that the client-side vision classifier failed.
func (c *Controller) FailJudgments(err error) {
	if !c.accept() || c.feed == nil {
		return
	}
	c.feed.Fail(err)
}

// TickBody runs one body tick without a frame. In manual mode this is how
// elapsed time without judgments is observed.
func (c *Controller) TickBody(ctx context.Context) {
	if !c.running() || c.body == nil {
		return
	}
	c.body.Tick(ctx, nil)
}

// UpdateCode records the candidate's current code and last run output.
func (c *Controller) UpdateCode(code, output string) {
	if !c.accept() {
		return
	}
	if err := c.recorder.UpdateCode(code, output); err != nil {
		c.logger.Debug().Err(err).Msg("Code update after seal ignored")
	}
}

// SnapshotCode records the current code if it changed.
func (c *Controller) SnapshotCode() bool {
	if !c.running() {
		return false
	}
	took, _ := c.recorder.SnapshotCurrentCode()
	return took
}

type transcriptListener struct{ c *Controller }

func (t transcriptListener) OnTranscript(seg transcript.Segment) {
	if seg.IsFinal {
		if err := t.c.recorder.Append(seg); err != nil {
			t.c.logger.Debug().Err(err).Str("segmentId", seg.ID).Msg("Final segment not recorded")
		}
	}
	if l := t.c.currentListener(); l != nil {
		l.OnTranscript(seg)
	}
}

type recognizerSink struct{ c *Controller }

func (r recognizerSink) OnResults(results []stt.Result) { r.c.OnRecognizerResults(results) }
func (r recognizerSink) OnError(err error)              { r.c.OnRecognizerError(err) }

// Refresh scores the current metrics. A smoothing step is taken only when
// smooth is set; otherwise the raw score and cues refresh and the smoothed
// score holds.
func (c *Controller) Refresh(ctx context.Context, smooth bool) (Update, error) {
	if !c.running() {
		return Update{}, ErrStopped
	}
	obs := c.observe()

	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return Update{}, ErrStopped
	}
	m := c.record.Snapshot()
	raw := c.engine.Score(m)
	score := c.smoother.Current()
	if smooth {
		score = c.smoother.Next(raw)
	}
	u := c.buildUpdateLocked(score, raw, c.engine.SelectCues(m), obs)
	c.last = u
	c.mu.Unlock()

	c.metric.RecordScore(u.Score, cueStrings(u.Cues))
	if l := c.currentListener(); l != nil {
		l.OnUpdate(u)
	}
	if smooth && c.deps.Publisher != nil {
		if err := c.deps.Publisher.PublishScore(ctx, c.scoreEvent(u)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to publish score update")
		}
	}
	return u, nil
}

// observation is the sampler state shown next to a score. It is gathered
// without c.mu so a slow sampler never holds up session inputs.
type observation struct {
	tone       prosody.ToneInfo
	signals    body.BodySignals
	speech     string
	bodyStatus string
}

func (c *Controller) observe() observation {
	c.mu.Lock()
	p, b, f := c.prosody, c.body, c.forwarder
	c.mu.Unlock()
	return observeSamplers(p, b, f)
}

func observeSamplers(p *prosody.Sampler, b *body.Sampler, f *audio.Forwarder) observation {
	o := observation{
		tone:       p.CurrentTone(),
		signals:    body.NeutralSignals(),
		speech:     SpeechOK,
		bodyStatus: body.StrategyOff,
	}
	if f != nil && f.Degraded() {
		o.speech = SpeechDegraded
	}
	if b != nil {
		o.signals = b.Signals()
		o.bodyStatus = b.Strategy()
	}
	return o
}

func (c *Controller) buildUpdateLocked(score, raw int, cues []scoring.Cue, obs observation) Update {
	now := c.now()
	if cues == nil {
		cues = []scoring.Cue{}
	}
	return Update{
		SessionID:      c.id,
		Timestamp:      now.UnixMilli(),
		ElapsedSeconds: int(now.Sub(c.startedAt).Seconds()),
		Score:          score,
		RawScore:       raw,
		Cues:           cues,
		Metrics:        c.record.Snapshot(),
		Tone:           obs.tone,
		Body:           obs.signals,
		Status: Status{
			Running: !c.stopped,
			Speech:  obs.speech,
			Body:    obs.bodyStatus,
		},
	}
}

func (c *Controller) scoreEvent(u Update) models.ScoreUpdated {
	return models.ScoreUpdated{
		EventType: models.EventScoreUpdated,
		SessionID: u.SessionID,
		Timestamp: u.Timestamp,
		Score:     u.Score,
		RawScore:  u.RawScore,
		Cues:      cueStrings(u.Cues),
		Metrics:   u.Metrics,
		Speech:    u.Status.Speech,
		Body:      u.Status.Body,
	}
}

// RequestTip publishes a coaching-tip request with the recent transcript.
func (c *Controller) RequestTip(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	u := c.last
	mode := c.opts.Mode
	c.mu.Unlock()

	finals := c.segmenter.LastFinals(RecentFinals)
	texts := make([]string, len(finals))
	for i, f := range finals {
		texts[i] = f.Text
	}

	c.metric.RecordTipRequest()
	if c.deps.Publisher == nil {
		return nil
	}
	return c.deps.Publisher.PublishTip(ctx, models.TipRequested{
		EventType:        models.EventTipRequested,
		SessionID:        c.id,
		Timestamp:        c.now().UnixMilli(),
		Mode:             mode,
		RecentTranscript: strings.Join(texts, " "),
		Metrics:          u.Metrics,
		Score:            u.Score,
		Cues:             cueStrings(u.Cues),
	})
}

func (c *Controller) scoreLoop(ctx context.Context) {
	interval := c.cfg.ScoreInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	changed := c.record.Changed()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			_, _ = c.Refresh(ctx, false)
		case <-ticker.C:
			_, _ = c.Refresh(ctx, true)
		}
	}
}

func (c *Controller) tipLoop(ctx context.Context) {
	if c.cfg.TipInterval <= 0 {
		return
	}
	debounce := time.NewTimer(c.cfg.TipDebounce)
	defer debounce.Stop()
	select {
	case <-ctx.Done():
		return
	case <-debounce.C:
	}

	ticker := time.NewTicker(c.cfg.TipInterval)
	defer ticker.Stop()
	for {
		if err := c.RequestTip(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Msg("Failed to request coaching tip")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) codeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.recorder.CodeInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.SnapshotCode() {
				c.logger.Debug().Msg("Code snapshot recorded")
			}
		}
	}
}

// Last returns the most recent update.
func (c *Controller) Last() Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Snapshot returns the live view of the session.
func (c *Controller) Snapshot() (Snapshot, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return Snapshot{}, ErrNotStarted
	}
	s := Snapshot{
		SessionID: c.id,
		Mode:      c.opts.Mode,
		Type:      c.opts.Type,
		StartedAt: c.startedAt,
		Update:    c.last,
	}
	seg := c.segmenter
	c.mu.Unlock()

	s.Transcript = seg.Visible()
	s.Stats = seg.Stats()
	return s, nil
}

// Stop ends the session: metric writes are closed first, then the loops and
// the recognizer stop, the timeline is sealed with the final smoothed score,
// published and stored. Stop is idempotent; later calls return the same
// timeline.
func (c *Controller) Stop(ctx context.Context) (timeline.SessionTimeline, error) {
	c.stopOnce.Do(func() {
		c.sealed, c.stopErr = c.stop(ctx)
	})
	return c.sealed, c.stopErr
}

func (c *Controller) stop(ctx context.Context) (timeline.SessionTimeline, error) {
	c.mu.Lock()
	if !c.started {
		c.stopped = true
		c.mu.Unlock()
		return timeline.SessionTimeline{}, ErrNotStarted
	}
	c.stopped = true
	c.record.Close()
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	if c.forwarder != nil {
		if err := c.forwarder.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Error closing recognizer")
		}
	}

	c.mu.Lock()
	final := c.smoother.Current()
	c.last.Status.Running = false
	c.mu.Unlock()

	tl := c.recorder.Seal(final)
	c.metric.RecordSessionEnd(float64(tl.ElapsedSeconds))

	if c.deps.Publisher != nil {
		err := c.deps.Publisher.PublishTimeline(ctx, models.TimelineSealed{
			EventType: models.EventTimelineSealed,
			SessionID: c.id,
			Timestamp: tl.SealedAt.UnixMilli(),
			Timeline:  tl,
		})
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to publish sealed timeline")
		}
	}
	if c.deps.History != nil {
		if err := c.deps.History.Save(ctx, tl); err != nil {
			c.logger.Error().Err(err).Msg("Failed to store session history")
		}
	}

	c.logger.Info().
		Int("finalScore", final).
		Int("elapsedSeconds", tl.ElapsedSeconds).
		Int("finals", len(tl.Segments)).
		Msg("Session stopped")
	return tl, nil
}

func cueStrings(cues []scoring.Cue) []string {
	out := make([]string, len(cues))
	for i, cue := range cues {
		out[i] = string(cue)
	}
	return out
}
