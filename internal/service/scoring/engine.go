package scoring

import (
	"math"
	"sync"

	"talk-coach-engine/internal/service/aggregator"
)

// Cue is a short coaching directive.
type Cue string

const (
	CueSlowDown          Cue = "slow_down"
	CueReduceFillers     Cue = "reduce_fillers"
	CueLookAtCamera      Cue = "look_at_camera"
	CueProjectConfidence Cue = "project_confidence"
)

// MaxCues is the most cues shown at once.
const MaxCues = 2

// Cue trigger margins beyond the ideal band.
const (
	paceCueMargin   = 10
	fillerCueMargin = 1
	eyeCueMargin    = 0.1
	motionCueMargin = 0.1
)

// neutral is returned for signals without usable data.
const neutral = 50

// Breakdown holds the five sub-scores behind a composite score.
type Breakdown struct {
	Pace         float64 `json:"pace"`
	Fillers      float64 `json:"fillers"`
	EyeContact   float64 `json:"eyeContact"`
	Pauses       float64 `json:"pauses"`
	MotionEnergy float64 `json:"motionEnergy"`
}

// Engine scores Metrics snapshots under one profile. It is stateless.
type Engine struct {
	profile Profile
}

// NewEngine creates an engine. An invalid profile is replaced by the default.
func NewEngine(p Profile) *Engine {
	if p.Validate() != nil {
		p = DefaultProfile()
	}
	return &Engine{profile: p}
}

// Profile returns the engine's profile.
func (e *Engine) Profile() Profile {
	return e.profile
}

// Breakdown returns every sub-score, each in [0,100].
func (e *Engine) Breakdown(m aggregator.Metrics) Breakdown {
	t := e.profile.Thresholds
	return Breakdown{
		Pace:         scorePace(m.PaceWpm, t.Pace),
		Fillers:      scoreFillers(m.FillerRatePerMin, t.Fillers),
		EyeContact:   scoreEyeContact(m.EyeContactPct, t.EyeContact),
		Pauses:       scorePauses(float64(m.MaxPauseMs), t.MaxPauseMs),
		MotionEnergy: scoreMotion(m.MotionEnergy, t.MotionEnergy),
	}
}

// Score returns the weighted composite in [0,100], rounded to the nearest int.
func (e *Engine) Score(m aggregator.Metrics) int {
	b := e.Breakdown(m)
	w := e.profile.Weights
	total := b.Pace*w.Pace +
		b.Fillers*w.Fillers +
		b.EyeContact*w.EyeContact +
		b.Pauses*w.Pauses +
		b.MotionEnergy*w.MotionEnergy
	return clampScore(int(math.Round(total)))
}

// Smooth blends the previous smoothed score with a new raw score.
func (e *Engine) Smooth(prev, next int) int {
	return Smooth(prev, next, e.profile.Smoothing)
}

// SelectCues returns at most MaxCues cues in fixed priority order.
func (e *Engine) SelectCues(m aggregator.Metrics) []Cue {
	t := e.profile.Thresholds
	cues := make([]Cue, 0, MaxCues)
	add := func(c Cue, hit bool) {
		if hit && len(cues) < MaxCues {
			cues = append(cues, c)
		}
	}
	add(CueSlowDown, m.PaceWpm > t.Pace.Max+paceCueMargin)
	add(CueReduceFillers, m.FillerRatePerMin > t.Fillers.Max+fillerCueMargin)
	add(CueLookAtCamera, m.EyeContactPct < t.EyeContact.Min-eyeCueMargin)
	add(CueProjectConfidence, m.MotionEnergy < t.MotionEnergy.Min-motionCueMargin)
	return cues
}

// Smooth returns round(weight*prev + (1-weight)*next), clamped to [0,100].
func Smooth(prev, next int, weight float64) int {
	v := weight*float64(prev) + (1-weight)*float64(next)
	return clampScore(int(math.Round(v)))
}

// Smoother carries the previous smoothed score between calls. Safe for
// concurrent use.
type Smoother struct {
	mu     sync.Mutex
	engine *Engine
	prev   int
}

// NewSmoother starts from the neutral score 50.
func NewSmoother(e *Engine) *Smoother {
	return &Smoother{engine: e, prev: neutral}
}

// Next smooths a new raw score and returns the new smoothed score.
func (s *Smoother) Next(raw int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = s.engine.Smooth(s.prev, raw)
	return s.prev
}

// Current returns the latest smoothed score.
func (s *Smoother) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

func scorePace(wpm float64, band Band) float64 {
	if !finite(wpm) || wpm <= 0 {
		return neutral
	}
	switch {
	case wpm < band.Min:
		return clamp100(100 - 2*(band.Min-wpm))
	case wpm > band.Max:
		return clamp100(100 - 2*(wpm-band.Max))
	default:
		return 100
	}
}

func scoreFillers(rate float64, band Band) float64 {
	if !finite(rate) {
		return neutral
	}
	if rate <= band.Max {
		return 100
	}
	return clamp100(100 - 15*(rate-band.Max))
}

func scoreEyeContact(pct float64, band Band) float64 {
	if !finite(pct) {
		return neutral
	}
	if pct >= band.Min {
		return 100
	}
	return clamp100(100 * pct / band.Min)
}

func scorePauses(maxPauseMs float64, band Band) float64 {
	if !finite(maxPauseMs) {
		return neutral
	}
	if maxPauseMs <= band.Max {
		return 100
	}
	return clamp100(100 - (maxPauseMs-band.Max)/100)
}

func scoreMotion(energy float64, band Band) float64 {
	if !finite(energy) {
		return neutral
	}
	switch {
	case energy < band.Min:
		return clamp100(100 * energy / band.Min)
	case energy > band.Max:
		return clamp100(100 - 200*(energy-band.Max))
	default:
		return 100
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
