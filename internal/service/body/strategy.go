package body

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

// Strategy produces one eye-contact and one motion sample per tick.
type Strategy interface {
	Name() string
	Sample(ctx context.Context, frame *VideoFrame) (eye, motion float64, err error)
}

// Strategy names.
const (
	StrategyPrimary  = "primary"
	StrategyFallback = "fallback"
	StrategyOff      = "off"
)

// ErrMalformedJudgment wraps a classifier result that failed validation.
var ErrMalformedJudgment = errors.New("malformed judgment")

// PrimaryStrategy samples through the external vision classifier.
type PrimaryStrategy struct {
	classifier Classifier
	check      func(Judgment) error
}

// NewPrimaryStrategy wraps a classifier. check, if non-nil, validates each judgment.
func NewPrimaryStrategy(c Classifier, check func(Judgment) error) *PrimaryStrategy {
	return &PrimaryStrategy{classifier: c, check: check}
}

func (p *PrimaryStrategy) Name() string { return StrategyPrimary }

// Sample classifies the frame. Malformed judgments are reported as
// ErrMalformedJudgment so the caller can skip them without downgrading.
func (p *PrimaryStrategy) Sample(ctx context.Context, frame *VideoFrame) (float64, float64, error) {
	j, err := p.classifier.Classify(ctx, frame)
	if err != nil {
		return 0, 0, err
	}
	if p.check != nil {
		if err := p.check(j); err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrMalformedJudgment, err)
		}
	}
	return EyeContactValue(j), MotionValue(j.MotionLevel), nil
}

// FallbackConfig holds the empirical constants of the local pixel analysis.
type FallbackConfig struct {
	MotionDivisor    float64 // mean channel delta that counts as full motion
	FirstFrameMotion float64 // motion reported when there is no previous frame
	SkinRatio        float64 // skin-pixel ratio above which contact is likely
	Jitter           float64 // total width of the random eye-contact jitter
}

// DefaultFallbackConfig returns the default constants.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		MotionDivisor:    40,
		FirstFrameMotion: 0.4,
		SkinRatio:        0.15,
		Jitter:           0.2,
	}
}

// FallbackStrategy estimates motion from consecutive frame differences and
// eye contact from the share of skin-toned pixels in the central region.
// It is coarse by nature and only keeps the scoring pipeline fed.
type FallbackStrategy struct {
	cfg  FallbackConfig
	rng  *rand.Rand
	last *VideoFrame
}

// NewFallbackStrategy creates a fallback strategy. rng may be nil.
func NewFallbackStrategy(cfg FallbackConfig, rng *rand.Rand) *FallbackStrategy {
	if cfg.MotionDivisor <= 0 {
		cfg.MotionDivisor = DefaultFallbackConfig().MotionDivisor
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &FallbackStrategy{cfg: cfg, rng: rng}
}

func (f *FallbackStrategy) Name() string { return StrategyFallback }

// Sample analyzes a decoded frame. Without a usable frame there is no sample.
func (f *FallbackStrategy) Sample(_ context.Context, frame *VideoFrame) (float64, float64, error) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 || len(frame.Pixels) != frame.Width*frame.Height*4 {
		return 0, 0, ErrNoResult
	}
	motion := f.motion(frame)
	eye := f.eyeContact(frame)
	f.last = frame
	return eye, motion, nil
}

// motion compares every fourth pixel with the previous frame.
func (f *FallbackStrategy) motion(frame *VideoFrame) float64 {
	if f.last == nil || len(f.last.Pixels) != len(frame.Pixels) {
		return f.cfg.FirstFrameMotion
	}
	cur, prev := frame.Pixels, f.last.Pixels
	diff, n := 0.0, 0
	for i := 0; i+2 < len(cur); i += 16 {
		d := absDiff(cur[i], prev[i]) + absDiff(cur[i+1], prev[i+1]) + absDiff(cur[i+2], prev[i+2])
		diff += float64(d) / 3
		n++
	}
	if n == 0 {
		return f.cfg.FirstFrameMotion
	}
	return clamp01(diff / float64(n) / f.cfg.MotionDivisor)
}

// eyeContact samples x in [25%,75%) and y in [10%,60%) every 4 pixels.
func (f *FallbackStrategy) eyeContact(frame *VideoFrame) float64 {
	w, h := frame.Width, frame.Height
	skin, samples := 0, 0
	for y := h / 10; y < h*6/10; y += 4 {
		for x := w / 4; x < w*3/4; x += 4 {
			i := (y*w + x) * 4
			samples++
			if isSkin(frame.Pixels[i], frame.Pixels[i+1], frame.Pixels[i+2]) {
				skin++
			}
		}
	}

	base := 0.5
	if samples > 0 && float64(skin)/float64(samples) > f.cfg.SkinRatio {
		base = 0.8
	}
	noise := (f.rng.Float64() - 0.5) * f.cfg.Jitter
	return clamp01(base + noise)
}

func isSkin(r, g, b byte) bool {
	return r > 95 && g > 40 && b > 20 && r > g && r > b && int(r)-int(g) > 15
}

func absDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
