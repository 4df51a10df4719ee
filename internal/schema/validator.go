// Package schema holds the structural checks applied to inbound samples
// before they reach a sampler.
package schema

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/body"
	"talk-coach-engine/internal/service/prosody"
	"talk-coach-engine/internal/service/stt"
)

// Sample kinds, used as the rejection metric label.
const (
	KindAudio     = "audio"
	KindVideo     = "video"
	KindJudgment  = "judgment"
	KindRecognize = "recognizer"
)

var (
	ErrEmptyFrame      = errors.New("frame is empty")
	ErrSampleRate      = errors.New("sample rate must be positive")
	ErrFrameSize       = errors.New("pixel buffer does not match frame size")
	ErrConfidenceRange = errors.New("confidence out of range")
	ErrUnknownPosture  = errors.New("unknown posture")
)

// Validator checks samples and counts rejections. It never panics on bad input.
type Validator struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a validator.
func New(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger, metrics: metrics.DefaultMetrics}
}

// AudioFrame requires non-empty time and frequency data and a positive sample rate.
func (v *Validator) AudioFrame(f prosody.AudioFrame) error {
	var err error
	switch {
	case len(f.TimeDomain) == 0 || len(f.Frequency) == 0:
		err = ErrEmptyFrame
	case !(f.SampleRate > 0) || math.IsInf(f.SampleRate, 0):
		err = ErrSampleRate
	}
	return v.reject(KindAudio, err)
}

// VideoFrame requires an RGBA buffer of exactly width*height*4 bytes.
func (v *Validator) VideoFrame(f body.VideoFrame) error {
	var err error
	switch {
	case f.Width <= 0 || f.Height <= 0 || len(f.Pixels) == 0:
		err = ErrEmptyFrame
	case len(f.Pixels) != f.Width*f.Height*4:
		err = fmt.Errorf("%w: %dx%d with %d bytes", ErrFrameSize, f.Width, f.Height, len(f.Pixels))
	}
	return v.reject(KindVideo, err)
}

// Judgment requires a confidence in [0,1] and a known posture. Unknown
// motion levels are tolerated; the sampler maps them to a neutral value.
func (v *Validator) Judgment(j body.Judgment) error {
	var err error
	switch {
	case !inUnit(j.EyeContactConfidence):
		err = fmt.Errorf("%w: %v", ErrConfidenceRange, j.EyeContactConfidence)
	case j.Posture != "" && !slices.Contains(body.Postures, j.Posture):
		err = fmt.Errorf("%w: %q", ErrUnknownPosture, j.Posture)
	}
	return v.reject(KindJudgment, err)
}

// Result reports a non-finite confidence.
func (v *Validator) Result(r stt.Result) error {
	if math.IsNaN(r.Confidence) || math.IsInf(r.Confidence, 0) {
		return fmt.Errorf("%w: %v", ErrConfidenceRange, r.Confidence)
	}
	return nil
}

// Results passes every result of a batch through. Confidence only drives
// display, so a non-finite value is replaced (NaN by 0, infinities by the
// nearest bound) and the words are kept.
func (v *Validator) Results(batch []stt.Result) []stt.Result {
	out := make([]stt.Result, len(batch))
	for i, r := range batch {
		if err := v.Result(r); err != nil {
			v.logger.Debug().Err(err).Str("segmentId", r.ID).Msg("Recognizer confidence replaced")
			switch {
			case math.IsInf(r.Confidence, 1):
				r.Confidence = 1
			default:
				r.Confidence = 0
			}
		}
		out[i] = r
	}
	return out
}

func (v *Validator) reject(kind string, err error) error {
	if err == nil {
		return nil
	}
	v.metrics.RecordSampleRejected(kind)
	v.logger.Debug().Err(err).Str("kind", kind).Msg("Sample rejected")
	return err
}

func inUnit(x float64) bool {
	return x >= 0 && x <= 1
}
