// Package scoring maps a Metrics snapshot to a 0-100 composite score, smooths
// successive scores and picks at most two coaching cues.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMode is the profile used when a session mode has no profile of its own.
const DefaultMode = "default"

// Band is an ideal [Min,Max] range for one signal.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Thresholds holds the ideal band of every scored signal. Fillers and
// MaxPauseMs only use Max, EyeContact only uses Min.
type Thresholds struct {
	Pace         Band `yaml:"pace" json:"pace"`
	Fillers      Band `yaml:"fillers" json:"fillers"`
	EyeContact   Band `yaml:"eye_contact" json:"eyeContact"`
	MaxPauseMs   Band `yaml:"max_pause" json:"maxPause"`
	MotionEnergy Band `yaml:"motion_energy" json:"motionEnergy"`
}

// Weights are the composite weights of the five sub-scores. They sum to 1.
type Weights struct {
	Pace         float64 `yaml:"pace" json:"pace"`
	Fillers      float64 `yaml:"fillers" json:"fillers"`
	EyeContact   float64 `yaml:"eye_contact" json:"eyeContact"`
	Pauses       float64 `yaml:"pauses" json:"pauses"`
	MotionEnergy float64 `yaml:"motion_energy" json:"motionEnergy"`
}

func (w Weights) sum() float64 {
	return w.Pace + w.Fillers + w.EyeContact + w.Pauses + w.MotionEnergy
}

// Profile is the scoring policy for one session mode.
type Profile struct {
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
	Weights    Weights    `yaml:"weights" json:"weights"`
	// Smoothing is the weight of the previous smoothed score, in [0,1).
	Smoothing float64 `yaml:"smoothing" json:"smoothing"`
}

// DefaultProfile returns the built-in policy.
func DefaultProfile() Profile {
	return Profile{
		Thresholds: Thresholds{
			Pace:         Band{Min: 140, Max: 160},
			Fillers:      Band{Min: 0, Max: 2},
			EyeContact:   Band{Min: 0.7, Max: 1},
			MaxPauseMs:   Band{Min: 0, Max: 2000},
			MotionEnergy: Band{Min: 0.3, Max: 0.6},
		},
		Weights: Weights{
			Pace:         0.25,
			Fillers:      0.25,
			EyeContact:   0.25,
			Pauses:       0.15,
			MotionEnergy: 0.10,
		},
		Smoothing: 0.5,
	}
}

// Profile validation errors.
var (
	ErrInvalidWeights = errors.New("invalid scoring weights")
	ErrInvalidBand    = errors.New("invalid threshold band")
	ErrInvalidProfile = errors.New("invalid scoring profile")
)

// Validate checks weights are non-negative and sum to 1, and every band has Min <= Max.
func (p Profile) Validate() error {
	w := p.Weights
	for _, v := range []float64{w.Pace, w.Fillers, w.EyeContact, w.Pauses, w.MotionEnergy} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: negative weight %v", ErrInvalidWeights, v)
		}
	}
	if math.Abs(w.sum()-1) > 1e-6 {
		return fmt.Errorf("%w: weights sum to %v", ErrInvalidWeights, w.sum())
	}

	t := p.Thresholds
	bands := map[string]Band{
		"pace":          t.Pace,
		"fillers":       t.Fillers,
		"eye_contact":   t.EyeContact,
		"max_pause":     t.MaxPauseMs,
		"motion_energy": t.MotionEnergy,
	}
	for name, b := range bands {
		if b.Min > b.Max {
			return fmt.Errorf("%w: %s min %v > max %v", ErrInvalidBand, name, b.Min, b.Max)
		}
	}
	if t.EyeContact.Min <= 0 || t.MotionEnergy.Min <= 0 {
		return fmt.Errorf("%w: eye_contact and motion_energy minimums must be positive", ErrInvalidBand)
	}

	if p.Smoothing < 0 || p.Smoothing >= 1 {
		return fmt.Errorf("%w: smoothing %v outside [0,1)", ErrInvalidProfile, p.Smoothing)
	}
	return nil
}

// Profiles holds one profile per session mode.
type Profiles map[string]Profile

// DefaultProfiles returns a set holding only the built-in profile.
func DefaultProfiles() Profiles {
	return Profiles{DefaultMode: DefaultProfile()}
}

// ForMode returns the profile for mode, falling back to the default profile.
func (ps Profiles) ForMode(mode string) Profile {
	if p, ok := ps[mode]; ok {
		return p
	}
	if p, ok := ps[DefaultMode]; ok {
		return p
	}
	return DefaultProfile()
}

// ParseProfiles decodes a YAML document of the form
//
//	profiles:
//	  interview:
//	    weights: {...}
//
// Each profile starts from the built-in default, so a file only lists what it
// changes.
func ParseProfiles(data []byte) (Profiles, error) {
	var doc struct {
		Profiles map[string]yaml.Node `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scoring profiles: %w", err)
	}

	out := DefaultProfiles()
	for mode, node := range doc.Profiles {
		p := DefaultProfile()
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode profile %q: %w", mode, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", mode, err)
		}
		out[mode] = p
	}
	return out, nil
}

// LoadProfiles reads profiles from path. An empty path yields the defaults.
func LoadProfiles(path string) (Profiles, error) {
	if path == "" {
		return DefaultProfiles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring profiles: %w", err)
	}
	return ParseProfiles(data)
}
