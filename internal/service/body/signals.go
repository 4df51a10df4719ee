// Package body derives smoothed eye-contact and motion-energy fractions from
// vision-classifier judgments or, when the classifier is unavailable, from a
// coarse local pixel analysis.
package body

// BodySignals is the smoothed output of the sampler, both fields in [0,1].
type BodySignals struct {
	EyeContactPct float64 `json:"eyeContactPct"`
	MotionEnergy  float64 `json:"motionEnergy"`
}

// NeutralSignals is reported while the rolling buffers are empty.
func NeutralSignals() BodySignals {
	return BodySignals{EyeContactPct: 0.5, MotionEnergy: 0.3}
}

// VideoFrame is a downsampled RGBA frame from the capture side.
type VideoFrame struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels []byte `json:"pixels"` // RGBA, row-major, len == Width*Height*4
}

// Judgment is one structured result from the vision classifier.
type Judgment struct {
	EyeContact           bool    `json:"eye_contact"`
	EyeContactConfidence float64 `json:"eye_contact_confidence"`
	Posture              string  `json:"posture"`
	MotionLevel          string  `json:"motion_level"`
	GestureDetected      bool    `json:"gesture_detected"`
}

// Postures are the posture classes the classifier reports.
var Postures = []string{"good", "slouching", "leaning", "neutral"}

var motionTable = map[string]float64{
	"still":     0.1,
	"low":       0.3,
	"moderate":  0.5,
	"high":      0.7,
	"excessive": 0.9,
}

// MotionValue maps a categorical motion level to its numeric energy.
// Unknown levels map to 0.5.
func MotionValue(level string) float64 {
	if v, ok := motionTable[level]; ok {
		return v
	}
	return 0.5
}

// KnownMotionLevel reports whether level is in the motion table.
func KnownMotionLevel(level string) bool {
	_, ok := motionTable[level]
	return ok
}

// EyeContactValue is the eye-contact sample pushed for a judgment.
func EyeContactValue(j Judgment) float64 {
	if !j.EyeContact {
		return 0
	}
	return j.EyeContactConfidence
}
