package scoring

import (
	"math"
	"testing"

	"talk-coach-engine/internal/service/aggregator"
)

func TestScorePace(t *testing.T) {
	band := DefaultProfile().Thresholds.Pace
	tests := []struct {
		wpm  float64
		want float64
	}{
		{0, 50},
		{math.NaN(), 50},
		{100, 20},
		{130, 80},
		{140, 100},
		{150, 100},
		{160, 100},
		{180, 60},
		{300, 0},
	}

	for _, tt := range tests {
		if got := scorePace(tt.wpm, band); got != tt.want {
			t.Errorf("scorePace(%v) = %v, want %v", tt.wpm, got, tt.want)
		}
	}
}

func TestScorePace_Monotonic(t *testing.T) {
	band := DefaultProfile().Thresholds.Pace

	prev := scorePace(band.Min, band)
	for wpm := band.Min - 1; wpm > 0; wpm-- {
		got := scorePace(wpm, band)
		if got > prev {
			t.Fatalf("pace score rose from %v to %v as wpm fell to %v", prev, got, wpm)
		}
		prev = got
	}

	prev = scorePace(band.Max, band)
	for wpm := band.Max + 1; wpm <= 400; wpm++ {
		got := scorePace(wpm, band)
		if got > prev {
			t.Fatalf("pace score rose from %v to %v as wpm rose to %v", prev, got, wpm)
		}
		prev = got
	}
}

func TestSubScores(t *testing.T) {
	th := DefaultProfile().Thresholds

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"fillers at limit", scoreFillers(2, th.Fillers), 100},
		{"fillers over", scoreFillers(4, th.Fillers), 70},
		{"fillers far over", scoreFillers(20, th.Fillers), 0},
		{"eye at min", scoreEyeContact(0.7, th.EyeContact), 100},
		{"eye half", scoreEyeContact(0.35, th.EyeContact), 50},
		{"eye none", scoreEyeContact(0, th.EyeContact), 0},
		{"pause short", scorePauses(2000, th.MaxPauseMs), 100},
		{"pause long", scorePauses(4000, th.MaxPauseMs), 80},
		{"pause huge", scorePauses(60000, th.MaxPauseMs), 0},
		{"motion in band", scoreMotion(0.45, th.MotionEnergy), 100},
		{"motion still", scoreMotion(0.15, th.MotionEnergy), 50},
		{"motion frantic", scoreMotion(0.9, th.MotionEnergy), 40},
		{"motion NaN", scoreMotion(math.NaN(), th.MotionEnergy), 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestEngine_ScoreBounds(t *testing.T) {
	e := NewEngine(DefaultProfile())

	for _, pace := range []float64{0, 40, 145, 220, 1000} {
		for _, filler := range []float64{0, 3, 50} {
			for _, eye := range []float64{0, 0.4, 1} {
				for _, pause := range []int64{0, 5000, 1000000} {
					for _, motion := range []float64{0, 0.5, 1} {
						m := aggregator.Metrics{PaceWpm: pace, FillerRatePerMin: filler, EyeContactPct: eye, MaxPauseMs: pause, MotionEnergy: motion}
						if s := e.Score(m); s < 0 || s > 100 {
							t.Fatalf("score %d out of bounds for %+v", s, m)
						}
						if c := e.SelectCues(m); len(c) > MaxCues {
							t.Fatalf("got %d cues for %+v", len(c), m)
						}
					}
				}
			}
		}
	}
}

func TestEngine_InitialMetricsScore(t *testing.T) {
	e := NewEngine(DefaultProfile())

	// pace 50, fillers 100, eye 0.5/0.7, pauses 100, motion 100
	want := int(math.Round(0.25*50 + 0.25*100 + 0.25*100*0.5/0.7 + 0.15*100 + 0.10*100))
	if got := e.Score(aggregator.InitialMetrics()); got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestEngine_ThirtySecondSession(t *testing.T) {
	e := NewEngine(DefaultProfile())
	m := aggregator.Metrics{
		PaceWpm:          180,
		FillerRatePerMin: 2,
		EyeContactPct:    0.725,
		MaxPauseMs:       900,
		PauseCount:       0,
		MotionEnergy:     0.45,
	}

	b := e.Breakdown(m)
	if b.Pace != 60 {
		t.Errorf("expected pace score 60, got %v", b.Pace)
	}
	if b.Fillers != 100 || b.EyeContact != 100 || b.Pauses != 100 || b.MotionEnergy != 100 {
		t.Errorf("expected other sub-scores at 100, got %+v", b)
	}
	if got := e.Score(m); got != 90 {
		t.Errorf("expected composite 90, got %d", got)
	}
	if cues := e.SelectCues(m); len(cues) != 1 || cues[0] != CueSlowDown {
		t.Errorf("expected [slow_down], got %v", cues)
	}
}

func TestEngine_SelectCuesOrderAndCap(t *testing.T) {
	e := NewEngine(DefaultProfile())

	tests := []struct {
		name string
		m    aggregator.Metrics
		want []Cue
	}{
		{
			name: "all triggered keeps first two",
			m:    aggregator.Metrics{PaceWpm: 200, FillerRatePerMin: 5, EyeContactPct: 0.1, MotionEnergy: 0.05},
			want: []Cue{CueSlowDown, CueReduceFillers},
		},
		{
			name: "eye and motion",
			m:    aggregator.Metrics{PaceWpm: 150, FillerRatePerMin: 0, EyeContactPct: 0.5, MotionEnergy: 0.1},
			want: []Cue{CueLookAtCamera, CueProjectConfidence},
		},
		{
			name: "margins not exceeded",
			m:    aggregator.Metrics{PaceWpm: 170, FillerRatePerMin: 3, EyeContactPct: 0.65, MotionEnergy: 0.25},
			want: nil,
		},
		{
			name: "initial metrics",
			m:    aggregator.InitialMetrics(),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.SelectCues(tt.m)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("cue %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestSmooth_HalfwayAndConvergence(t *testing.T) {
	if got := Smooth(50, 90, 0.5); got != 70 {
		t.Errorf("expected one step to move halfway to 70, got %d", got)
	}
	if got := Smooth(50, 91, 0.5); got != 71 {
		t.Errorf("expected 70.5 to round to 71, got %d", got)
	}

	prev := 0
	for i := 0; i < 20; i++ {
		prev = Smooth(prev, 87, 0.5)
	}
	if prev < 86 || prev > 87 {
		t.Errorf("expected convergence to 87 within rounding, got %d", prev)
	}
}

func TestSmoother_StartsNeutral(t *testing.T) {
	s := NewSmoother(NewEngine(DefaultProfile()))

	if s.Current() != 50 {
		t.Errorf("expected initial smoothed score 50, got %d", s.Current())
	}
	if got := s.Next(90); got != 70 {
		t.Errorf("expected 70, got %d", got)
	}
	if got := s.Next(90); got != 80 {
		t.Errorf("expected smoothing from the previous smoothed value (80), got %d", got)
	}
}

func TestNewEngine_InvalidProfileFallsBack(t *testing.T) {
	p := DefaultProfile()
	p.Weights.Pace = 0.9

	e := NewEngine(p)
	if e.Profile().Weights != DefaultProfile().Weights {
		t.Errorf("expected default weights, got %+v", e.Profile().Weights)
	}
}
