package schema

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/service/body"
	"talk-coach-engine/internal/service/prosody"
	"talk-coach-engine/internal/service/stt"
)

func TestValidator_AudioFrame(t *testing.T) {
	v := New(zerolog.Nop())
	bins := make([]byte, 16)

	tests := []struct {
		name    string
		frame   prosody.AudioFrame
		wantErr error
	}{
		{"valid", prosody.AudioFrame{TimeDomain: bins, Frequency: bins, SampleRate: 16000}, nil},
		{"no time domain", prosody.AudioFrame{Frequency: bins, SampleRate: 16000}, ErrEmptyFrame},
		{"no frequency", prosody.AudioFrame{TimeDomain: bins, SampleRate: 16000}, ErrEmptyFrame},
		{"zero rate", prosody.AudioFrame{TimeDomain: bins, Frequency: bins}, ErrSampleRate},
		{"NaN rate", prosody.AudioFrame{TimeDomain: bins, Frequency: bins, SampleRate: math.NaN()}, ErrSampleRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.AudioFrame(tt.frame); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidator_VideoFrame(t *testing.T) {
	v := New(zerolog.Nop())

	tests := []struct {
		name    string
		frame   body.VideoFrame
		wantErr error
	}{
		{"valid", body.VideoFrame{Width: 2, Height: 2, Pixels: make([]byte, 16)}, nil},
		{"short buffer", body.VideoFrame{Width: 2, Height: 2, Pixels: make([]byte, 15)}, ErrFrameSize},
		{"zero size", body.VideoFrame{Pixels: make([]byte, 4)}, ErrEmptyFrame},
		{"no pixels", body.VideoFrame{Width: 2, Height: 2}, ErrEmptyFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.VideoFrame(tt.frame); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidator_Judgment(t *testing.T) {
	v := New(zerolog.Nop())

	tests := []struct {
		name    string
		j       body.Judgment
		wantErr error
	}{
		{"valid", body.Judgment{EyeContact: true, EyeContactConfidence: 0.8, Posture: "good", MotionLevel: "low"}, nil},
		{"unknown motion tolerated", body.Judgment{EyeContactConfidence: 0.5, Posture: "neutral", MotionLevel: "wild"}, nil},
		{"missing posture tolerated", body.Judgment{EyeContactConfidence: 0.5}, nil},
		{"confidence above one", body.Judgment{EyeContactConfidence: 1.2, Posture: "good"}, ErrConfidenceRange},
		{"negative confidence", body.Judgment{EyeContactConfidence: -0.1, Posture: "good"}, ErrConfidenceRange},
		{"NaN confidence", body.Judgment{EyeContactConfidence: math.NaN(), Posture: "good"}, ErrConfidenceRange},
		{"unknown posture", body.Judgment{EyeContactConfidence: 0.5, Posture: "handstand"}, ErrUnknownPosture},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Judgment(tt.j); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidator_Results(t *testing.T) {
	v := New(zerolog.Nop())
	batch := []stt.Result{
		{Text: "ok", Confidence: 0.9},
		{Text: "um so this is my talk", Confidence: math.NaN(), IsFinal: true},
		{Text: "also ok", Confidence: 1.4},
		{Text: "inf", Confidence: math.Inf(1)},
		{Text: "minus inf", Confidence: math.Inf(-1)},
	}

	got := v.Results(batch)
	if len(got) != len(batch) {
		t.Fatalf("expected every result kept, got %d", len(got))
	}
	want := []float64{0.9, 0, 1.4, 1, 0}
	for i, r := range got {
		if r.Text != batch[i].Text {
			t.Errorf("result %d: expected %q, got %q", i, batch[i].Text, r.Text)
		}
		if r.Confidence != want[i] {
			t.Errorf("result %d: expected confidence %v, got %v", i, want[i], r.Confidence)
		}
	}
	if !math.IsNaN(batch[1].Confidence) {
		t.Error("expected the input batch to be left untouched")
	}
	if err := v.Result(batch[1]); !errors.Is(err, ErrConfidenceRange) {
		t.Errorf("expected ErrConfidenceRange, got %v", err)
	}
}
