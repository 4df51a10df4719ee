package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	httpapi "talk-coach-engine/internal/http"
	"talk-coach-engine/internal/service/body"
	"talk-coach-engine/internal/service/prosody"
	"talk-coach-engine/internal/service/session"
)

// Script is a recorded or hand-written practice session.
type Script struct {
	Mode       string        `yaml:"mode"`
	Type       string        `yaml:"type"`
	Context    string        `yaml:"context"`
	Camera     bool          `yaml:"camera"`
	SkipCamera bool          `yaml:"skipCamera"`
	Coding     *ScriptCoding `yaml:"coding"`
	Steps      []Step        `yaml:"steps"`
}

type ScriptCoding struct {
	QuestionName        string `yaml:"questionName"`
	QuestionDescription string `yaml:"questionDescription"`
	InitialCode         string `yaml:"initialCode"`
}

// Step is one input at an offset from the session start.
type Step struct {
	At              time.Duration `yaml:"at"`
	ID              string        `yaml:"id"`
	Interim         string        `yaml:"interim"`
	Final           string        `yaml:"final"`
	Confidence      float64       `yaml:"confidence"`
	RecognizerError string        `yaml:"recognizerError"`
	Judgment        *Judgment     `yaml:"judgment"`
	ClassifierError string        `yaml:"classifierError"`
	Audio           *Audio        `yaml:"audio"`
	Code            string        `yaml:"code"`
	Output          string        `yaml:"output"`
	Score           bool          `yaml:"score"`
	Tip             bool          `yaml:"tip"`
}

// Judgment mirrors the classifier schema.
type Judgment struct {
	EyeContact           bool    `yaml:"eye_contact"`
	EyeContactConfidence float64 `yaml:"eye_contact_confidence"`
	Posture              string  `yaml:"posture"`
	MotionLevel          string  `yaml:"motion_level"`
	GestureDetected      bool    `yaml:"gesture_detected"`
}

// Audio describes a synthetic analysis frame: an RMS volume in [0,1] and a
// flat upper-band energy in [0,255].
type Audio struct {
	Volume float64 `yaml:"volume"`
	Energy int     `yaml:"energy"`
}

var errEmptyScript = errors.New("script has no steps")

// LoadScript reads and validates a YAML script. Steps are ordered by offset.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, errEmptyScript
	}
	for i, st := range s.Steps {
		if st.At < 0 {
			return nil, fmt.Errorf("step %d: negative offset %s", i, st.At)
		}
	}
	sort.SliceStable(s.Steps, func(i, j int) bool { return s.Steps[i].At < s.Steps[j].At })
	return &s, nil
}

// StartOptions returns the session options the script asks for. The
// microphone is always present.
func (s *Script) StartOptions() session.StartOptions {
	opts := session.StartOptions{
		Mode:       s.Mode,
		Type:       s.Type,
		Context:    s.Context,
		Microphone: true,
		Camera:     s.Camera,
		SkipCamera: s.SkipCamera,
	}
	if s.Coding != nil {
		opts.Coding = &session.Coding{
			QuestionName:        s.Coding.QuestionName,
			QuestionDescription: s.Coding.QuestionDescription,
			InitialCode:         s.Coding.InitialCode,
		}
	}
	return opts
}

// Duration is the offset of the last step.
func (s *Script) Duration() time.Duration {
	return s.Steps[len(s.Steps)-1].At
}

func (j *Judgment) toBody() body.Judgment {
	return body.Judgment{
		EyeContact:           j.EyeContact,
		EyeContactConfidence: j.EyeContactConfidence,
		Posture:              j.Posture,
		MotionLevel:          j.MotionLevel,
		GestureDetected:      j.GestureDetected,
	}
}

// frame synthesizes a square wave with the requested RMS around the 128
// midpoint and a flat spectrum.
func (a *Audio) frame() prosody.AudioFrame {
	amp := byte(math.Min(127, math.Round(a.Volume*128)))
	td := make([]byte, 256)
	for i := range td {
		if i%2 == 0 {
			td[i] = 128 + amp
		} else {
			td[i] = 128 - amp
		}
	}
	energy := byte(max(0, min(255, a.Energy)))
	freq := make([]byte, 128)
	for i := range freq {
		freq[i] = energy
	}
	return prosody.AudioFrame{TimeDomain: td, Frequency: freq, SampleRate: 48000}
}

func (st Step) confidence() float64 {
	if st.Confidence == 0 {
		return 0.9
	}
	return st.Confidence
}

// messages converts a step into the client messages of the session stream.
func (st Step) messages() []httpapi.ClientMessage {
	var out []httpapi.ClientMessage
	switch {
	case st.RecognizerError != "":
		out = append(out, httpapi.ClientMessage{Type: httpapi.MessageRecognizer, Error: st.RecognizerError})
	case st.Final != "":
		out = append(out, httpapi.ClientMessage{Type: httpapi.MessageRecognizer, Results: []httpapi.RecognizerResult{
			{ID: st.ID, Text: st.Final, Confidence: st.confidence(), IsFinal: true},
		}})
	case st.Interim != "":
		out = append(out, httpapi.ClientMessage{Type: httpapi.MessageRecognizer, Results: []httpapi.RecognizerResult{
			{ID: st.ID, Text: st.Interim},
		}})
	}
	switch {
	case st.ClassifierError != "":
		out = append(out, httpapi.ClientMessage{Type: httpapi.MessageJudgment, Error: st.ClassifierError})
	case st.Judgment != nil:
		j := st.Judgment.toBody()
		out = append(out, httpapi.ClientMessage{Type: httpapi.MessageJudgment, Judgment: &j})
	}
	if st.Audio != nil {
		f := st.Audio.frame()
		out = append(out, httpapi.ClientMessage{Type: httpapi.MessageAudio, Audio: &f})
	}
	if st.Code != "" {
		out = append(out, httpapi.ClientMessage{Type: httpapi.MessageCode, Code: &httpapi.CodeUpdate{
			Code: st.Code, Output: st.Output, Snapshot: true,
		}})
	}
	return out
}
