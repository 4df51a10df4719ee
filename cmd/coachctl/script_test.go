package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	httpapi "talk-coach-engine/internal/http"
	"talk-coach-engine/internal/service/scoring"
	"talk-coach-engine/internal/service/session"
)

// thirtySeconds is 90 words over 30 seconds with one filler and steady eye
// contact, scored once at the end.
func thirtySeconds() string {
	var b strings.Builder
	b.WriteString("mode: interview\ncamera: true\nsteps:\n")
	for i := 1; i <= 30; i++ {
		text := "we grew revenue"
		if i == 15 {
			text = "um we grew"
		}
		fmt.Fprintf(&b, "  - at: %ds\n    final: %s\n", i, text)
		b.WriteString("    judgment: {eye_contact: true, eye_contact_confidence: 0.9, posture: good, motion_level: moderate}\n")
		if i == 30 {
			b.WriteString("    score: true\n    tip: true\n")
		}
	}
	return b.String()
}

func TestParseScript_SortsSteps(t *testing.T) {
	s, err := ParseScript([]byte(`
mode: presentation
steps:
  - at: 3s
    final: later
  - at: 1s
    interim: first
  - at: 1500ms
    final: second
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(s.Steps))
	}
	want := []time.Duration{time.Second, 1500 * time.Millisecond, 3 * time.Second}
	for i, st := range s.Steps {
		if st.At != want[i] {
			t.Errorf("step %d: expected offset %v, got %v", i, want[i], st.At)
		}
	}
	if s.Duration() != 3*time.Second {
		t.Errorf("expected duration 3s, got %v", s.Duration())
	}
	if !s.StartOptions().Microphone {
		t.Error("expected the microphone to be present")
	}
}

func TestParseScript_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"no steps", "mode: interview\n", errEmptyScript},
		{"negative offset", "steps:\n  - at: -1s\n    final: x\n", nil},
		{"not yaml", "steps: [", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.input))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStep_Messages(t *testing.T) {
	tests := []struct {
		name  string
		step  Step
		types []string
	}{
		{"final", Step{Final: "hello"}, []string{httpapi.MessageRecognizer}},
		{"recognizer error wins", Step{Final: "hello", RecognizerError: "network"}, []string{httpapi.MessageRecognizer}},
		{"judgment and audio", Step{Judgment: &Judgment{EyeContact: true}, Audio: &Audio{Volume: 0.1}},
			[]string{httpapi.MessageJudgment, httpapi.MessageAudio}},
		{"code", Step{Code: "print(1)"}, []string{httpapi.MessageCode}},
		{"score only", Step{Score: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := tt.step.messages()
			if len(msgs) != len(tt.types) {
				t.Fatalf("expected %d messages, got %d", len(tt.types), len(msgs))
			}
			for i, m := range msgs {
				if m.Type != tt.types[i] {
					t.Errorf("message %d: expected %s, got %s", i, tt.types[i], m.Type)
				}
			}
		})
	}

	msgs := Step{Final: "hello"}.messages()
	if r := msgs[0].Results[0]; !r.IsFinal || r.Confidence != 0.9 {
		t.Errorf("expected a final result with default confidence, got %+v", r)
	}
	msgs = Step{RecognizerError: "network"}.messages()
	if msgs[0].Error != "network" || len(msgs[0].Results) != 0 {
		t.Errorf("expected only the recognizer error, got %+v", msgs[0])
	}
}

func TestAudio_Frame(t *testing.T) {
	f := (&Audio{Volume: 0.25, Energy: 300}).frame()
	if f.TimeDomain[0] != 160 || f.TimeDomain[1] != 96 {
		t.Errorf("expected a square wave of amplitude 32, got %d and %d", f.TimeDomain[0], f.TimeDomain[1])
	}
	for _, v := range f.Frequency {
		if v != 255 {
			t.Fatalf("expected energy clamped to 255, got %d", v)
		}
	}
}

func TestReplay_ThirtySecondSession(t *testing.T) {
	s, err := ParseScript([]byte(thirtySeconds()))
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	tl, err := replay(context.Background(), s, session.Deps{}, &out, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}
	if tl.FinalScore != 70 {
		t.Errorf("expected final score 70, got %d", tl.FinalScore)
	}
	if tl.ElapsedSeconds != 30 {
		t.Errorf("expected 30 elapsed seconds, got %d", tl.ElapsedSeconds)
	}
	if len(tl.Segments) != 30 {
		t.Errorf("expected 30 segments, got %d", len(tl.Segments))
	}

	var msgs []httpapi.ServerMessage
	sc := bufio.NewScanner(&out)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m httpapi.ServerMessage
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("malformed output line: %v", err)
		}
		msgs = append(msgs, m)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected an update and the sealed timeline, got %d lines", len(msgs))
	}
	u := msgs[0].Update
	if msgs[0].Type != httpapi.MessageUpdate || u == nil {
		t.Fatalf("expected an update first, got %+v", msgs[0])
	}
	if u.RawScore != 90 || u.Score != 70 {
		t.Errorf("expected raw 90 and smoothed 70, got %d and %d", u.RawScore, u.Score)
	}
	if len(u.Cues) != 1 || u.Cues[0] != scoring.CueSlowDown {
		t.Errorf("expected only the slow-down cue, got %v", u.Cues)
	}
	if msgs[1].Type != httpapi.MessageSealed || msgs[1].Timeline == nil || msgs[1].Timeline.FinalScore != 70 {
		t.Errorf("expected the sealed timeline last, got %+v", msgs[1])
	}
}

func TestReplay_RefusedSession(t *testing.T) {
	s, err := ParseScript([]byte("mode: interview\nsteps:\n  - at: 1s\n    final: hi\n"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = replay(context.Background(), s, session.Deps{}, &bytes.Buffer{}, zerolog.Nop())
	if !errors.Is(err, session.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable without a camera decision, got %v", err)
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8080", "ws://localhost:8080/v1/sessions/abc/stream"},
		{"https://coach.example.com/", "wss://coach.example.com/v1/sessions/abc/stream"},
		{"ws://10.0.0.1:9000/base", "ws://10.0.0.1:9000/base/v1/sessions/abc/stream"},
	}
	for _, tt := range tests {
		got, err := streamURL(tt.server, "abc")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.server, err)
		}
		if got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
	}
	if _, err := streamURL("ftp://host", "abc"); err == nil {
		t.Error("expected an error for an unsupported scheme")
	}
}

func TestToWatchedEvent(t *testing.T) {
	msg := kafka.Message{
		Topic:   "coach.session.score",
		Offset:  7,
		Key:     []byte("sess-1"),
		Value:   []byte(`{"score":70}`),
		Headers: []kafka.Header{{Key: "eventType", Value: []byte("coach.score.updated")}},
	}

	ev, ok := toWatchedEvent(msg, "")
	if !ok {
		t.Fatal("expected the event to pass without a filter")
	}
	if ev.EventType != "coach.score.updated" || ev.SessionID != "sess-1" || ev.Offset != 7 {
		t.Errorf("unexpected event %+v", ev)
	}
	if _, ok := toWatchedEvent(msg, "sess-2"); ok {
		t.Error("expected another session to be filtered out")
	}
	msg.Value = []byte("not json")
	if _, ok := toWatchedEvent(msg, ""); ok {
		t.Error("expected a non-JSON payload to be dropped")
	}
}
