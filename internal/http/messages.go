package http

import (
	"talk-coach-engine/internal/service/body"
	"talk-coach-engine/internal/service/prosody"
	"talk-coach-engine/internal/service/session"
	"talk-coach-engine/internal/service/stt"
	"talk-coach-engine/internal/service/timeline"
	"talk-coach-engine/internal/service/transcript"
)

// Client message types on the session stream. Binary frames carry PCM audio.
const (
	MessageRecognizer = "recognizer"
	MessageAudio      = "audio"
	MessageFrame      = "frame"
	MessageJudgment   = "judgment"
	MessageCode       = "code"
	MessageStop       = "stop"
)

// Server message types on the session stream.
const (
	MessageUpdate     = "update"
	MessageTranscript = "transcript"
	MessageSealed     = "sealed"
	MessageError      = "error"
)

// RecognizerResult is one recognizer hypothesis pushed by the client.
type RecognizerResult struct {
	ID         string  `json:"id,omitempty"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
}

// CodeUpdate carries the candidate's editor state.
type CodeUpdate struct {
	Code     string `json:"code"`
	Output   string `json:"output,omitempty"`
	Snapshot bool   `json:"snapshot,omitempty"`
}

// ClientMessage is one JSON message from the client.
type ClientMessage struct {
	Type     string              `json:"type"`
	Results  []RecognizerResult  `json:"results,omitempty"`
	Error    string              `json:"error,omitempty"`
	Audio    *prosody.AudioFrame `json:"audio,omitempty"`
	Frame    *body.VideoFrame    `json:"frame,omitempty"`
	Judgment *body.Judgment      `json:"judgment,omitempty"`
	Code     *CodeUpdate         `json:"code,omitempty"`
}

// ServerMessage is one JSON message to the client.
type ServerMessage struct {
	Type     string                    `json:"type"`
	Update   *session.Update           `json:"update,omitempty"`
	Segment  *transcript.Segment       `json:"segment,omitempty"`
	Timeline *timeline.SessionTimeline `json:"timeline,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

func toResults(in []RecognizerResult) []stt.Result {
	out := make([]stt.Result, len(in))
	for i, r := range in {
		out[i] = stt.Result{ID: r.ID, Text: r.Text, Confidence: r.Confidence, IsFinal: r.IsFinal}
	}
	return out
}
