// Package stt defines the interface for Speech-to-Text adapters.
package stt

import "context"

// Result is one recognizer hypothesis. Interim results for the same utterance
// replace each other; a final result commits the utterance.
type Result struct {
	// ID optionally identifies the utterance. Empty means "the live utterance".
	ID         string
	Text       string
	Confidence float64
	IsFinal    bool
}

// Callback receives transcript results from the STT provider.
type Callback interface {
	// OnResults is called with every batch of results the recognizer emits,
	// interim and final alike, in arrival order.
	OnResults(results []Result)

	// OnError is called when the recognition stream fails or ends unexpectedly.
	OnError(err error)
}

// Adapter defines the interface for STT providers (Google, mock, ...).
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}
