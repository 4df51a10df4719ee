// Package segment provides transcript segment IDs and the per-utterance lifecycle
// that guarantees each segment is finalized exactly once.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a transcript segment.
type State int

const (
	// StateOpen - utterance in progress, interim results may replace each other.
	StateOpen State = iota
	// StateFinalized - the recognizer committed a final result. Immutable from here on.
	StateFinalized
	// StateClosed - the segment slot was released after finalization.
	StateClosed
	// StateDropped - superseded or abandoned without ever being finalized.
	StateDropped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalized:
		return "FINALIZED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or DROPPED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// Errors for invalid state transitions.
var (
	ErrSegmentClosed               = errors.New("segment is closed")
	ErrFinalAlreadyEmitted         = errors.New("final already emitted for this segment")
	ErrCannotEmitPartialAfterFinal = errors.New("cannot emit interim after final")
)

// Lifecycle manages the state machine for the live transcript segment.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	OPEN → FINALIZED → CLOSED
//	  │
//	  └── Drop() ──→ DROPPED (superseded interim, never finalized)
//
// Rules:
//   - OPEN: interim results allowed (many), final allowed once
//   - FINALIZED: no interim, no second final, can close
//   - CLOSED / DROPPED: all emissions fail
type Lifecycle struct {
	mu        sync.RWMutex
	segmentId string
	state     State
	interims  int
}

// NewLifecycle creates a new segment lifecycle in OPEN state.
func NewLifecycle(segmentId string) *Lifecycle {
	return &Lifecycle{
		segmentId: segmentId,
		state:     StateOpen,
	}
}

// SegmentId returns the segment ID.
func (l *Lifecycle) SegmentId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segmentId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Interims returns how many interim results the current segment received.
func (l *Lifecycle) Interims() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.interims
}

// EmitPartial validates and records an interim result.
func (l *Lifecycle) EmitPartial() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.interims++
		return nil
	case StateFinalized:
		return ErrCannotEmitPartialAfterFinal
	case StateClosed, StateDropped:
		return ErrSegmentClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// EmitFinal validates and transitions to FINALIZED.
func (l *Lifecycle) EmitFinal() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateFinalized
		return nil
	case StateFinalized:
		return ErrFinalAlreadyEmitted
	case StateClosed, StateDropped:
		return ErrSegmentClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close transitions the segment to CLOSED. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateClosed
}

// Drop abandons an open segment without a final (its interim was superseded).
// Returns false if the segment was already finalized or terminal.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOpen {
		return false
	}
	l.state = StateDropped
	return true
}

// Reset reopens the lifecycle for the next segment.
func (l *Lifecycle) Reset(newSegmentId string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segmentId = newSegmentId
	l.state = StateOpen
	l.interims = 0
}

// Ledger remembers every finalized segment ID of a session so a replayed
// final can be recognized after the live lifecycle has moved on.
type Ledger struct {
	mu        sync.RWMutex
	finalized map[string]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{finalized: make(map[string]struct{})}
}

// MarkFinal records id as finalized. Returns ErrFinalAlreadyEmitted on a repeat.
func (l *Ledger) MarkFinal(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.finalized[id]; ok {
		return ErrFinalAlreadyEmitted
	}
	l.finalized[id] = struct{}{}
	return nil
}

// IsFinal reports whether id was already finalized.
func (l *Ledger) IsFinal(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.finalized[id]
	return ok
}

// Len returns the number of finalized segments.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.finalized)
}
