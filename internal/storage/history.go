// Package storage keeps the history of sealed sessions in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/timeline"
)

// DefaultLimit is how many sessions the history keeps.
const DefaultLimit = 20

// ErrNotFound is returned when no session has the requested ID.
var ErrNotFound = errors.New("session not found")

// Summary is the listing view of a stored session.
type Summary struct {
	SessionID       string `json:"sessionId"`
	Mode            string `json:"mode"`
	Type            string `json:"type,omitempty"`
	StartedAtMs     int64  `json:"startedAtMs"`
	DurationSeconds int    `json:"durationSeconds"`
	FinalScore      int    `json:"finalScore"`
	WordCount       int    `json:"wordCount"`
}

// HistoryStore persists sealed timelines and prunes to the newest limit.
type HistoryStore struct {
	db      *sql.DB
	limit   int
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// OpenHistory opens or creates the history database at path.
// limit <= 0 means DefaultLimit.
func OpenHistory(path string, limit int, logger zerolog.Logger) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		type TEXT,
		started_at INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		final_score INTEGER NOT NULL,
		word_count INTEGER NOT NULL,
		timeline TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	return &HistoryStore{db: db, limit: limit, logger: logger, metrics: metrics.DefaultMetrics}, nil
}

// Save stores a sealed timeline, replacing any entry with the same session
// ID, then prunes older sessions beyond the limit.
func (h *HistoryStore) Save(ctx context.Context, tl timeline.SessionTimeline) (err error) {
	defer func() { h.metrics.RecordHistoryWrite(err) }()

	payload, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("failed to encode timeline: %w", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO sessions (session_id, mode, type, started_at, duration, final_score, word_count, timeline)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, tl.SessionID, tl.Mode, tl.Type, tl.StartedAt.UnixMilli(), tl.ElapsedSeconds, tl.FinalScore, tl.WordCount(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
	DELETE FROM sessions WHERE session_id NOT IN (
		SELECT session_id FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?
	)
	`, h.limit)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		h.logger.Debug().Int64("pruned", n).Msg("History pruned")
	}
	return nil
}

// Get returns the stored timeline for sessionID.
func (h *HistoryStore) Get(ctx context.Context, sessionID string) (timeline.SessionTimeline, error) {
	var payload string
	err := h.db.QueryRowContext(ctx, `SELECT timeline FROM sessions WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return timeline.SessionTimeline{}, ErrNotFound
	}
	if err != nil {
		return timeline.SessionTimeline{}, fmt.Errorf("failed to get session: %w", err)
	}

	var tl timeline.SessionTimeline
	if err := json.Unmarshal([]byte(payload), &tl); err != nil {
		return timeline.SessionTimeline{}, fmt.Errorf("failed to decode timeline: %w", err)
	}
	return tl, nil
}

// List returns up to limit summaries, newest first. limit <= 0 lists all.
func (h *HistoryStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = h.limit
	}
	rows, err := h.db.QueryContext(ctx, `
	SELECT session_id, mode, type, started_at, duration, final_score, word_count
	FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s   Summary
			typ sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &s.Mode, &typ, &s.StartedAtMs, &s.DurationSeconds, &s.FinalScore, &s.WordCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Type = typ.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a session. ErrNotFound if it does not exist.
func (h *HistoryStore) Delete(ctx context.Context, sessionID string) error {
	res, err := h.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
