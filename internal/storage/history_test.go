package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"talk-coach-engine/internal/service/aggregator"
	"talk-coach-engine/internal/service/timeline"
	"talk-coach-engine/internal/service/transcript"
)

func openTestStore(t *testing.T, limit int) *HistoryStore {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"), limit, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func sealed(id string, started time.Time, score int) timeline.SessionTimeline {
	return timeline.SessionTimeline{
		SessionID:      id,
		Mode:           "presentation",
		Type:           "pitch",
		StartedAt:      started,
		SealedAt:       started.Add(time.Minute),
		ElapsedSeconds: 60,
		Segments: []transcript.Segment{
			{ID: id + "-seg-1", Text: "we grew revenue", IsFinal: true},
		},
		Transcript: "we grew revenue",
		Metrics:    aggregator.InitialMetrics(),
		FinalScore: score,
	}
}

func TestHistoryStore_SaveAndGet(t *testing.T) {
	h := openTestStore(t, 0)
	ctx := context.Background()
	start := time.UnixMilli(1700000000000).UTC()

	if err := h.Save(ctx, sealed("s1", start, 77)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := h.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FinalScore != 77 || got.Transcript != "we grew revenue" {
		t.Errorf("unexpected timeline %+v", got)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("expected start %v, got %v", start, got.StartedAt)
	}
	if len(got.Segments) != 1 || got.Segments[0].ID != "s1-seg-1" {
		t.Errorf("expected segments to round-trip, got %+v", got.Segments)
	}

	if _, err := h.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryStore_ListNewestFirst(t *testing.T) {
	h := openTestStore(t, 0)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i := 0; i < 3; i++ {
		if err := h.Save(ctx, sealed(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Hour), 50+i)); err != nil {
			t.Fatal(err)
		}
	}

	list, err := h.List(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(list))
	}
	if list[0].SessionID != "s2" || list[1].SessionID != "s1" {
		t.Errorf("expected newest first, got %s, %s", list[0].SessionID, list[1].SessionID)
	}
	if list[0].WordCount != 3 || list[0].Type != "pitch" || list[0].DurationSeconds != 60 {
		t.Errorf("unexpected summary %+v", list[0])
	}
}

func TestHistoryStore_PrunesToLimit(t *testing.T) {
	h := openTestStore(t, 3)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i := 0; i < 5; i++ {
		if err := h.Save(ctx, sealed(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Minute), 60)); err != nil {
			t.Fatal(err)
		}
	}

	list, err := h.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions after pruning, got %d", len(list))
	}
	if _, err := h.Get(ctx, "s0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected the oldest session to be pruned, got %v", err)
	}
}

func TestHistoryStore_Delete(t *testing.T) {
	h := openTestStore(t, 0)
	ctx := context.Background()

	if err := h.Save(ctx, sealed("s1", time.UnixMilli(1700000000000), 60)); err != nil {
		t.Fatal(err)
	}
	if err := h.Delete(ctx, "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.Delete(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
