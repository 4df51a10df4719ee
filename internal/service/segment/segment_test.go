package segment

import (
	"sync"
	"testing"
)

func TestGenerator_Next(t *testing.T) {
	gen := New("sess-123")

	seg1 := gen.Next()
	if seg1 != "sess-123-seg-1" {
		t.Errorf("expected 'sess-123-seg-1', got %s", seg1)
	}

	seg2 := gen.Next()
	if seg2 != "sess-123-seg-2" {
		t.Errorf("expected 'sess-123-seg-2', got %s", seg2)
	}

	if gen.Issued() != 2 {
		t.Errorf("expected 2 issued IDs, got %d", gen.Issued())
	}
}

func TestGenerator_ThreadSafety(t *testing.T) {
	gen := New("sess-concurrent")
	numGoroutines := 100
	resultsPerGoroutine := 10

	var wg sync.WaitGroup
	results := make(chan string, numGoroutines*resultsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < resultsPerGoroutine; j++ {
				results <- gen.Next()
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for seg := range results {
		if seen[seg] {
			t.Errorf("duplicate segment ID generated: %s", seg)
		}
		seen[seg] = true
	}

	expectedCount := numGoroutines * resultsPerGoroutine
	if len(seen) != expectedCount {
		t.Errorf("expected %d unique segment IDs, got %d", expectedCount, len(seen))
	}
}

func TestGenerator_SessionsAreIndependent(t *testing.T) {
	a := New("sess-A")
	b := New("sess-B")

	if got := a.Next(); got != "sess-A-seg-1" {
		t.Errorf("expected 'sess-A-seg-1', got %s", got)
	}
	if got := b.Next(); got != "sess-B-seg-1" {
		t.Errorf("expected 'sess-B-seg-1', got %s", got)
	}
	if got := a.Next(); got != "sess-A-seg-2" {
		t.Errorf("expected 'sess-A-seg-2', got %s", got)
	}
}
