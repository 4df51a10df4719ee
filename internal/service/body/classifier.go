package body

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrNoResult means the classifier had nothing new for this tick.
var ErrNoResult = errors.New("no classifier result available")

// Classifier is the external vision classifier.
// frame may be nil when the classifier watches the camera itself.
type Classifier interface {
	Classify(ctx context.Context, frame *VideoFrame) (Judgment, error)
}

// HTTPClassifier posts frames to a remote classifier endpoint.
type HTTPClassifier struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPClassifier creates a classifier client. client may be nil.
func NewHTTPClassifier(url string, timeout time.Duration, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClassifier{url: url, client: client, timeout: timeout}
}

// Classify sends one frame and decodes the judgment.
func (c *HTTPClassifier) Classify(ctx context.Context, frame *VideoFrame) (Judgment, error) {
	if frame == nil {
		return Judgment{}, ErrNoResult
	}

	body, err := json.Marshal(frame)
	if err != nil {
		return Judgment{}, fmt.Errorf("marshal frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Judgment{}, fmt.Errorf("build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Judgment{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return Judgment{}, ErrNoResult
	}
	if resp.StatusCode != http.StatusOK {
		return Judgment{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var j Judgment
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return Judgment{}, fmt.Errorf("decode judgment: %w", err)
	}
	return j, nil
}

// FeedClassifier hands out judgments pushed by a client-side classifier,
// oldest first, one per call.
type FeedClassifier struct {
	mu      sync.Mutex
	queue   []Judgment
	limit   int
	err     error
	dropped int
}

// NewFeedClassifier creates a feed buffering at most limit judgments.
func NewFeedClassifier(limit int) *FeedClassifier {
	if limit < 1 {
		limit = 10
	}
	return &FeedClassifier{limit: limit}
}

// Push queues a judgment. The oldest queued judgment is dropped when full.
func (f *FeedClassifier) Push(j Judgment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) >= f.limit {
		f.queue = f.queue[1:]
		f.dropped++
	}
	f.queue = append(f.queue, j)
}

// Fail marks the feed as broken; every later Classify returns err.
func (f *FeedClassifier) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

// Dropped returns how many judgments were discarded because the queue was full.
func (f *FeedClassifier) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Classify returns the oldest queued judgment or ErrNoResult.
func (f *FeedClassifier) Classify(ctx context.Context, _ *VideoFrame) (Judgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Judgment{}, f.err
	}
	if len(f.queue) == 0 {
		return Judgment{}, ErrNoResult
	}
	j := f.queue[0]
	f.queue = f.queue[1:]
	return j, nil
}
