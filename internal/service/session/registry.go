package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"talk-coach-engine/internal/observability/logging"
	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/timeline"
)

// ErrNotFound is returned for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// Factory builds the per-session dependencies, for example a fresh
// recognizer adapter for every session.
type Factory func(id string, opts StartOptions) (Deps, error)

// Registry tracks the live sessions of the process.
type Registry struct {
	cfg     Config
	factory Factory
	logger  zerolog.Logger
	opts    []Option

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty registry. opts apply to every controller.
func NewRegistry(cfg Config, factory Factory, logger zerolog.Logger, opts ...Option) *Registry {
	return &Registry{
		cfg:      cfg,
		factory:  factory,
		logger:   logger,
		opts:     opts,
		sessions: make(map[string]*Controller),
	}
}

// Start creates and starts a session. A refused session is not registered.
func (r *Registry) Start(ctx context.Context, opts StartOptions) (*Controller, error) {
	id := NewID()
	deps, err := r.factory(id, opts)
	if err != nil {
		return nil, err
	}
	c := NewController(id, r.cfg, deps, logging.WithSession(id, opts.Mode), r.opts...)
	if err := c.Start(ctx, opts); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = c
	r.mu.Unlock()
	return c, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stop stops a session and removes it from the registry.
func (r *Registry) Stop(ctx context.Context, id string) (timeline.SessionTimeline, error) {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return timeline.SessionTimeline{}, ErrNotFound
	}
	return c.Stop(ctx)
}

// StopAll stops every live session concurrently. Used on shutdown.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	live := make([]*Controller, 0, len(r.sessions))
	for id, c := range r.sessions {
		live = append(live, c)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, c := range live {
		g.Go(func() error {
			_, err := c.Stop(ctx)
			return err
		})
	}
	return g.Wait()
}

// Reap stops every session that has no stream listener and has gone without
// input for the configured idle timeout. It returns the stopped IDs.
func (r *Registry) Reap(ctx context.Context) []string {
	if r.cfg.IdleTimeout <= 0 {
		return nil
	}

	r.mu.Lock()
	var idle []*Controller
	for id, c := range r.sessions {
		if d, attached := c.Idle(); !attached && d >= r.cfg.IdleTimeout {
			idle = append(idle, c)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, c := range idle {
		if _, err := c.Stop(ctx); err != nil {
			r.logger.Warn().Err(err).Str("sessionId", c.ID()).Msg("Error stopping idle session")
		}
		metrics.DefaultMetrics.RecordSessionReaped()
		r.logger.Info().
			Str("sessionId", c.ID()).
			Dur("idleTimeout", r.cfg.IdleTimeout).
			Msg("Idle session stopped")
		ids = append(ids, c.ID())
	}
	return ids
}

// RunReaper checks for idle sessions until ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context) {
	if r.cfg.IdleTimeout <= 0 {
		return
	}
	interval := max(r.cfg.IdleTimeout/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(ctx)
		}
	}
}
