package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"talk-coach-engine/internal/app"
	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/session"
	"talk-coach-engine/internal/storage"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	stopTimeout := 10 * time.Second
	if application.Cfg != nil && application.Cfg.Session.StopTimeout > 0 {
		stopTimeout = application.Cfg.Session.StopTimeout
	}
	h := &handlers{
		sessions:    application.Sessions,
		history:     application.History,
		stopTimeout: stopTimeout,
	}
	stream := &streamHandler{
		sessions:    application.Sessions,
		stopTimeout: stopTimeout,
		metrics:     metrics.DefaultMetrics,
	}

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.startSession)
			r.Get("/{id}", h.getSession)
			r.Delete("/{id}", h.stopSession)
			r.Get("/{id}/stream", stream.serve)
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.listHistory)
			r.Get("/{id}", h.getHistory)
			r.Delete("/{id}", h.deleteHistory)
		})
	})

	return r
}

type handlers struct {
	sessions    *session.Registry
	history     *storage.HistoryStore
	stopTimeout time.Duration
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	var opts session.StartOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctl, err := h.sessions.Start(r.Context(), opts)
	switch {
	case errors.Is(err, session.ErrSourceUnavailable):
		writeError(w, http.StatusPreconditionFailed, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": ctl.ID()})
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctl, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	snap, err := ctl.Snapshot()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) stopSession(w http.ResponseWriter, r *http.Request) {
	// The sealed timeline is published and stored even if the client goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.stopTimeout)
	defer cancel()

	tl, err := h.sessions.Stop(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (h *handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}

	list, err := h.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) getHistory(w http.ResponseWriter, r *http.Request) {
	tl, err := h.history.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (h *handlers) deleteHistory(w http.ResponseWriter, r *http.Request) {
	err := h.history.Delete(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
