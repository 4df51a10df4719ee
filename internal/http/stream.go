package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"talk-coach-engine/internal/observability/logging"
	"talk-coach-engine/internal/observability/metrics"
	"talk-coach-engine/internal/service/session"
	"talk-coach-engine/internal/service/transcript"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 << 20
	sendBuffer     = 64
)

// ErrUnknownMessage is reported for a client message of an unknown type.
var ErrUnknownMessage = errors.New("unknown message type")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamConn is the session listener for one WebSocket client. Messages are
// queued and written by a single write pump; a full queue drops updates.
type streamConn struct {
	conn   *websocket.Conn
	send   chan ServerMessage
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newStreamConn(conn *websocket.Conn, logger zerolog.Logger) *streamConn {
	return &streamConn{
		conn:   conn,
		send:   make(chan ServerMessage, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (s *streamConn) OnUpdate(u session.Update) {
	s.enqueue(ServerMessage{Type: MessageUpdate, Update: &u})
}

func (s *streamConn) OnTranscript(seg transcript.Segment) {
	s.enqueue(ServerMessage{Type: MessageTranscript, Segment: &seg})
}

func (s *streamConn) enqueue(m ServerMessage) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- m:
	default:
		s.logger.Debug().Str("type", m.Type).Msg("Client send queue full, message dropped")
	}
}

func (s *streamConn) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *streamConn) write(m ServerMessage) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(m)
}

// writePump owns every write on the connection. Queued messages are flushed
// before the close frame.
func (s *streamConn) writePump(finished chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(finished)
	}()

	for {
		select {
		case m := <-s.send:
			if err := s.write(m); err != nil {
				s.logger.Debug().Err(err).Msg("WebSocket write failed")
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			for {
				select {
				case m := <-s.send:
					if err := s.write(m); err != nil {
						return
					}
				default:
					_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

type streamHandler struct {
	sessions    *session.Registry
	stopTimeout time.Duration
	metrics     *metrics.Metrics
}

func (h *streamHandler) serve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctl, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	logger := logging.WithStream(id, r.RemoteAddr)
	sc := newStreamConn(conn, logger)
	finished := make(chan struct{})
	go sc.writePump(finished)

	h.metrics.RecordStreamStart()
	logger.Info().Msg("Session stream connected")

	ctx, cancel := context.WithCancel(context.Background())
	ctl.SetListener(sc)
	clean := h.readLoop(ctx, ctl, sc, logger)
	ctl.SetListener(nil)
	cancel()

	sc.close()
	<-finished
	h.metrics.RecordStreamEnd(clean)
	logger.Info().Bool("clean", clean).Msg("Session stream closed")
}

// readLoop dispatches client messages until the client stops the session or
// disconnects. It reports whether the stream ended cleanly.
func (h *streamHandler) readLoop(ctx context.Context, ctl *session.Controller, sc *streamConn, logger zerolog.Logger) bool {
	conn := sc.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Session stream read failed")
				return false
			}
			return true
		}

		if kind == websocket.BinaryMessage {
			if err := ctl.SendAudio(ctx, data); err != nil && !errors.Is(err, session.ErrNoRecognizer) {
				sc.enqueue(ServerMessage{Type: MessageError, Error: err.Error()})
			}
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sc.enqueue(ServerMessage{Type: MessageError, Error: "malformed message"})
			continue
		}
		if h.dispatch(ctx, ctl, sc, msg) {
			return true
		}
	}
}

// dispatch applies one client message. It returns true once the session stopped.
func (h *streamHandler) dispatch(ctx context.Context, ctl *session.Controller, sc *streamConn, msg ClientMessage) bool {
	if msg.Type != MessageStop {
		if err := Apply(ctx, ctl, msg); err != nil {
			sc.enqueue(ServerMessage{Type: MessageError, Error: err.Error()})
		}
		return false
	}

	stopCtx, cancel := context.WithTimeout(ctx, h.stopTimeout)
	defer cancel()
	tl, err := h.sessions.Stop(stopCtx, ctl.ID())
	if err != nil {
		sc.enqueue(ServerMessage{Type: MessageError, Error: err.Error()})
		return true
	}
	sc.enqueue(ServerMessage{Type: MessageSealed, Timeline: &tl})
	return true
}

// Apply hands one input message to a session. Stop messages are the
// caller's concern.
func Apply(ctx context.Context, ctl *session.Controller, msg ClientMessage) error {
	switch msg.Type {
	case MessageRecognizer:
		if msg.Error != "" {
			ctl.OnRecognizerError(errors.New(msg.Error))
			return nil
		}
		ctl.OnRecognizerResults(toResults(msg.Results))
	case MessageAudio:
		if msg.Audio != nil {
			ctl.OfferAudio(*msg.Audio)
		}
	case MessageFrame:
		if msg.Frame != nil {
			ctl.OfferVideo(ctx, *msg.Frame)
		}
	case MessageJudgment:
		if msg.Error != "" {
			ctl.FailJudgments(errors.New(msg.Error))
			return nil
		}
		if msg.Judgment != nil {
			ctl.PushJudgment(ctx, *msg.Judgment)
		}
	case MessageCode:
		if msg.Code != nil {
			ctl.UpdateCode(msg.Code.Code, msg.Code.Output)
			if msg.Code.Snapshot {
				ctl.SnapshotCode()
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	return nil
}
