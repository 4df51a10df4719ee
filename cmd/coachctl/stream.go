package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	httpapi "talk-coach-engine/internal/http"
)

type streamOptions struct {
	server string
	speed  float64
	wait   time.Duration
}

func newStreamCommand() *cobra.Command {
	var o streamOptions
	cmd := &cobra.Command{
		Use:   "stream SCRIPT",
		Short: "Play a script against a running service in real time",
		Long: "Stream starts a session on the service, sends every step over the session\n" +
			"stream at its offset and prints the server messages as JSON lines.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := LoadScript(args[0])
			if err != nil {
				return err
			}
			return runStream(cmd.Context(), script, o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.server, "server", "http://localhost:8080", "service base URL")
	cmd.Flags().Float64Var(&o.speed, "speed", 1, "playback speed factor")
	cmd.Flags().DurationVar(&o.wait, "wait", 15*time.Second, "time to wait for the sealed timeline")
	return cmd
}

func runStream(ctx context.Context, script *Script, o streamOptions, out io.Writer) error {
	if o.speed <= 0 {
		return fmt.Errorf("speed must be positive, got %v", o.speed)
	}
	logger := consoleLogger()

	id, err := startSession(ctx, o.server, script)
	if err != nil {
		return err
	}
	logger.Info().Str("sessionId", id).Msg("Session started")

	wsURL, err := streamURL(o.server, id)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial session stream: %w", err)
	}
	defer conn.Close()

	sealed := make(chan error, 1)
	go func() {
		sealed <- printMessages(conn, out)
	}()

	start := time.Now()
	for i, st := range script.Steps {
		due := start.Add(time.Duration(float64(st.At) / o.speed))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sealed:
			return fmt.Errorf("stream ended at step %d: %w", i, err)
		case <-time.After(time.Until(due)):
		}
		for _, msg := range st.messages() {
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("send step %d: %w", i, err)
			}
		}
	}

	if err := conn.WriteJSON(httpapi.ClientMessage{Type: httpapi.MessageStop}); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}
	select {
	case err := <-sealed:
		return err
	case <-time.After(o.wait):
		return errors.New("timed out waiting for the sealed timeline")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// printMessages copies server messages to out until the timeline is sealed.
func printMessages(conn *websocket.Conn, out io.Writer) error {
	enc := json.NewEncoder(out)
	for {
		var msg httpapi.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read session stream: %w", err)
		}
		if err := enc.Encode(msg); err != nil {
			return err
		}
		if msg.Type == httpapi.MessageSealed {
			return nil
		}
	}
}

func startSession(ctx context.Context, server string, script *Script) (string, error) {
	payload, err := json.Marshal(script.StartOptions())
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(server, "/")+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("start session: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	return created.SessionID, nil
}

// streamURL maps the service base URL onto the WebSocket URL of a session.
func streamURL(server, id string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/sessions/" + url.PathEscape(id) + "/stream"
	return u.String(), nil
}
