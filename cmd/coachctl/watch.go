package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type watchOptions struct {
	brokers string
	topics  []string
	session string
	since   time.Duration
}

func newWatchCommand() *cobra.Command {
	var o watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session events published to Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.brokers, "brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	cmd.Flags().StringSliceVar(&o.topics, "topic", []string{"coach.session.score"}, "topics to read")
	cmd.Flags().StringVar(&o.session, "session", "", "only print events of this session")
	cmd.Flags().DurationVar(&o.since, "since", time.Hour, "start this far back in the topic")
	return cmd
}

// watchedEvent is one printed line.
type watchedEvent struct {
	Topic     string          `json:"topic"`
	Offset    int64           `json:"offset"`
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

func runWatch(ctx context.Context, o watchOptions, out io.Writer) error {
	if len(o.topics) == 0 {
		return errors.New("no topics to watch")
	}
	logger := consoleLogger()
	brokers := strings.Split(o.brokers, ",")
	lines := make(chan watchedEvent, 64)

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range o.topics {
		g.Go(func() error {
			return consumeTopic(gctx, brokers, topic, o, lines, logger)
		})
	}
	go func() {
		_ = g.Wait()
		close(lines)
	}()

	enc := json.NewEncoder(out)
	for ev := range lines {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// consumeTopic reads partition 0 of a topic without a consumer group.
func consumeTopic(ctx context.Context, brokers []string, topic string, o watchOptions, lines chan<- watchedEvent, logger zerolog.Logger) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-o.since)); err != nil {
		return fmt.Errorf("seek %s: %w", topic, err)
	}
	logger.Info().Str("topic", topic).Dur("since", o.since).Msg("Watching topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		ev, ok := toWatchedEvent(msg, o.session)
		if !ok {
			continue
		}
		select {
		case lines <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// toWatchedEvent keys events by session and drops the ones filtered out or
// not carrying JSON.
func toWatchedEvent(msg kafka.Message, session string) (watchedEvent, bool) {
	key := string(msg.Key)
	if session != "" && key != session {
		return watchedEvent{}, false
	}
	if !json.Valid(msg.Value) {
		return watchedEvent{}, false
	}
	ev := watchedEvent{
		Topic:     msg.Topic,
		Offset:    msg.Offset,
		SessionID: key,
		Event:     json.RawMessage(msg.Value),
	}
	for _, h := range msg.Headers {
		if h.Key == "eventType" {
			ev.EventType = string(h.Value)
		}
	}
	return ev, true
}
