// Package events hands session events to external collaborators over Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"talk-coach-engine/internal/models"
	"talk-coach-engine/internal/observability/metrics"
)

// ErrEncode is returned when an event cannot be marshaled. It is never retried.
var ErrEncode = errors.New("encode event")

// Publisher publishes session events to separate Kafka topics.
type Publisher struct {
	writerScore    *kafka.Writer
	writerTimeline *kafka.Writer
	writerTip      *kafka.Writer
	principal      string
	topicScore     string
	topicTimeline  string
	topicTip       string
	enabled        bool
	retry          func() backoff.BackOff
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicScore    string
	TopicTimeline string
	TopicTip      string
	Principal     string
	Enabled       bool
	// TimelineRetry bounds the retries for sealed timelines.
	TimelineRetry time.Duration
}

// New creates a new Kafka event publisher with one writer per topic.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			retry:   timelineBackoff(0),
			metrics: m,
		}
	}

	p := &Publisher{
		principal:     cfg.Principal,
		topicScore:    cfg.TopicScore,
		topicTimeline: cfg.TopicTimeline,
		topicTip:      cfg.TopicTip,
		retry:         timelineBackoff(cfg.TimelineRetry),
		metrics:       m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerScore = newWriter(cfg.Brokers, cfg.TopicScore, transport)
	p.writerTimeline = newWriter(cfg.Brokers, cfg.TopicTimeline, transport)
	p.writerTip = newWriter(cfg.Brokers, cfg.TopicTip, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicScore", cfg.TopicScore).
		Str("topicTimeline", cfg.TopicTimeline).
		Str("topicTip", cfg.TopicTip).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

func timelineBackoff(maxElapsed time.Duration) func() backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxElapsedTime = maxElapsed
		return b
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishScore publishes a live score update keyed by session.
func (p *Publisher) PublishScore(ctx context.Context, event models.ScoreUpdated) error {
	return p.publish(ctx, p.writerScore, p.topicScore, models.EventScoreUpdated, event.SessionID, event)
}

// PublishTip publishes a coaching-tip request keyed by session.
func (p *Publisher) PublishTip(ctx context.Context, event models.TipRequested) error {
	return p.publish(ctx, p.writerTip, p.topicTip, models.EventTipRequested, event.SessionID, event)
}

// PublishTimeline publishes a sealed timeline, retrying with exponential
// backoff until it succeeds, the retry budget runs out or ctx is done.
func (p *Publisher) PublishTimeline(ctx context.Context, event models.TimelineSealed) error {
	op := func() error {
		err := p.publish(ctx, p.writerTimeline, p.topicTimeline, models.EventTimelineSealed, event.SessionID, event)
		if errors.Is(err, ErrEncode) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(p.retry(), ctx))
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for name, w := range map[string]*kafka.Writer{
		"score":    p.writerScore,
		"timeline": p.writerTimeline,
		"tip":      p.writerTip,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing writer")
			err = e
		}
	}
	return err
}
