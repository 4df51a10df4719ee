// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "talk_coach"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsRefused  *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	TimelinesSealed  prometheus.Counter
	HistoryWrites    *prometheus.CounterVec
	TipRequestsTotal prometheus.Counter
	SessionsReaped   prometheus.Counter

	// Recognizer metrics
	RecognizerEvents   *prometheus.CounterVec
	DuplicateFinals    prometheus.Counter
	RecognizerRestarts prometheus.Counter
	RecognizerErrors   *prometheus.CounterVec

	// Sampler metrics
	ProsodyTicks       prometheus.Counter
	BodyTicks          *prometheus.CounterVec
	FallbackDowngrades *prometheus.CounterVec
	SamplesRejected    *prometheus.CounterVec

	// Scoring metrics
	ScoreDistribution prometheus.Histogram
	CuesSelected      *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Client stream metrics
	StreamsActive prometheus.Gauge
	StreamsTotal  *prometheus.CounterVec

	// gRPC call metrics
	GRPCCalls       *prometheus.CounterVec
	GRPCCallLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of coaching sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently running coaching sessions",
		}),
		SessionsRefused: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_refused_total",
			Help:      "Sessions refused at start because a signal source was unavailable",
		}, []string{"source"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of coaching sessions in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		TimelinesSealed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timelines_sealed_total",
			Help:      "Total number of session timelines sealed",
		}),
		HistoryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "Session history writes by outcome",
		}, []string{"outcome"}),
		TipRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tip_requests_total",
			Help:      "Total number of coaching tip requests emitted",
		}),
		SessionsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Sessions stopped after running without a client stream or input",
		}),

		// Recognizer metrics
		RecognizerEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_events_total",
			Help:      "Recognizer results received by kind",
		}, []string{"kind"}),
		DuplicateFinals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_duplicate_finals_total",
			Help:      "Final results rejected because the segment was already finalized",
		}),
		RecognizerRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_restarts_total",
			Help:      "Recognizer stream restarts after an interruption",
		}),
		RecognizerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_errors_total",
			Help:      "Recognizer errors by provider",
		}, []string{"provider"}),

		// Sampler metrics
		ProsodyTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prosody_ticks_total",
			Help:      "Prosody sampler ticks that produced a tone update",
		}),
		BodyTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "body_ticks_total",
			Help:      "Body-signal sampler ticks by strategy",
		}, []string{"strategy"}),
		FallbackDowngrades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "body_fallback_downgrades_total",
			Help:      "One-way downgrades from the vision classifier to local fallback",
		}, []string{"reason"}),
		SamplesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_rejected_total",
			Help:      "Malformed input samples dropped before reaching a sampler",
		}, []string{"kind"}),

		// Scoring metrics
		ScoreDistribution: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "smoothed_score",
			Help:      "Distribution of smoothed composite scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		CuesSelected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cues_selected_total",
			Help:      "Coaching cues selected by cue",
		}, []string{"cue"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Client stream metrics
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently open gRPC and WebSocket streams",
		}),
		StreamsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Completed gRPC and WebSocket streams by outcome",
		}, []string{"outcome"}),

		// gRPC call metrics
		GRPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Completed unary gRPC calls by method and status code",
		}, []string{"method", "code"}),
		GRPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_latency_seconds",
			Help:      "Unary gRPC call latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionRefused records a session refused for a missing source.
func (m *Metrics) RecordSessionRefused(source string) {
	m.SessionsRefused.WithLabelValues(source).Inc()
}

// RecordTimelineSealed records a sealed timeline.
func (m *Metrics) RecordTimelineSealed() {
	m.TimelinesSealed.Inc()
}

// RecordHistoryWrite records a history store write.
func (m *Metrics) RecordHistoryWrite(err error) {
	if err != nil {
		m.HistoryWrites.WithLabelValues("error").Inc()
		return
	}
	m.HistoryWrites.WithLabelValues("ok").Inc()
}

// RecordTipRequest records a coaching tip request.
func (m *Metrics) RecordTipRequest() {
	m.TipRequestsTotal.Inc()
}

// RecordRecognizerEvent records an interim or final recognizer result.
func (m *Metrics) RecordRecognizerEvent(final bool) {
	if final {
		m.RecognizerEvents.WithLabelValues("final").Inc()
		return
	}
	m.RecognizerEvents.WithLabelValues("interim").Inc()
}

// RecordDuplicateFinal records a rejected re-finalization.
func (m *Metrics) RecordDuplicateFinal() {
	m.DuplicateFinals.Inc()
}

// RecordRecognizerRestart records a recognizer stream restart.
func (m *Metrics) RecordRecognizerRestart() {
	m.RecognizerRestarts.Inc()
}

// RecordRecognizerError records a recognizer error.
func (m *Metrics) RecordRecognizerError(provider string) {
	m.RecognizerErrors.WithLabelValues(provider).Inc()
}

// RecordProsodyTick records a prosody tick.
func (m *Metrics) RecordProsodyTick() {
	m.ProsodyTicks.Inc()
}

// RecordBodyTick records a body-signal tick for the given strategy.
func (m *Metrics) RecordBodyTick(strategy string) {
	m.BodyTicks.WithLabelValues(strategy).Inc()
}

// RecordFallbackDowngrade records the one-way switch to the fallback strategy.
func (m *Metrics) RecordFallbackDowngrade(reason string) {
	m.FallbackDowngrades.WithLabelValues(reason).Inc()
}

// RecordSampleRejected records a malformed sample.
func (m *Metrics) RecordSampleRejected(kind string) {
	m.SamplesRejected.WithLabelValues(kind).Inc()
}

// RecordScore records a smoothed score and the cues shown with it.
func (m *Metrics) RecordScore(score int, cues []string) {
	m.ScoreDistribution.Observe(float64(score))
	for _, c := range cues {
		m.CuesSelected.WithLabelValues(c).Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordStreamStart records a gRPC or WebSocket stream opening.
func (m *Metrics) RecordStreamStart() {
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a gRPC or WebSocket stream closing.
func (m *Metrics) RecordStreamEnd(success bool) {
	m.StreamsActive.Dec()
	if success {
		m.StreamsTotal.WithLabelValues("success").Inc()
	} else {
		m.StreamsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordGRPCCall records a completed unary gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string, latencySeconds float64) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
	m.GRPCCallLatency.WithLabelValues(method).Observe(latencySeconds)
}

// RecordSessionReaped records a session stopped for inactivity.
func (m *Metrics) RecordSessionReaped() {
	m.SessionsReaped.Inc()
}
