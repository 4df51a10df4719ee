// Package config loads the engine configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	AudioLimits   AudioLimitsConfig
	Vision        VisionConfig
	Prosody       ProsodyConfig
	Body          BodyConfig
	Scoring       ScoringConfig
	Session       SessionConfig
	Kafka         KafkaConfig
	Storage       StorageConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
}

type STTConfig struct {
	Provider       string // browser, mock, google
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
	MockDelay      time.Duration
}

// AudioLimitsConfig bounds one server-side recognizer stream.
type AudioLimitsConfig struct {
	MaxStreamBytes    int64
	MaxStreamDuration time.Duration
}

type VisionConfig struct {
	ClassifierURL string // empty means judgments are pushed by the client
	Timeout       time.Duration
	FeedLimit     int
}

type ProsodyConfig struct {
	QuietVolume     float64
	LoudVolume      float64
	LowEnergy       float64
	HighEnergy      float64
	PitchDeltaHz    float64
	MinTrendSamples int
	Window          int
	Interval        time.Duration
}

type BodyConfig struct {
	Window         int
	Interval       time.Duration
	PrimaryTimeout time.Duration
	MotionDivisor  float64
	SkinRatio      float64
}

type ScoringConfig struct {
	ProfilesFile string
}

type SessionConfig struct {
	ScoreInterval   time.Duration
	TipInterval     time.Duration
	TipDebounce     time.Duration
	RestartInitial  time.Duration
	RestartMax      time.Duration
	RestartMaxTotal time.Duration
	StopTimeout     time.Duration
	IdleTimeout     time.Duration
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicScore    string
	TopicTimeline string
	TopicTip      string
	Principal     string
	TimelineRetry time.Duration
}

type StorageConfig struct {
	HistoryPath  string
	HistoryLimit int
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration. Invalid values fall back to defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-talk-coach")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "browser"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   int32(envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000)),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			MockDelay:      envOrDefaultDuration("STT_MOCK_DELAY", 50*time.Millisecond),
		},
		AudioLimits: AudioLimitsConfig{
			MaxStreamBytes:    int64(envOrDefaultInt("AUDIO_MAX_STREAM_BYTES", 5*1024*1024)),
			MaxStreamDuration: envOrDefaultDuration("AUDIO_MAX_STREAM_DURATION", 4*time.Minute+30*time.Second),
		},
		Vision: VisionConfig{
			ClassifierURL: envOrDefault("VISION_CLASSIFIER_URL", ""),
			Timeout:       envOrDefaultDuration("VISION_TIMEOUT", 2*time.Second),
			FeedLimit:     envOrDefaultInt("VISION_FEED_LIMIT", 8),
		},
		Prosody: ProsodyConfig{
			QuietVolume:     envOrDefaultFloat("PROSODY_QUIET_VOLUME", 0.02),
			LoudVolume:      envOrDefaultFloat("PROSODY_LOUD_VOLUME", 0.15),
			LowEnergy:       envOrDefaultFloat("PROSODY_LOW_ENERGY", 20),
			HighEnergy:      envOrDefaultFloat("PROSODY_HIGH_ENERGY", 60),
			PitchDeltaHz:    envOrDefaultFloat("PROSODY_PITCH_DELTA_HZ", 50),
			MinTrendSamples: envOrDefaultInt("PROSODY_MIN_TREND_SAMPLES", 5),
			Window:          envOrDefaultInt("PROSODY_WINDOW", 10),
			Interval:        envOrDefaultDuration("PROSODY_INTERVAL", 200*time.Millisecond),
		},
		Body: BodyConfig{
			Window:         envOrDefaultInt("BODY_WINDOW", 10),
			Interval:       envOrDefaultDuration("BODY_INTERVAL", 100*time.Millisecond),
			PrimaryTimeout: envOrDefaultDuration("BODY_PRIMARY_TIMEOUT", 3*time.Second),
			MotionDivisor:  envOrDefaultFloat("BODY_MOTION_DIVISOR", 40),
			SkinRatio:      envOrDefaultFloat("BODY_SKIN_RATIO", 0.15),
		},
		Scoring: ScoringConfig{
			ProfilesFile: envOrDefault("SCORING_PROFILES_FILE", ""),
		},
		Session: SessionConfig{
			ScoreInterval:   envOrDefaultDuration("SESSION_SCORE_INTERVAL", time.Second),
			TipInterval:     envOrDefaultDuration("SESSION_TIP_INTERVAL", 5*time.Second),
			TipDebounce:     envOrDefaultDuration("SESSION_TIP_DEBOUNCE", 3*time.Second),
			RestartInitial:  envOrDefaultDuration("SESSION_RESTART_INITIAL", 250*time.Millisecond),
			RestartMax:      envOrDefaultDuration("SESSION_RESTART_MAX", 5*time.Second),
			RestartMaxTotal: envOrDefaultDuration("SESSION_RESTART_MAX_TOTAL", time.Minute),
			StopTimeout:     envOrDefaultDuration("SESSION_STOP_TIMEOUT", 10*time.Second),
			IdleTimeout:     envOrDefaultDuration("SESSION_IDLE_TIMEOUT", 2*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       envList("KAFKA_BROKERS"),
			TopicScore:    envOrDefault("KAFKA_TOPIC_SCORE", "coach.session.score"),
			TopicTimeline: envOrDefault("KAFKA_TOPIC_TIMELINE", "coach.session.timeline"),
			TopicTip:      envOrDefault("KAFKA_TOPIC_TIP", "coach.session.tip"),
			Principal:     envOrDefault("KAFKA_PRINCIPAL", principal),
			TimelineRetry: envOrDefaultDuration("KAFKA_TIMELINE_RETRY", 30*time.Second),
		},
		Storage: StorageConfig{
			HistoryPath:  envOrDefault("HISTORY_DB_PATH", "talk-coach-history.db"),
			HistoryLimit: envOrDefaultInt("HISTORY_LIMIT", 20),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
