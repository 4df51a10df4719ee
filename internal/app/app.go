package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/rs/zerolog"

	"talk-coach-engine/internal/config"
	"talk-coach-engine/internal/events"
	"talk-coach-engine/internal/observability/logging"
	"talk-coach-engine/internal/schema"
	"talk-coach-engine/internal/service/audio"
	"talk-coach-engine/internal/service/body"
	"talk-coach-engine/internal/service/prosody"
	"talk-coach-engine/internal/service/scoring"
	"talk-coach-engine/internal/service/session"
	"talk-coach-engine/internal/service/stt"
	"talk-coach-engine/internal/service/stt/google"
	"talk-coach-engine/internal/service/stt/mock"
	"talk-coach-engine/internal/storage"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Sessions  *session.Registry
	History   *storage.HistoryStore
	Publisher *events.Publisher
	Profiles  scoring.Profiles
	Validator *schema.Validator

	speech     *speech.Client
	ready      atomic.Bool
	stopReaper context.CancelFunc
}

// New constructs the Application and its collaborators from cfg.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}
	a.Validator = schema.New(logging.WithComponent("schema"))

	profiles := scoring.DefaultProfiles()
	if cfg.Scoring.ProfilesFile != "" {
		loaded, err := scoring.LoadProfiles(cfg.Scoring.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("load scoring profiles: %w", err)
		}
		profiles = loaded
	}
	a.Profiles = profiles

	history, err := storage.OpenHistory(cfg.Storage.HistoryPath, cfg.Storage.HistoryLimit, logging.WithComponent("history"))
	if err != nil {
		return nil, fmt.Errorf("open session history: %w", err)
	}
	a.History = history

	a.Publisher = events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicScore:    cfg.Kafka.TopicScore,
		TopicTimeline: cfg.Kafka.TopicTimeline,
		TopicTip:      cfg.Kafka.TopicTip,
		Principal:     cfg.Kafka.Principal,
		TimelineRetry: cfg.Kafka.TimelineRetry,
	})

	if cfg.STT.Provider == "google" {
		client, err := speech.NewClient(ctx)
		if err != nil {
			_ = history.Close()
			return nil, fmt.Errorf("create speech client: %w", err)
		}
		a.speech = client
	}

	a.Sessions = session.NewRegistry(SessionConfig(cfg), a.sessionDeps, logging.WithComponent("sessions"))

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("kafka", a.Publisher.Enabled()).
		Int("profiles", len(profiles)).
		Msg("Talk coach application created")
	return a, nil
}

// SessionConfig maps the service configuration onto per-session tuning.
func SessionConfig(cfg *config.Configuration) session.Config {
	fallback := body.DefaultFallbackConfig()
	fallback.MotionDivisor = cfg.Body.MotionDivisor
	fallback.SkinRatio = cfg.Body.SkinRatio

	return session.Config{
		Provider: cfg.STT.Provider,
		Prosody: prosody.Config{
			QuietVolume:     cfg.Prosody.QuietVolume,
			LoudVolume:      cfg.Prosody.LoudVolume,
			LowEnergy:       cfg.Prosody.LowEnergy,
			HighEnergy:      cfg.Prosody.HighEnergy,
			PitchDeltaHz:    cfg.Prosody.PitchDeltaHz,
			MinTrendSamples: cfg.Prosody.MinTrendSamples,
			Window:          cfg.Prosody.Window,
			Interval:        cfg.Prosody.Interval,
		},
		Body: body.Config{
			Window:         cfg.Body.Window,
			Interval:       cfg.Body.Interval,
			PrimaryTimeout: cfg.Body.PrimaryTimeout,
			Fallback:       fallback,
		},
		FeedLimit:     cfg.Vision.FeedLimit,
		ScoreInterval: cfg.Session.ScoreInterval,
		TipInterval:   cfg.Session.TipInterval,
		TipDebounce:   cfg.Session.TipDebounce,
		StreamLimits: audio.StreamLimits{
			MaxStreamBytes:    cfg.AudioLimits.MaxStreamBytes,
			MaxStreamDuration: cfg.AudioLimits.MaxStreamDuration,
		},
		Restart: audio.RestartPolicy{
			InitialInterval: cfg.Session.RestartInitial,
			MaxInterval:     cfg.Session.RestartMax,
			MaxElapsed:      cfg.Session.RestartMaxTotal,
		},
		IdleTimeout: cfg.Session.IdleTimeout,
	}
}

// sessionDeps builds the collaborators of one session.
func (a *Application) sessionDeps(id string, opts session.StartOptions) (session.Deps, error) {
	deps := session.Deps{
		Publisher: a.Publisher,
		History:   a.History,
		Profiles:  a.Profiles,
		Validator: a.Validator,
	}

	recognizer, err := a.recognizer()
	if err != nil {
		return session.Deps{}, err
	}
	deps.Recognizer = recognizer

	if a.Cfg.Vision.ClassifierURL != "" {
		deps.Classifier = body.NewHTTPClassifier(a.Cfg.Vision.ClassifierURL, a.Cfg.Vision.Timeout, nil)
	}
	return deps, nil
}

func (a *Application) recognizer() (stt.Adapter, error) {
	switch a.Cfg.STT.Provider {
	case session.ProviderBrowser:
		return nil, nil
	case "mock":
		return mock.New(mock.WithDelay(a.Cfg.STT.MockDelay)), nil
	case "google":
		return google.NewWithClient(a.speech, google.Config{
			LanguageCode:   a.Cfg.STT.LanguageCode,
			SampleRateHz:   a.Cfg.STT.SampleRateHz,
			InterimResults: a.Cfg.STT.InterimResults,
			AudioEncoding:  a.Cfg.STT.AudioEncoding,
		}), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", a.Cfg.STT.Provider)
	}
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()

	reapCtx, cancel := context.WithCancel(context.Background())
	a.stopReaper = cancel
	go a.Sessions.RunReaper(reapCtx)

	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Talk coach service starting")

	return nil
}

// Ready reports whether the service accepts sessions.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown stops every live session, then releases the publisher, the
// history store and the speech client.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	if a.stopReaper != nil {
		a.stopReaper()
	}
	if err := a.Sessions.StopAll(ctx); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Error stopping live sessions")
	}
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Error closing Kafka publisher")
	}
	if err := a.History.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Error closing session history")
	}
	if a.speech != nil {
		if err := a.speech.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Error closing speech client")
		}
	}

	shutdownLogger.Info().Msg("Talk coach service shutting down")
}
