package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	httpapi "talk-coach-engine/internal/http"
	"talk-coach-engine/internal/service/scoring"
	"talk-coach-engine/internal/service/session"
	"talk-coach-engine/internal/service/timeline"
	"talk-coach-engine/internal/storage"
)

type replayOptions struct {
	profiles string
	history  string
	limit    int
}

func newReplayCommand() *cobra.Command {
	var o replayOptions
	cmd := &cobra.Command{
		Use:   "replay SCRIPT",
		Short: "Run a script through the engine on a simulated clock",
		Long: "Replay feeds every step of a YAML script into a local session at its offset.\n" +
			"Score updates are printed as JSON lines, followed by the sealed timeline.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), args[0], o, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.profiles, "profiles", "", "scoring profiles YAML file")
	cmd.Flags().StringVar(&o.history, "history", "", "SQLite file to store the sealed timeline in")
	cmd.Flags().IntVar(&o.limit, "history-limit", 50, "sessions kept in the history file")
	return cmd
}

func runReplay(ctx context.Context, path string, o replayOptions, out io.Writer) error {
	logger := consoleLogger()

	script, err := LoadScript(path)
	if err != nil {
		return err
	}

	var deps session.Deps
	if o.profiles != "" {
		profiles, err := scoring.LoadProfiles(o.profiles)
		if err != nil {
			return err
		}
		deps.Profiles = profiles
	}
	if o.history != "" {
		store, err := storage.OpenHistory(o.history, o.limit, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.History = store
	}

	tl, err := replay(ctx, script, deps, out, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Str("sessionId", tl.SessionID).
		Int("finalScore", tl.FinalScore).
		Int("elapsedSeconds", tl.ElapsedSeconds).
		Msg("Replay finished")
	return nil
}

// simClock is the simulated session clock of a replay.
type simClock struct {
	t time.Time
}

func (c *simClock) Now() time.Time { return c.t }

// replay runs the script through a manual-tick controller. Each update and
// the sealed timeline are written to out as JSON lines.
func replay(ctx context.Context, s *Script, deps session.Deps, out io.Writer, logger zerolog.Logger) (timeline.SessionTimeline, error) {
	clock := &simClock{t: time.Unix(0, 0).UTC()}
	enc := json.NewEncoder(out)

	ctl := session.NewController(session.NewID(), session.DefaultConfig(), deps, logger,
		session.WithClock(clock.Now), session.WithManualTicks())

	start := clock.t
	if err := ctl.Start(ctx, s.StartOptions()); err != nil {
		return timeline.SessionTimeline{}, err
	}
	camera := s.Camera && !s.SkipCamera

	for i, st := range s.Steps {
		clock.t = start.Add(st.At)

		msgs := st.messages()
		for _, msg := range msgs {
			if err := httpapi.Apply(ctx, ctl, msg); err != nil {
				logger.Warn().Err(err).Int("step", i).Msg("Step rejected")
			}
		}
		if camera && st.Judgment == nil && st.ClassifierError == "" {
			ctl.TickBody(ctx)
		}
		if st.Tip {
			if err := ctl.RequestTip(ctx); err != nil {
				logger.Warn().Err(err).Int("step", i).Msg("Tip request failed")
			}
		}
		if st.Score {
			u, err := ctl.Refresh(ctx, true)
			if err != nil {
				return timeline.SessionTimeline{}, fmt.Errorf("step %d: %w", i, err)
			}
			if err := enc.Encode(httpapi.ServerMessage{Type: httpapi.MessageUpdate, Update: &u}); err != nil {
				return timeline.SessionTimeline{}, err
			}
		}
	}

	tl, err := ctl.Stop(ctx)
	if err != nil {
		return tl, err
	}
	if err := enc.Encode(httpapi.ServerMessage{Type: httpapi.MessageSealed, Timeline: &tl}); err != nil {
		return tl, err
	}
	return tl, nil
}
