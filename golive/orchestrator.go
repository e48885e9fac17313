// Package golive sequences a go-live run: make sure the user token is
// usable, resolve the preset's category, push the channel metadata, then
// optionally start the OBS output and announce in chat.
package golive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/twitch-go/telemetry"
	"github.com/onnwee/twitch-go/tokenstore"
	"github.com/onnwee/twitch-go/twitchapi"
)

// TokenEnsurer yields a currently valid user token.
type TokenEnsurer interface {
	EnsureValid(ctx context.Context) (*tokenstore.Token, error)
}

// ChannelUpdater is the Helix surface the orchestrator needs.
type ChannelUpdater interface {
	GetBroadcasterID(ctx context.Context) (string, error)
	ResolveCategory(ctx context.Context, name string) (string, error)
	UpdateChannel(ctx context.Context, req twitchapi.ChannelUpdateRequest) error
}

// StreamController is the OBS surface the orchestrator needs. Connections
// are established per run and always closed before the run returns.
type StreamController interface {
	StartStreaming(ctx context.Context) error
	StopStreaming(ctx context.Context) error
	Close() error
}

// Plan is the resolved intent for one run, built by the CLI from a preset
// plus any interactive overrides.
type Plan struct {
	PresetKey    string
	Title        string
	CategoryName string
	// Tags are sent to Twitch verbatim, in order, unmodified.
	Tags []string
	// StartOBS controls whether the run connects to OBS and starts the
	// output after the channel update succeeds.
	StartOBS bool
	// Announcement, when non-empty, is posted to chat after a successful
	// run. Announcement failures never fail the run.
	Announcement string
}

// Result reports what a run actually did.
type Result struct {
	BroadcasterID string
	CategoryID    string
	OBSStarted    bool
	Announced     bool
	Duration      time.Duration
}

// StepError wraps a failure with the step and preset it happened in.
type StepError struct {
	Step   string
	Preset string
	Err    error
}

func (e *StepError) Error() string {
	if e.Preset == "" {
		return fmt.Sprintf("go-live step %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("go-live step %s (preset %s): %v", e.Step, e.Preset, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Orchestrator drives one go-live or stop run.
type Orchestrator struct {
	Tokens TokenEnsurer
	Twitch ChannelUpdater

	// ConnectOBS opens a fresh OBS session. Left nil, OBS steps are skipped
	// regardless of the plan.
	ConnectOBS func(ctx context.Context) (StreamController, error)

	// Announce posts a go-live message to chat. Best effort; a nil func or
	// a returned error only logs.
	Announce func(ctx context.Context, message string) error
}

// GoLive runs the full sequence. The channel update is the committed step:
// an OBS failure after a successful update does not roll the metadata back,
// it is reported in the error while the Result still carries what was done.
func (o *Orchestrator) GoLive(ctx context.Context, plan Plan) (*Result, error) {
	runID := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, runID)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("preset", plan.PresetKey))

	ctx, span := telemetry.StartSpan(ctx, "golive", "golive.run")
	defer span.End()

	telemetry.Inc(telemetry.RunsStarted)
	start := time.Now()
	res := &Result{}

	err := o.run(ctx, log, plan, res)
	res.Duration = time.Since(start)
	if telemetry.RunDuration != nil {
		telemetry.RunDuration.Observe(res.Duration.Seconds())
	}
	if err != nil {
		telemetry.Inc(telemetry.RunsFailed)
		telemetry.RecordError(span, err)
		return res, err
	}
	telemetry.Inc(telemetry.RunsSucceeded)
	log.Info("go-live run complete",
		slog.String("category_id", res.CategoryID),
		slog.Bool("obs_started", res.OBSStarted),
		slog.Duration("took", res.Duration))
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, plan Plan, res *Result) error {
	if _, err := o.Tokens.EnsureValid(ctx); err != nil {
		return &StepError{Step: "ensure_token", Preset: plan.PresetKey, Err: err}
	}

	categoryID, err := o.Twitch.ResolveCategory(ctx, plan.CategoryName)
	if err != nil {
		return &StepError{Step: "resolve_category", Preset: plan.PresetKey, Err: err}
	}
	res.CategoryID = categoryID

	broadcasterID, err := o.Twitch.GetBroadcasterID(ctx)
	if err != nil {
		return &StepError{Step: "broadcaster_id", Preset: plan.PresetKey, Err: err}
	}
	res.BroadcasterID = broadcasterID

	update := twitchapi.ChannelUpdateRequest{
		BroadcasterID: broadcasterID,
		Title:         plan.Title,
		GameID:        categoryID,
		Tags:          plan.Tags,
	}
	if err := o.Twitch.UpdateChannel(ctx, update); err != nil {
		return &StepError{Step: "update_channel", Preset: plan.PresetKey, Err: err}
	}
	log.Info("channel updated",
		slog.String("title", plan.Title),
		slog.String("category", plan.CategoryName),
		slog.Int("tags", len(plan.Tags)))

	if plan.StartOBS && o.ConnectOBS != nil {
		if err := o.startOBS(ctx, log); err != nil {
			// The channel update stays in place; the caller sees which
			// half failed.
			return &StepError{Step: "start_obs", Preset: plan.PresetKey, Err: err}
		}
		res.OBSStarted = true
	}

	if plan.Announcement != "" && o.Announce != nil {
		if err := o.Announce(ctx, plan.Announcement); err != nil {
			log.Warn("go-live announcement failed", slog.Any("err", err))
		} else {
			res.Announced = true
		}
	}
	return nil
}

func (o *Orchestrator) startOBS(ctx context.Context, log *slog.Logger) error {
	obs, err := o.ConnectOBS(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := obs.Close(); cerr != nil {
			log.Warn("closing obs session", slog.Any("err", cerr))
		}
	}()
	return obs.StartStreaming(ctx)
}

// Stop ends the OBS output. It touches nothing on Twitch.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.ConnectOBS == nil {
		return errors.New("obs is not configured")
	}
	ctx, span := telemetry.StartSpan(ctx, "golive", "golive.stop")
	defer span.End()

	obs, err := o.ConnectOBS(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return &StepError{Step: "connect_obs", Err: err}
	}
	defer obs.Close()

	if err := obs.StopStreaming(ctx); err != nil {
		telemetry.RecordError(span, err)
		return &StepError{Step: "stop_obs", Err: err}
	}
	slog.Info("obs stream stopped")
	return nil
}
