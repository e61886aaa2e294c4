package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/server"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
)

// own binds the control socket, wires services, and runs fn beside the IPC
// server. The socket is released when fn returns.
func (r Runner) own(ctx context.Context, cfg config.Config, stateDir string, logger *slog.Logger, fn func(context.Context, *services) error) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, acquireProbeTimeout, acquireRetries)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: another hark session already owns the microphone")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	svc, err := r.build(cfg, stateDir, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer svc.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return ipc.Serve(groupCtx, listener, svc.controller)
	})
	group.Go(func() error {
		defer cancel()
		return fn(groupCtx, svc)
	})

	if err := group.Wait(); err != nil {
		logger.Error("command failed", "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %s\n", describe(err))
		return 1
	}
	return 0
}

func (r Runner) commandRecord(ctx context.Context, cfg config.Config, stateDir string, logger *slog.Logger) int {
	return r.own(ctx, cfg, stateDir, logger, func(ctx context.Context, svc *services) error {
		outcome, err := svc.pipeline.Record(ctx)
		logOutcome(logger, outcome, err)
		if err != nil {
			if pipeline.IsInterrupted(err) {
				fmt.Fprintln(r.Stdout, "cancelled")
				return nil
			}
			return err
		}
		fmt.Fprintln(r.Stdout, outcome.Transcript())
		return nil
	})
}

func (r Runner) commandListen(ctx context.Context, cfg config.Config, stateDir string, logger *slog.Logger) int {
	return r.own(ctx, cfg, stateDir, logger, func(ctx context.Context, svc *services) error {
		fmt.Fprintln(r.Stdout, svc.pipeline.Listen(ctx))
		return nil
	})
}

func (r Runner) commandServe(ctx context.Context, cfg config.Config, stateDir string, logger *slog.Logger) int {
	return r.own(ctx, cfg, stateDir, logger, func(ctx context.Context, svc *services) error {
		srv := server.New(server.Deps{
			Logger:     logger,
			Sessions:   svc.controller,
			Flows:      svc.pipeline,
			Speaker:    svc.client,
			Status:     svc.notifier.Status(),
			Permission: audio.QueryPermission,
			Gatherer:   svc.registry,
			Metrics:    svc.metrics,
		})
		fmt.Fprintf(r.Stdout, "serving on http://%s\n", cfg.HTTP.Listen)
		return srv.Serve(ctx, cfg.HTTP.Listen)
	})
}

// describe renders capture failures with their user-facing text.
func describe(err error) string {
	if errors.Is(err, audio.ErrPermissionDenied) || errors.Is(err, audio.ErrDeviceUnavailable) {
		return audio.UserMessage(err)
	}
	return err.Error()
}

func logOutcome(logger *slog.Logger, outcome pipeline.Outcome, err error) {
	if logger == nil {
		return
	}
	result := outcome.Session
	fields := []any{
		"session_id", result.SessionID,
		"profile", result.Profile,
		"reason", string(result.Reason),
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.Elapsed().Milliseconds(),
		"audio_device", result.Device,
		"bytes_captured", len(result.Blob.Data),
		"speech_detected", result.SpeechDetected,
		"transcript_length", len(outcome.Transcript()),
		"transcription_outcome", string(outcome.Transcription.Outcome),
		"should_stop_interview", outcome.Transcription.ShouldStopInterview,
	}

	if err != nil {
		logger.Error("session failed", append(fields, "error", err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}
