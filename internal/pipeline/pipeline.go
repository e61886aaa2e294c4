// Package pipeline chains a recording session into a transcription upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/session"
	"github.com/rbright/hark/internal/transport"
	"github.com/rbright/hark/internal/vad"
)

// Sessions starts recordings.
type Sessions interface {
	Start(ctx context.Context, th vad.Thresholds) (*session.Recording, error)
}

// Transcriber uploads finished recordings.
type Transcriber interface {
	ProcessAudio(ctx context.Context, blob audio.Blob, project string) transport.Result
}

// Config binds profiles and project to the flows.
type Config struct {
	Project string
	Record  vad.Thresholds
	Listen  vad.Thresholds
	// DumpDir, when set, receives a copy of every recorded blob.
	DumpDir string
}

// Outcome pairs a finalized session with its transcription.
type Outcome struct {
	Session       session.Result
	Transcription transport.Result
}

// Transcript returns the text or sentinel handed back to the caller.
func (o Outcome) Transcript() string {
	return o.Transcription.Transcript
}

// Pipeline runs capture-then-transcribe flows.
type Pipeline struct {
	sessions    Sessions
	transcriber Transcriber
	cfg         Config
	logger      *slog.Logger
}

// New constructs a pipeline.
func New(sessions Sessions, transcriber Transcriber, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{sessions: sessions, transcriber: transcriber, cfg: cfg, logger: logger}
}

// Record captures one utterance under the record profile and uploads it.
// Acquisition failures and mid-session device loss are returned as errors;
// transcription problems surface only as sentinel text.
func (p *Pipeline) Record(ctx context.Context) (Outcome, error) {
	return p.run(ctx, p.cfg.Record)
}

// Listen captures under the listen profile and always yields text: a
// transcript, NoSpeechDetected, or ErrorRecordingAudio.
func (p *Pipeline) Listen(ctx context.Context) string {
	outcome, err := p.run(ctx, p.cfg.Listen)
	if err != nil {
		p.logger.Error("listen failed", "error", err.Error())
		return transport.ErrorRecordingAudio
	}
	return outcome.Transcript()
}

// Begin starts a record-profile capture and returns once the device is live.
// Upload happens in the background when the recording stops; ctx bounds both.
func (p *Pipeline) Begin(ctx context.Context) (*Pending, error) {
	rec, err := p.sessions.Start(ctx, p.cfg.Record)
	if err != nil {
		return nil, err
	}
	pending := &Pending{Recording: rec, done: make(chan struct{})}
	go func() {
		defer close(pending.done)
		pending.outcome, pending.err = p.finish(ctx, rec)
	}()
	return pending, nil
}

// Pending is a capture whose upload has not necessarily finished.
type Pending struct {
	Recording *session.Recording

	done    chan struct{}
	outcome Outcome
	err     error
}

// Done is closed once the outcome is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks for the outcome or until ctx is cancelled.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, p.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (p *Pipeline) run(ctx context.Context, th vad.Thresholds) (Outcome, error) {
	rec, err := p.sessions.Start(ctx, th)
	if err != nil {
		return Outcome{}, err
	}
	return p.finish(ctx, rec)
}

func (p *Pipeline) finish(ctx context.Context, rec *session.Recording) (Outcome, error) {
	<-rec.Done()
	result := rec.Result()
	outcome := Outcome{Session: result}
	if result.Err != nil {
		return outcome, result.Err
	}

	p.dump(result)

	// Nothing was captured, so there is nothing for the backend to transcribe.
	if result.Blob.Empty() {
		outcome.Transcription = transport.Result{Transcript: transport.NoSpeechDetected, Outcome: transport.OutcomeNoSpeech}
		return outcome, nil
	}
	if ctx.Err() != nil {
		return outcome, fmt.Errorf("recording interrupted: %w", ctx.Err())
	}

	outcome.Transcription = p.transcriber.ProcessAudio(ctx, result.Blob, p.cfg.Project)
	p.logger.Info("capture complete",
		"session_id", result.SessionID,
		"reason", string(result.Reason),
		"audio_seconds", result.Blob.Duration.Seconds(),
		"outcome", string(outcome.Transcription.Outcome),
	)
	return outcome, nil
}

// dump writes the blob to DumpDir; failures only warn.
func (p *Pipeline) dump(result session.Result) {
	if p.cfg.DumpDir == "" || result.Blob.Empty() {
		return
	}
	if err := writeDump(p.cfg.DumpDir, result); err != nil {
		p.logger.Warn("unable to write debug audio dump", "error", err.Error())
	}
}

func writeDump(dir string, result session.Result) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	name := fmt.Sprintf("audio-%s-%s.wav", result.StartedAt.Format("20060102-150405.000"), result.SessionID)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, result.Blob.Data, 0o600); err != nil {
		return fmt.Errorf("write debug audio %q: %w", path, err)
	}
	return nil
}

// IsInterrupted reports whether err came from caller cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
