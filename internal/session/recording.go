package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/vad"
)

// drainTimeout bounds how long teardown waits for a closed stream to
// close its frames channel.
const drainTimeout = 2 * time.Second

// Result is the outcome of one finalized recording.
type Result struct {
	SessionID      string
	Profile        string
	Device         string
	Reason         vad.Reason
	Err            error
	Blob           audio.Blob
	SpeechDetected bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Elapsed is the wall-clock recording length.
func (r Result) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Recording is one live capture session. All of its resources are owned by
// a single event-loop goroutine; other goroutines only request a stop.
type Recording struct {
	ID         string
	Device     string
	Thresholds vad.Thresholds
	StartedAt  time.Time

	ctrl     *Controller
	ctx      context.Context
	stream   audio.Stream
	analyser *audio.Analyser
	recorder *audio.Recorder
	policy   *vad.Policy

	stopCh chan vad.Reason
	done   chan struct{}

	mu       sync.RWMutex
	snapshot vad.Snapshot
	result   Result
}

func newRecording(ctx context.Context, c *Controller, stream audio.Stream, th vad.Thresholds) *Recording {
	startedAt := c.clock.Now()
	return &Recording{
		ID:         uuid.NewString(),
		Device:     audio.DescribeDevice(stream.Device()),
		Thresholds: th,
		StartedAt:  startedAt,
		ctrl:       c,
		ctx:        ctx,
		stream:     stream,
		analyser:   audio.NewAnalyser(c.opts.AnalysisWindow),
		recorder:   audio.NewRecorder(c.opts.Constraints.SampleRate),
		policy:     vad.NewPolicy(th, startedAt),
		stopCh:     make(chan vad.Reason, 1),
		done:       make(chan struct{}),
	}
}

// Done is closed once teardown has completed.
func (r *Recording) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the recording finalizes or ctx is cancelled. Cancelling
// ctx does not stop the recording.
func (r *Recording) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the final result; it is zero until Done is closed.
func (r *Recording) Result() Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

// Snapshot returns the latest VAD state observed by the event loop.
func (r *Recording) Snapshot() vad.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// finalize requests a stop and waits for teardown. Repeated calls return the
// first result.
func (r *Recording) finalize(reason vad.Reason) Result {
	select {
	case r.stopCh <- reason:
	default:
	}
	<-r.done
	return r.Result()
}

// run is the session event loop. At most one iteration runs at a time and
// teardown happens here, so nothing samples or logs after it.
func (r *Recording) run() {
	defer close(r.done)

	clock := r.ctrl.clock
	logger := r.ctrl.logger.With("session_id", r.ID)

	sampler := clock.NewTicker(r.Thresholds.SampleInterval)
	defer sampler.Stop()
	deadline := clock.NewTimer(r.Thresholds.MaxRecording)
	defer deadline.Stop()

	var diagnostics <-chan time.Time
	if r.ctrl.opts.DiagnosticsInterval > 0 {
		ticker := clock.NewTicker(r.ctrl.opts.DiagnosticsInterval)
		defer ticker.Stop()
		diagnostics = ticker.C()
	}

	frames := r.stream.Frames()
	lastFrame := r.StartedAt
	stall := r.ctrl.opts.StallTimeout

	for {
		select {
		case reason := <-r.stopCh:
			logger.Info("stopping recording", "reason", string(reason))
			r.teardown(logger, reason, nil)
			return

		case <-r.ctx.Done():
			logger.Info("stopping recording", "reason", string(vad.ReasonManualStop), "cause", r.ctx.Err().Error())
			r.teardown(logger, vad.ReasonManualStop, nil)
			return

		case samples, ok := <-frames:
			if !ok {
				err := fmt.Errorf("%w: capture stream ended", audio.ErrDeviceUnavailable)
				logger.Error("audio input lost", "error", err.Error())
				r.teardown(logger, vad.ReasonError, err)
				return
			}
			r.analyser.Write(samples)
			r.recorder.Write(samples)
			lastFrame = clock.Now()

		case now := <-sampler.C():
			if stall > 0 && now.Sub(lastFrame) >= stall {
				err := fmt.Errorf("%w: no audio frames for %s", audio.ErrDeviceUnavailable, stall)
				logger.Error("audio input stalled", "error", err.Error())
				r.teardown(logger, vad.ReasonError, err)
				return
			}

			amplitude := r.analyser.Amplitude()
			decision := r.policy.Observe(amplitude, now)
			snapshot := r.policy.Snapshot(now)
			r.mu.Lock()
			r.snapshot = snapshot
			r.mu.Unlock()
			r.ctrl.metrics.ObserveAmplitude(amplitude)

			switch decision.Transition {
			case vad.TransitionSpeechDetected:
				logger.Info("speech detected", "elapsed", snapshot.Elapsed.Seconds(), "amplitude", amplitude)
			case vad.TransitionSilenceStarted:
				logger.Info("silence started", "elapsed", snapshot.Elapsed.Seconds(), "amplitude", amplitude)
			}

			if decision.Stop {
				switch decision.Reason {
				case vad.ReasonSilence:
					logger.Info("stopping due to silence",
						"elapsed", snapshot.Elapsed.Seconds(),
						"silence_duration", snapshot.SilenceDuration.Seconds(),
					)
				case vad.ReasonMaxDuration:
					logger.Info("stopping due to maximum duration", "elapsed", snapshot.Elapsed.Seconds())
				}
				r.teardown(logger, decision.Reason, nil)
				return
			}

		case now := <-deadline.C():
			// A silence stop due on the same instant takes precedence.
			reason := vad.ReasonMaxDuration
			if decision := r.policy.Observe(r.analyser.Amplitude(), now); decision.Stop && decision.Reason == vad.ReasonSilence {
				reason = vad.ReasonSilence
				logger.Info("stopping due to silence", "elapsed", now.Sub(r.StartedAt).Seconds())
			} else {
				logger.Info("stopping due to maximum duration", "elapsed", r.Thresholds.MaxRecording.Seconds())
			}
			r.teardown(logger, reason, nil)
			return

		case <-diagnostics:
			snapshot := r.Snapshot()
			logger.Debug("audio level",
				"amplitude", snapshot.Amplitude,
				"level", string(snapshot.Level),
				"speech_detected", snapshot.SpeechDetected,
				"silence_duration", snapshot.SilenceDuration.Seconds(),
				"elapsed", snapshot.Elapsed.Seconds(),
			)
		}
	}
}

// teardown releases every session resource. Each step is independent; a
// failing step is logged and the rest still run.
func (r *Recording) teardown(logger *slog.Logger, reason vad.Reason, cause error) {
	ctrl := r.ctrl
	event := fsm.EventStop
	if reason == vad.ReasonError {
		event = fsm.EventFail
	}
	_ = ctrl.transition(event)

	r.step(logger, "stream", r.stream.Close)
	r.step(logger, "drain", func() error {
		return r.drain(r.stream.Frames())
	})
	var blob audio.Blob
	r.step(logger, "recorder", func() error {
		blob = r.recorder.Stop()
		return nil
	})
	r.step(logger, "analyser", r.analyser.Close)
	r.step(logger, "indicator", func() error {
		ctrl.indicator.SetRecording(context.WithoutCancel(r.ctx), false)
		if cause != nil {
			ctrl.indicator.ShowError(context.WithoutCancel(r.ctx), audio.UserMessage(cause))
		}
		return nil
	})

	finishedAt := ctrl.clock.Now()
	snapshot := r.policy.Snapshot(finishedAt)
	r.mu.Lock()
	r.snapshot = snapshot
	r.result = Result{
		SessionID:      r.ID,
		Profile:        r.Thresholds.Name,
		Device:         r.Device,
		Reason:         reason,
		Err:            cause,
		Blob:           blob,
		SpeechDetected: snapshot.SpeechDetected,
		StartedAt:      r.StartedAt,
		FinishedAt:     finishedAt,
	}
	result := r.result
	r.mu.Unlock()

	ctrl.storeResult(result)
	ctrl.metrics.SessionStopped(reason, result.Elapsed())
	_ = ctrl.transition(fsm.EventReleased)

	logger.Info("session finalized",
		"reason", string(reason),
		"elapsed", result.Elapsed().Seconds(),
		"speech_detected", result.SpeechDetected,
		"audio_seconds", blob.Duration.Seconds(),
	)
}

// drain moves frames still queued after Close into the recorder, including
// the residual partial frame a capture flushes on close.
func (r *Recording) drain(frames <-chan []int16) error {
	bound := time.NewTimer(drainTimeout)
	defer bound.Stop()
	for {
		select {
		case samples, ok := <-frames:
			if !ok {
				return nil
			}
			r.recorder.Write(samples)
		case <-bound.C:
			return fmt.Errorf("capture frames still open after %s", drainTimeout)
		}
	}
}

// step runs one teardown action, absorbing errors and panics.
func (r *Recording) step(logger *slog.Logger, name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.ctrl.metrics.TeardownFailed(name)
			logger.Warn("teardown step panicked", "step", name, "panic", fmt.Sprint(p))
		}
	}()
	if err := fn(); err != nil {
		r.ctrl.metrics.TeardownFailed(name)
		logger.Warn("teardown step failed", "step", name, "error", err.Error())
	}
}
