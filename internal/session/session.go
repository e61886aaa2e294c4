// Package session owns the audio capture lifecycle: acquisition, the sampling
// event loop, stop decisions, and deterministic teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/vad"
)

var (
	// ErrSessionActive indicates a start was refused because another start is in flight.
	ErrSessionActive = errors.New("recording session already active")
	// ErrNotRecording indicates a stop was requested with no live recording.
	ErrNotRecording = errors.New("no recording in progress")
)

// Options tunes controller behavior beyond the VAD thresholds.
type Options struct {
	Constraints         audio.Constraints
	AnalysisWindow      int
	DiagnosticsInterval time.Duration
	// StallTimeout stops a recording when no frames arrive for this long.
	// Zero disables stall detection.
	StallTimeout time.Duration
}

// DefaultOptions returns the production controller options.
func DefaultOptions() Options {
	return Options{
		Constraints:         audio.DefaultConstraints(),
		AnalysisWindow:      audio.DefaultAnalysisWindow,
		DiagnosticsInterval: 500 * time.Millisecond,
		StallTimeout:        3 * time.Second,
	}
}

// Deps are the controller's injected collaborators. Nil fields fall back to
// no-op or production implementations.
type Deps struct {
	Logger    *slog.Logger
	Acquirer  audio.Acquirer
	Indicator Indicator
	Metrics   Metrics
	Clock     Clock
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     fsm.State
	SessionID string
	Profile   string
	Device    string
	Snapshot  vad.Snapshot
}

// Controller runs at most one recording session at a time.
type Controller struct {
	logger    *slog.Logger
	acquirer  audio.Acquirer
	indicator Indicator
	metrics   Metrics
	clock     Clock
	opts      Options

	// mu serializes Start and Cleanup.
	mu      sync.Mutex
	attempt *acquireAttempt
	active  *Recording

	stateMu sync.RWMutex
	state   fsm.State
	last    *Result
}

type acquireAttempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(deps Deps, opts Options) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Acquirer == nil {
		deps.Acquirer = audio.PulseAcquirer{}
	}
	if deps.Indicator == nil {
		deps.Indicator = noopIndicator{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if opts.AnalysisWindow <= 0 {
		opts.AnalysisWindow = audio.DefaultAnalysisWindow
	}
	if opts.Constraints.SampleRate <= 0 {
		opts.Constraints.SampleRate = audio.SampleRate
	}
	if opts.Constraints.Channels <= 0 {
		opts.Constraints.Channels = audio.Channels
	}

	return &Controller{
		logger:    deps.Logger,
		acquirer:  deps.Acquirer,
		indicator: deps.Indicator,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		opts:      opts,
		state:     fsm.StateIdle,
	}
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// Start tears down any prior session, acquires the input device, and begins
// recording under th. The recording lives until a stop condition, Stop,
// Cleanup, or cancellation of ctx.
func (c *Controller) Start(ctx context.Context, th vad.Thresholds) (*Recording, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cleanupLocked()
	if err := c.transition(fsm.EventAcquire); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrSessionActive, err)
	}
	acquireCtx, cancel := context.WithCancel(ctx)
	attempt := &acquireAttempt{cancel: cancel, done: make(chan struct{})}
	c.attempt = attempt
	c.mu.Unlock()

	c.logger.Debug("acquiring audio input", "profile", th.Name)
	stream, err := c.acquirer.Acquire(acquireCtx, c.opts.Constraints)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(attempt.done)
	if c.attempt == attempt {
		c.attempt = nil
	}
	abandoned := acquireCtx.Err() != nil
	cancel()

	if err == nil && abandoned {
		_ = stream.Close()
		err = context.Cause(acquireCtx)
	}
	if err != nil {
		_ = c.transition(fsm.EventFail)
		c.metrics.AcquireFailed(err)
		c.logger.Error("audio acquisition failed", "error", err.Error())
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.indicator.ShowError(ctx, audio.UserMessage(err))
		}
		return nil, err
	}

	if err := c.transition(fsm.EventAcquired); err != nil {
		_ = stream.Close()
		_ = c.transition(fsm.EventFail)
		return nil, err
	}

	rec := newRecording(ctx, c, stream, th)
	c.active = rec
	c.metrics.SessionStarted(th.Name)
	c.indicator.SetRecording(ctx, true)
	go rec.run()

	c.logger.Info("recording ready",
		"session_id", rec.ID,
		"profile", th.Name,
		"device", audio.DescribeDevice(stream.Device()),
	)
	return rec, nil
}

// Stop requests a manual stop of the live recording and waits for teardown.
func (c *Controller) Stop() (Result, error) {
	c.mu.Lock()
	rec := c.active
	c.mu.Unlock()

	if rec == nil || c.State() != fsm.StateRecording {
		return Result{}, ErrNotRecording
	}
	return rec.finalize(vad.ReasonManualStop), nil
}

// Cleanup force-tears down whatever is in flight: it cancels a pending
// acquisition or finalizes the live recording. It is safe from any state
// and leaves the controller Idle.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
}

// cleanupLocked requires c.mu. While an acquisition is pending it releases
// c.mu until Start has disposed of the attempt.
func (c *Controller) cleanupLocked() {
	for c.attempt != nil {
		attempt := c.attempt
		attempt.cancel()
		c.mu.Unlock()
		<-attempt.done
		c.mu.Lock()
	}

	if c.active != nil {
		c.active.finalize(vad.ReasonManualStop)
		c.active = nil
	}
}

// Active returns the live recording, or nil.
func (c *Controller) Active() *Recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	select {
	case <-c.active.done:
		return nil
	default:
		return c.active
	}
}

// Last returns the most recently finalized result.
func (c *Controller) Last() (Result, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

// Snapshot reports controller state plus live VAD state when recording.
func (c *Controller) Snapshot() Status {
	status := Status{State: c.State()}
	if rec := c.Active(); rec != nil {
		status.SessionID = rec.ID
		status.Profile = rec.Thresholds.Name
		status.Device = rec.Device
		status.Snapshot = rec.Snapshot()
	}
	return status
}

func (c *Controller) storeResult(result Result) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.last = &result
}
