package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/vad"
)

type harness struct {
	ctrl      *Controller
	clock     *fakeClock
	acquirer  *fakeAcquirer
	indicator *fakeIndicator
	metrics   *fakeMetrics
	logs      *lockedBuffer
}

func newHarness(t *testing.T, configure func(*fakeAcquirer, *Options)) *harness {
	t.Helper()

	h := &harness{
		clock:     newFakeClock(),
		acquirer:  &fakeAcquirer{},
		indicator: &fakeIndicator{},
		metrics:   &fakeMetrics{},
		logs:      &lockedBuffer{},
	}
	opts := DefaultOptions()
	opts.DiagnosticsInterval = 0
	opts.StallTimeout = 0
	if configure != nil {
		configure(h.acquirer, &opts)
	}

	h.ctrl = NewController(Deps{
		Logger:    slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Acquirer:  h.acquirer,
		Indicator: h.indicator,
		Metrics:   h.metrics,
		Clock:     h.clock,
	}, opts)
	t.Cleanup(h.ctrl.Cleanup)
	return h
}

func waitDone(t *testing.T, rec *Recording) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), fakeWait)
	defer cancel()
	result, err := rec.Wait(ctx)
	require.NoError(t, err, "recording did not finalize")
	return result
}

func requireRunning(t *testing.T, rec *Recording) {
	t.Helper()
	select {
	case <-rec.Done():
		t.Fatalf("recording stopped early: %+v", rec.Result())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStartAcquiresWithVoiceProcessingConstraints(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := h.ctrl.Start(context.Background(), vad.Interactive())
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, "Test Mic (alsa_input.test)", rec.Device)
	require.Equal(t, fsm.StateRecording, h.ctrl.State())

	c := h.acquirer.constraints[0]
	require.Equal(t, 16000, c.SampleRate)
	require.Equal(t, 1, c.Channels)
	require.True(t, c.EchoCancellation)
	require.True(t, c.NoiseSuppression)
	require.True(t, c.AutoGainControl)
	require.Equal(t, []bool{true}, h.indicator.states())
}

func TestStopIsManualAndReleasesEverything(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := h.ctrl.Start(context.Background(), vad.Interactive())
	require.NoError(t, err)
	stream := h.acquirer.stream(t, 0)
	stream.push(t, make([]int16, 8000))

	result, err := h.ctrl.Stop()
	require.NoError(t, err)
	require.Equal(t, vad.ReasonManualStop, result.Reason)
	require.NoError(t, result.Err)
	require.Equal(t, rec.ID, result.SessionID)
	require.Equal(t, 500*time.Millisecond, result.Blob.Duration)
	require.Equal(t, audio.BlobMIMEType, result.Blob.MIMEType)

	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.True(t, stream.closed())
	require.Zero(t, h.acquirer.open.Load())
	require.Equal(t, []bool{true, false}, h.indicator.states())
	require.True(t, h.clock.ticker(t, vad.Interactive().SampleInterval).stopped.Load())
	require.True(t, h.clock.timer(t, vad.Interactive().MaxRecording).stopped.Load())

	last, ok := h.ctrl.Last()
	require.True(t, ok)
	require.Equal(t, result.SessionID, last.SessionID)

	_, err = h.ctrl.Stop()
	require.ErrorIs(t, err, ErrNotRecording)
}

func TestCleanupIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Cleanup()
	h.ctrl.Cleanup()
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	rec, err := h.ctrl.Start(context.Background(), vad.Interactive())
	require.NoError(t, err)

	h.ctrl.Cleanup()
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	h.ctrl.Cleanup()
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	result := waitDone(t, rec)
	require.Equal(t, vad.ReasonManualStop, result.Reason)
	require.Equal(t, 1, int(h.acquirer.stream(t, 0).closes.Load()))
	require.Equal(t, []bool{true, false}, h.indicator.states())
}

func TestStartTearsDownPriorSessionFirst(t *testing.T) {
	acquirer := &fakeAcquirer{}
	opts := DefaultOptions()
	opts.DiagnosticsInterval = 0
	opts.StallTimeout = 0
	ctrl := NewController(Deps{Acquirer: acquirer}, opts)
	t.Cleanup(ctrl.Cleanup)

	first, err := ctrl.Start(context.Background(), vad.Interactive())
	require.NoError(t, err)
	second, err := ctrl.Start(context.Background(), vad.Original())
	require.NoError(t, err)

	select {
	case <-first.Done():
	default:
		t.Fatal("first session still active after second start")
	}
	require.Equal(t, vad.ReasonManualStop, first.Result().Reason)
	require.True(t, acquirer.stream(t, 0).closed())
	require.Equal(t, int32(1), acquirer.maxOpen.Load())
	require.Equal(t, second, ctrl.Active())
	require.Equal(t, vad.ProfileOriginal, ctrl.Snapshot().Profile)
}

func TestSilenceStopAfterSpeech(t *testing.T) {
	h := newHarness(t, nil)
	th := vad.Interactive()

	rec, err := h.ctrl.Start(context.Background(), th)
	require.NoError(t, err)
	stream := h.acquirer.stream(t, 0)
	sampler := h.clock.ticker(t, th.SampleInterval)

	stream.push(t, constFrame(0.15))
	require.True(t, h.clock.tick(sampler, 0))
	stream.push(t, constFrame(0.15))
	require.True(t, h.clock.tick(sampler, time.Second))
	stream.push(t, constFrame(0.005))
	require.True(t, h.clock.tick(sampler, 2*time.Second))

	require.Eventually(t, func() bool { return rec.Snapshot().SilenceStarted }, fakeWait, time.Millisecond)
	snapshot := rec.Snapshot()
	require.True(t, snapshot.SpeechDetected)
	require.Zero(t, snapshot.SilenceDuration)
	requireRunning(t, rec)

	require.True(t, h.clock.tick(sampler, 3300*time.Millisecond))
	result := waitDone(t, rec)
	require.Equal(t, vad.ReasonSilence, result.Reason)
	require.True(t, result.SpeechDetected)
	require.Equal(t, 3300*time.Millisecond, result.Elapsed())
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	logs := h.logs.lines()
	require.Contains(t, joinMessages(t, logs), "speech detected|")
	require.Contains(t, joinMessages(t, logs), "silence started|")
	require.Contains(t, joinMessages(t, logs), "stopping due to silence|")
}

func TestSilenceWithoutSpeechNeverStopsEarly(t *testing.T) {
	h := newHarness(t, nil)
	th := vad.Interactive()

	rec, err := h.ctrl.Start(context.Background(), th)
	require.NoError(t, err)
	stream := h.acquirer.stream(t, 0)
	sampler := h.clock.ticker(t, th.SampleInterval)

	stream.push(t, constFrame(0.005))
	for s := 0; s < 10; s++ {
		require.True(t, h.clock.tick(sampler, time.Duration(s)*time.Second))
	}
	requireRunning(t, rec)
}

func TestMaxDurationByTicks(t *testing.T) {
	h := newHarness(t, nil)
	th := vad.Original()

	rec, err := h.ctrl.Start(context.Background(), th)
	require.NoError(t, err)
	sampler := h.clock.ticker(t, th.SampleInterval)

	h.acquirer.stream(t, 0).push(t, constFrame(0.005))
	require.True(t, h.clock.tick(sampler, 30*time.Second))
	requireRunning(t, rec)
	require.True(t, h.clock.tick(sampler, 60*time.Second))

	result := waitDone(t, rec)
	require.Equal(t, vad.ReasonMaxDuration, result.Reason)
	require.False(t, result.SpeechDetected)
}

func TestMaxDurationDeadlineTimer(t *testing.T) {
	h := newHarness(t, nil)
	th := vad.Interactive()

	rec, err := h.ctrl.Start(context.Background(), th)
	require.NoError(t, err)

	h.clock.set(h.clock.at(th.MaxRecording))
	require.True(t, h.clock.timer(t, th.MaxRecording).fire(h.clock.Now()))

	result := waitDone(t, rec)
	require.Equal(t, vad.ReasonMaxDuration, result.Reason)
	require.False(t, result.SpeechDetected)
	require.Equal(t, []vad.Reason{vad.ReasonMaxDuration}, h.metrics.stopped)
}

func TestDeadlineDefersToDueSilenceStop(t *testing.T) {
	h := newHarness(t, nil)
	th := vad.Interactive()

	rec, err := h.ctrl.Start(context.Background(), th)
	require.NoError(t, err)
	stream := h.acquirer.stream(t, 0)
	sampler := h.clock.ticker(t, th.SampleInterval)

	stream.push(t, constFrame(0.15))
	require.True(t, h.clock.tick(sampler, th.MaxRecording-th.MaxSilence-time.Second))
	stream.push(t, constFrame(0.005))
	require.True(t, h.clock.tick(sampler, th.MaxRecording-th.MaxSilence))
	requireRunning(t, rec)

	h.clock.set(h.clock.at(th.MaxRecording))
	require.True(t, h.clock.timer(t, th.MaxRecording).fire(h.clock.Now()))

	result := waitDone(t, rec)
	require.Equal(t, vad.ReasonSilence, result.Reason)
	require.True(t, result.SpeechDetected)
}

func TestStopFlushesQueuedAndResidualFrames(t *testing.T) {
	h := newHarness(t, func(a *fakeAcquirer, _ *Options) {
		a.residual = make([]int16, 4000)
	})

	_, err := h.ctrl.Start(context.Background(), vad.Interactive())
	require.NoError(t, err)
	h.acquirer.stream(t, 0).push(t, make([]int16, 8000))

	result, err := h.ctrl.Stop()
	require.NoError(t, err)
	require.Equal(t, vad.ReasonManualStop, result.Reason)
	require.Equal(t, 750*time.Millisecond, result.Blob.Duration)
	require.Empty(t, h.metrics.teardownSteps())
}

func TestPermissionDeniedReturnsToIdle(t *testing.T) {
	h := newHarness(t, func(a *fakeAcquirer, _ *Options) {
		a.err = fmt.Errorf("open source: %w", audio.ErrPermissionDenied)
	})

	rec, err := h.ctrl.Start(context.Background(), vad.Interactive())
	require.Nil(t, rec)
	require.ErrorIs(t, err, audio.ErrPermissionDenied)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Len(t, h.metrics.acquire, 1)
	require.Empty(t, h.indicator.states())

	messages := h.indicator.errorMessages()
	require.Len(t, messages, 1)
	require.Contains(t, messages[0], "Microphone access was denied")
}

func TestDeviceUnavailableReturnsToIdle(t *testing.T) {
	h := newHarness(t, func(a *fakeAcquirer, _ *Options) {
		a.err = audio.ErrDeviceUnavailable
	})

	_, err := h.ctrl.Start(context.Background(), vad.Interactive())
	require.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestDeviceLossMidSessionStopsWithError(t *testing.T) {
	h := newHarness(t, nil)

	rec, err := h.ctrl.Start(context.Background(), vad.Interactive())
	require.NoError(t, err)
	stream := h.acquirer.stream(t, 0)
	stream.push(t, constFrame(0.2))
	stream.lose()

	result := waitDone(t, rec)
	require.Equal(t, vad.ReasonError, result.Reason)
	require.ErrorIs(t, result.Err, audio.ErrDeviceUnavailable)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Zero(t, h.acquirer.open.Load())
	require.Equal(t, []bool{true, false}, h.indicator.states())
	require.NotEmpty(t, h.indicator.errorMessages())
}

func TestStalledStreamStopsWithError(t *testing.T) {
	h := newHarness(t, func(_ *fakeAcquirer, o *Options) {
		o.StallTimeout = 3 * time.Second
	})
	th := vad.Original()

	rec, err := h.ctrl.Start(context.Background(), th)
	require.NoError(t, err)
	sampler := h.clock.ticker(t, th.SampleInterval)

	h.acquirer.stream(t, 0).push(t, constFrame(0.2))
	require.True(t, h.clock.tick(sampler, 2*time.Second))
	requireRunning(t, rec)
	require.True(t, h.clock.tick(sampler, 3*time.Second))

	result := waitDone(t, rec)
	require.Equal(t, vad.ReasonError, result.Reason)
	require.ErrorIs(t, result.Err, audio.ErrDeviceUnavailable)
}

func TestCleanupDuringAcquisitionCancelsIt(t *testing.T) {
	h := newHarness(t, func(a *fakeAcquirer, _ *Options) {
		a.block = true
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Start(context.Background(), vad.Interactive())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return h.ctrl.State() == fsm.StateAcquiring }, fakeWait, time.Millisecond)
	h.ctrl.Cleanup()
	require.Equal(t, fsm.StateIdle, h.ctrl.State())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(fakeWait):
		t.Fatal("start did not return after cleanup")
	}
	require.Empty(t, h.indicator.errorMessages())
}

func TestStartDuringAcquisitionWaitsForPriorAttempt(t *testing.T) {
	h := newHarness(t, func(a *fakeAcquirer, _ *Options) {
		a.block = true
	})

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Start(context.Background(), vad.Interactive())
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return h.acquirer.callCount() == 1 }, fakeWait, time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Start(context.Background(), vad.Interactive())
		secondErr <- err
	}()

	require.ErrorIs(t, <-firstErr, context.Canceled)
	require.Eventually(t, func() bool { return h.acquirer.callCount() == 2 }, fakeWait, time.Millisecond)
	require.Equal(t, fsm.StateAcquiring, h.ctrl.State())

	h.ctrl.Cleanup()
	require.ErrorIs(t, <-secondErr, context.Canceled)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestContextCancellationStopsRecording(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	rec, err := h.ctrl.Start(ctx, vad.Interactive())
	require.NoError(t, err)
	cancel()

	result := waitDone(t, rec)
	require.Equal(t, vad.ReasonManualStop, result.Reason)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestTeardownContinuesPastFailingSteps(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*fakeAcquirer)
	}{
		{name: "close error", configure: func(a *fakeAcquirer) { a.closeErr = errors.New("track stop failed") }},
		{name: "close panic", configure: func(a *fakeAcquirer) { a.panicOnClose = true }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, func(a *fakeAcquirer, _ *Options) { tc.configure(a) })

			_, err := h.ctrl.Start(context.Background(), vad.Interactive())
			require.NoError(t, err)

			result, err := h.ctrl.Stop()
			require.NoError(t, err)
			require.Equal(t, vad.ReasonManualStop, result.Reason)
			require.Equal(t, fsm.StateIdle, h.ctrl.State())
			require.Equal(t, []string{"stream"}, h.metrics.teardownSteps())
			require.Equal(t, []bool{true, false}, h.indicator.states())
			require.Contains(t, joinMessages(t, h.logs.lines()), "teardown step")
		})
	}
}

func TestDiagnosticsStopWithTeardown(t *testing.T) {
	h := newHarness(t, func(_ *fakeAcquirer, o *Options) {
		o.DiagnosticsInterval = 250 * time.Millisecond
	})

	rec, err := h.ctrl.Start(context.Background(), vad.Original())
	require.NoError(t, err)
	diagnostics := h.clock.ticker(t, 250*time.Millisecond)
	require.True(t, h.clock.tick(diagnostics, 250*time.Millisecond))
	require.Eventually(t, func() bool {
		return containsMessage(t, h.logs.lines(), "audio level")
	}, fakeWait, time.Millisecond)

	_, err = h.ctrl.Stop()
	require.NoError(t, err)
	require.True(t, diagnostics.stopped.Load())

	before := h.logs.lines()
	require.False(t, h.clock.tick(diagnostics, 500*time.Millisecond))
	after := h.logs.lines()
	require.Equal(t, before, after)

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(after[len(after)-1]), &last))
	require.Equal(t, "session finalized", last["msg"])
	require.Equal(t, rec.ID, last["session_id"])
}

func TestStartRejectsInvalidThresholds(t *testing.T) {
	h := newHarness(t, nil)
	th := vad.Interactive()
	th.SilenceThreshold = 0.5

	_, err := h.ctrl.Start(context.Background(), th)
	require.Error(t, err)
	require.Zero(t, h.acquirer.callCount())
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
}

func TestHandleCommands(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	status := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateIdle), status.State)

	stop := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandStop})
	require.False(t, stop.OK)
	require.Contains(t, stop.Error, "no recording in progress")

	unknown := h.ctrl.Handle(ctx, ipc.Request{Command: "definitely-unknown"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")

	rec, err := h.ctrl.Start(ctx, vad.Interactive())
	require.NoError(t, err)

	status = h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandStatus})
	require.Equal(t, string(fsm.StateRecording), status.State)
	require.Equal(t, rec.ID, status.Session)

	stop = h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandStop})
	require.True(t, stop.OK)
	require.Equal(t, string(vad.ReasonManualStop), stop.Reason)
	require.Equal(t, string(fsm.StateIdle), stop.State)

	cleanup := h.ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandCleanup})
	require.True(t, cleanup.OK)
	require.Equal(t, string(fsm.StateIdle), cleanup.State)
}

func joinMessages(t *testing.T, lines []string) string {
	t.Helper()
	out := ""
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out += fmt.Sprint(entry["msg"]) + "|"
	}
	return out
}

func containsMessage(t *testing.T, lines []string, msg string) bool {
	t.Helper()
	for _, line := range lines {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) == nil && entry["msg"] == msg {
			return true
		}
	}
	return false
}
