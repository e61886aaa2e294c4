package session

import (
	"bytes"
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/vad"
)

const fakeWait = 2 * time.Second

type fakeClock struct {
	mu      sync.Mutex
	start   time.Time
	now     time.Time
	tickers map[time.Duration]*fakeTicker
	timers  map[time.Duration]*fakeTimer
}

func newFakeClock() *fakeClock {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &fakeClock{
		start:   start,
		now:     start,
		tickers: map[time.Duration]*fakeTicker{},
		timers:  map[time.Duration]*fakeTimer{},
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers[d] = t
	return t
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{ch: make(chan time.Time)}
	c.timers[d] = t
	return t
}

func (c *fakeClock) at(offset time.Duration) time.Time {
	return c.start.Add(offset)
}

func (c *fakeClock) set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) ticker(t *testing.T, d time.Duration) *fakeTicker {
	t.Helper()
	var found *fakeTicker
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		found = c.tickers[d]
		return found != nil
	}, fakeWait, time.Millisecond)
	return found
}

func (c *fakeClock) timer(t *testing.T, d time.Duration) *fakeTimer {
	t.Helper()
	var found *fakeTimer
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		found = c.timers[d]
		return found != nil
	}, fakeWait, time.Millisecond)
	return found
}

// tick advances the clock to offset and delivers one tick. It reports
// whether the event loop received it.
func (c *fakeClock) tick(tk *fakeTicker, offset time.Duration) bool {
	now := c.at(offset)
	c.set(now)
	select {
	case tk.ch <- now:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type fakeTimer struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }
func (t *fakeTimer) Stop() bool          { return !t.stopped.Swap(true) }

func (t *fakeTimer) fire(now time.Time) bool {
	select {
	case t.ch <- now:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

type fakeAcquirer struct {
	err   error
	block bool

	mu          sync.Mutex
	calls       int
	constraints []audio.Constraints
	streams     []*fakeStream

	closeErr     error
	panicOnClose bool
	// residual is flushed into Frames by Close, like a capture's partial frame.
	residual []int16

	open    atomic.Int32
	maxOpen atomic.Int32
}

func (a *fakeAcquirer) Acquire(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	a.mu.Lock()
	a.calls++
	a.constraints = append(a.constraints, c)
	a.mu.Unlock()

	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.err != nil {
		return nil, a.err
	}

	frames := make(chan []int16)
	if a.residual != nil {
		frames = make(chan []int16, 2)
	}
	s := &fakeStream{
		parent:       a,
		device:       audio.Device{ID: "alsa_input.test", Description: "Test Mic"},
		frames:       frames,
		closeErr:     a.closeErr,
		panicOnClose: a.panicOnClose,
		residual:     a.residual,
	}
	open := a.open.Add(1)
	for {
		peak := a.maxOpen.Load()
		if open <= peak || a.maxOpen.CompareAndSwap(peak, open) {
			break
		}
	}

	a.mu.Lock()
	a.streams = append(a.streams, s)
	a.mu.Unlock()
	return s, nil
}

func (a *fakeAcquirer) stream(t *testing.T, i int) *fakeStream {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.Greater(t, len(a.streams), i)
	return a.streams[i]
}

func (a *fakeAcquirer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeStream struct {
	parent *fakeAcquirer
	device audio.Device
	frames chan []int16

	closeErr     error
	panicOnClose bool
	residual     []int16

	openOnce  sync.Once
	frameOnce sync.Once
	closes    atomic.Int32
}

func (s *fakeStream) Device() audio.Device   { return s.device }
func (s *fakeStream) Frames() <-chan []int16 { return s.frames }

func (s *fakeStream) Close() error {
	if s.closes.Add(1) == 1 && s.residual != nil {
		select {
		case s.frames <- s.residual:
		default:
		}
	}
	s.release()
	if s.panicOnClose {
		panic("track stop exploded")
	}
	return s.closeErr
}

func (s *fakeStream) release() {
	s.openOnce.Do(func() { s.parent.open.Add(-1) })
	s.lose()
}

// lose simulates the device disappearing mid-session.
func (s *fakeStream) lose() {
	s.frameOnce.Do(func() { close(s.frames) })
}

func (s *fakeStream) push(t *testing.T, frame []int16) {
	t.Helper()
	select {
	case s.frames <- frame:
	case <-time.After(fakeWait):
		t.Fatal("event loop did not accept frame")
	}
}

func (s *fakeStream) closed() bool {
	return s.closes.Load() > 0
}

// constFrame builds a window-filling frame whose RMS is amplitude.
func constFrame(amplitude float64) []int16 {
	frame := make([]int16, audio.DefaultAnalysisWindow)
	v := int16(math.Round(amplitude * 32768))
	for i := range frame {
		frame[i] = v
	}
	return frame
}

type fakeIndicator struct {
	mu        sync.Mutex
	recording []bool
	errors    []string
}

func (f *fakeIndicator) SetRecording(_ context.Context, recording bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = append(f.recording, recording)
}

func (f *fakeIndicator) ShowError(_ context.Context, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, message)
}

func (f *fakeIndicator) states() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.recording...)
}

func (f *fakeIndicator) errorMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}

type fakeMetrics struct {
	mu        sync.Mutex
	started   []string
	stopped   []vad.Reason
	acquire   []error
	teardown  []string
	amplitude []float64
}

func (m *fakeMetrics) SessionStarted(profile string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, profile)
}

func (m *fakeMetrics) SessionStopped(reason vad.Reason, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, reason)
}

func (m *fakeMetrics) AcquireFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquire = append(m.acquire, err)
}

func (m *fakeMetrics) TeardownFailed(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown = append(m.teardown, step)
}

func (m *fakeMetrics) ObserveAmplitude(amplitude float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.amplitude = append(m.amplitude, amplitude)
}

func (m *fakeMetrics) teardownSteps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.teardown...)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw := bytes.Split(bytes.TrimSpace(b.buf.Bytes()), []byte("\n"))
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if len(line) > 0 {
			out = append(out, string(line))
		}
	}
	return out
}
