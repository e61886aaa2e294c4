// Package indicator publishes recording status to the process-wide status
// observable, on-screen notifications, and audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/hypr"
)

const (
	dispatchTimeout = 400 * time.Millisecond
	queueSize       = 32
	recordingTTL    = 300000
	endedTimeoutMS  = 3000
)

// Notifier drives the status observable and the configured notification
// backend. Every method returns immediately; notifications are dispatched in
// order by one worker goroutine and cues by another.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	status   *Status
	messages messages
	playCue  cuePlayer

	mu             sync.Mutex
	focusedMonitor string
	desktopID      uint32

	queueMu sync.RWMutex
	closed  bool
	jobs    chan func(context.Context)
	cues    chan cueKind
	wg      sync.WaitGroup
}

// NewNotifier starts a notifier. player is the argv used for cue files.
func NewNotifier(cfg config.IndicatorConfig, player []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	msg := messagesFor(cfg)
	n := &Notifier{
		cfg:      cfg,
		logger:   logger,
		status:   NewStatus(msg.texts()),
		messages: msg,
		playCue:  newCuePlayer(cfg, player),
		jobs:     make(chan func(context.Context), queueSize),
		cues:     make(chan cueKind, queueSize),
	}
	n.wg.Add(2)
	go n.dispatchLoop()
	go n.cueLoop()
	return n
}

// Status returns the observable this notifier publishes to.
func (n *Notifier) Status() *Status {
	return n.status
}

// SetRecording publishes a recording state change.
func (n *Notifier) SetRecording(_ context.Context, recording bool) {
	n.status.Set(recording)
	if recording {
		n.cue(cueStart)
		n.enqueue(func(ctx context.Context) error {
			n.ensureFocusedMonitor(ctx)
			return n.notify(ctx, hypr.IconInfo, recordingTTL, "rgb(89b4fa)", urgencyLow, n.messages.recording)
		})
		return
	}
	n.cue(cueStop)
	n.enqueue(n.dismiss)
}

// ShowError publishes a user-visible error message.
func (n *Notifier) ShowError(_ context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		text = n.messages.errorText
	}
	n.status.Fail(text)
	n.cue(cueError)
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.enqueue(func(ctx context.Context) error {
		return n.notify(ctx, hypr.IconError, timeout, "rgb(f38ba8)", urgencyCritical, text)
	})
}

// StopInterview marks the interview as finished at the backend's request.
func (n *Notifier) StopInterview(context.Context) error {
	n.status.End()
	n.cue(cueEnded)
	n.enqueue(func(ctx context.Context) error {
		return n.notify(ctx, hypr.IconOK, endedTimeoutMS, "rgb(a6e3a1)", urgencyNormal, n.messages.ended)
	})
	return nil
}

// FocusedMonitor returns the monitor captured when recording first began.
func (n *Notifier) FocusedMonitor() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.focusedMonitor
}

// Close drains queued notifications and cues, then stops the workers.
func (n *Notifier) Close() {
	n.queueMu.Lock()
	if n.closed {
		n.queueMu.Unlock()
		return
	}
	n.closed = true
	close(n.jobs)
	close(n.cues)
	n.queueMu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) enqueue(fn func(context.Context) error) {
	if !n.cfg.Enable {
		return
	}
	n.queueMu.RLock()
	defer n.queueMu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.jobs <- func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			n.log("indicator dispatch failed", err)
		}
	}:
	default:
		n.logger.Warn("indicator queue full; dropping notification")
	}
}

func (n *Notifier) cue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	n.queueMu.RLock()
	defer n.queueMu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.cues <- kind:
	default:
		n.logger.Warn("indicator cue queue full; dropping cue", "cue", kind.String())
	}
}

func (n *Notifier) dispatchLoop() {
	defer n.wg.Done()
	for job := range n.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		job(ctx)
		cancel()
	}
}

func (n *Notifier) cueLoop() {
	defer n.wg.Done()
	for kind := range n.cues {
		if err := n.playCue(context.Background(), kind); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}
}

func (n *Notifier) ensureFocusedMonitor(ctx context.Context) {
	if n.desktopBackend() || n.FocusedMonitor() != "" {
		return
	}
	monitor, err := hypr.QueryFocusedMonitor(ctx)
	if err != nil {
		n.log("indicator focused monitor query failed", err)
		return
	}
	n.mu.Lock()
	n.focusedMonitor = monitor
	n.mu.Unlock()
}

func (n *Notifier) desktopBackend() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

func (n *Notifier) notify(ctx context.Context, icon int, timeoutMS int, color string, urgency int, text string) error {
	if !n.desktopBackend() {
		return hypr.Notify(ctx, icon, timeoutMS, color, text)
	}

	n.mu.Lock()
	replaceID := n.desktopID
	n.mu.Unlock()

	id, err := desktopNotify(ctx, n.cfg.DesktopAppName, replaceID, text, urgency, timeoutMS)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.desktopID = id
	n.mu.Unlock()
	return nil
}

func (n *Notifier) dismiss(ctx context.Context) error {
	if !n.desktopBackend() {
		return hypr.DismissNotify(ctx)
	}

	n.mu.Lock()
	id := n.desktopID
	n.desktopID = 0
	n.mu.Unlock()
	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

func (n *Notifier) log(message string, err error) {
	if err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}
