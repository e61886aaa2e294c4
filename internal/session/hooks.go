package session

import (
	"context"
	"time"

	"github.com/rbright/hark/internal/vad"
)

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	SetRecording(ctx context.Context, recording bool)
	ShowError(ctx context.Context, message string)
}

// Metrics receives lifecycle observations.
type Metrics interface {
	SessionStarted(profile string)
	SessionStopped(reason vad.Reason, elapsed time.Duration)
	AcquireFailed(err error)
	TeardownFailed(step string)
	ObserveAmplitude(amplitude float64)
}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) SetRecording(context.Context, bool) {}
func (noopIndicator) ShowError(context.Context, string)  {}

type noopMetrics struct{}

func (noopMetrics) SessionStarted(string)                    {}
func (noopMetrics) SessionStopped(vad.Reason, time.Duration) {}
func (noopMetrics) AcquireFailed(error)                      {}
func (noopMetrics) TeardownFailed(string)                    {}
func (noopMetrics) ObserveAmplitude(float64)                 {}
