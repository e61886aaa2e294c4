package config

import (
	"time"

	"github.com/rbright/hark/internal/audio"
)

// Constraints maps audio settings onto capture constraints.
func (c Config) Constraints() audio.Constraints {
	return audio.Constraints{
		Input:            c.Audio.Input,
		Fallback:         c.Audio.Fallback,
		SampleRate:       c.Audio.SampleRate,
		Channels:         c.Audio.Channels,
		EchoCancellation: c.Audio.EchoCancellation,
		NoiseSuppression: c.Audio.NoiseSuppression,
		AutoGainControl:  c.Audio.AutoGainControl,
	}
}

// StallTimeout is the frame-silence window that counts as device loss.
func (c Config) StallTimeout() time.Duration {
	return millis(c.Audio.StallTimeoutMS)
}

// DiagnosticsInterval is the cadence of audio-level debug logs.
func (c Config) DiagnosticsInterval() time.Duration {
	return millis(c.Diagnostics.IntervalMS)
}

// ServerTimeout bounds each backend request.
func (c Config) ServerTimeout() time.Duration {
	return millis(c.Server.TimeoutMS)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
