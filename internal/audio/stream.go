// Package audio handles device discovery, acquisition, analysis, recording,
// and PCM playback.
package audio

import "context"

const (
	// SampleRate is the capture rate the transcription backend expects.
	SampleRate = 16000
	// Channels is the capture channel count.
	Channels = 1
)

// Constraints describes the requested capture device and processing.
type Constraints struct {
	Input            string
	Fallback         string
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints requests the default source with voice processing on.
func DefaultConstraints() Constraints {
	return Constraints{
		Input:            "default",
		Fallback:         "default",
		SampleRate:       SampleRate,
		Channels:         Channels,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Stream is one live capture handle.
//
// Frames is closed once the stream stops, whether by Close or device loss.
// Close is idempotent.
type Stream interface {
	Device() Device
	Frames() <-chan []int16
	Close() error
}

// Acquirer opens capture streams.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// AcquirerFunc adapts a function to the Acquirer interface.
type AcquirerFunc func(context.Context, Constraints) (Stream, error)

func (f AcquirerFunc) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	return f(ctx, c)
}

// DescribeDevice formats device metadata for logs and results.
func DescribeDevice(device Device) string {
	if device.Description == "" {
		return device.ID
	}
	if device.ID == "" {
		return device.Description
	}
	return device.Description + " (" + device.ID + ")"
}
