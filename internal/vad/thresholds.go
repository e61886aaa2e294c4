// Package vad turns a stream of RMS amplitude samples into speech/silence
// state and a recording stop decision.
package vad

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	ProfileInteractive = "interactive"
	ProfileOriginal    = "original"
)

// Thresholds is one immutable policy configuration.
//
// Amplitudes are unit-less RMS values over [-1, 1] samples. Speech compares
// with >= and silence with <, which leaves a hysteresis band between them.
type Thresholds struct {
	Name string

	SilenceThreshold float64
	NoiseThreshold   float64
	SpeechThreshold  float64

	MinRecording time.Duration
	MaxRecording time.Duration
	MaxSilence   time.Duration
	MinSpeech    time.Duration

	// SampleInterval is the cadence of the session event loop.
	SampleInterval time.Duration
}

// Interactive samples at display-frame rate and cuts off after 1.3s of silence.
func Interactive() Thresholds {
	return Thresholds{
		Name:             ProfileInteractive,
		SilenceThreshold: 0.01,
		NoiseThreshold:   0.02,
		SpeechThreshold:  0.1,
		MinRecording:     time.Second,
		MaxRecording:     60 * time.Second,
		MaxSilence:       1300 * time.Millisecond,
		MinSpeech:        100 * time.Millisecond,
		SampleInterval:   time.Second / 60,
	}
}

// Original samples every 500ms and waits for 2s of silence.
func Original() Thresholds {
	return Thresholds{
		Name:             ProfileOriginal,
		SilenceThreshold: 0.01,
		NoiseThreshold:   0.02,
		SpeechThreshold:  0.1,
		MinRecording:     2 * time.Second,
		MaxRecording:     60 * time.Second,
		MaxSilence:       2 * time.Second,
		MinSpeech:        100 * time.Millisecond,
		SampleInterval:   500 * time.Millisecond,
	}
}

var presets = map[string]func() Thresholds{
	ProfileInteractive: Interactive,
	ProfileOriginal:    Original,
}

// Preset resolves a named profile.
func Preset(name string) (Thresholds, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	build, ok := presets[key]
	if !ok {
		return Thresholds{}, fmt.Errorf("unknown vad profile %q (want one of: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return build(), nil
}

// PresetNames lists known profile names in stable order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate enforces threshold ordering and duration invariants.
func (t Thresholds) Validate() error {
	if t.SilenceThreshold < 0 || t.SpeechThreshold < 0 || t.NoiseThreshold < 0 {
		return fmt.Errorf("vad thresholds must be >= 0")
	}
	if t.SilenceThreshold >= t.SpeechThreshold {
		return fmt.Errorf("vad silence threshold %.4f must be below speech threshold %.4f", t.SilenceThreshold, t.SpeechThreshold)
	}
	if t.NoiseThreshold < t.SilenceThreshold || t.NoiseThreshold > t.SpeechThreshold {
		return fmt.Errorf("vad noise threshold %.4f must sit between silence %.4f and speech %.4f", t.NoiseThreshold, t.SilenceThreshold, t.SpeechThreshold)
	}
	if t.MinRecording < 0 {
		return fmt.Errorf("vad min recording must be >= 0")
	}
	if t.MinRecording >= t.MaxRecording {
		return fmt.Errorf("vad min recording %s must be below max recording %s", t.MinRecording, t.MaxRecording)
	}
	if t.MaxSilence <= 0 {
		return fmt.Errorf("vad max silence must be > 0")
	}
	if t.MinSpeech < 0 {
		return fmt.Errorf("vad min speech must be >= 0")
	}
	if t.SampleInterval <= 0 {
		return fmt.Errorf("vad sample interval must be > 0")
	}
	return nil
}
