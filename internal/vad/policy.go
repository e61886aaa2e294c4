package vad

import "time"

// Reason records why a recording session ended.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonSilence     Reason = "silence"
	ReasonMaxDuration Reason = "max-duration"
	ReasonManualStop  Reason = "manual-stop"
	ReasonError       Reason = "error"
)

// Transition is a speech/silence edge observed on one sample.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionSpeechDetected
	TransitionSilenceStarted
)

// Level is a coarse amplitude classification used in diagnostics.
type Level string

const (
	LevelSilence Level = "silence"
	LevelAmbient Level = "ambient"
	LevelNoise   Level = "noise"
	LevelSpeech  Level = "speech"
)

// Decision is the policy output for one sample.
type Decision struct {
	Stop       bool
	Reason     Reason
	Transition Transition
}

// Snapshot is a read-only view of policy state.
type Snapshot struct {
	Elapsed         time.Duration
	Amplitude       float64
	Level           Level
	SpeechDetected  bool
	SilenceStarted  bool
	SilenceDuration time.Duration
	Samples         int
}

// Policy holds per-session VAD state. It is not safe for concurrent use; the
// session event loop is its only caller.
type Policy struct {
	th        Thresholds
	startedAt time.Time

	amplitude      float64
	speechDetected bool
	silenceStart   time.Time
	silence        time.Duration
	samples        int
}

// NewPolicy starts a policy whose elapsed clock begins at startedAt.
func NewPolicy(th Thresholds, startedAt time.Time) *Policy {
	return &Policy{th: th, startedAt: startedAt}
}

// Thresholds returns the configuration the policy was built with.
func (p *Policy) Thresholds() Thresholds {
	return p.th
}

// Observe folds one amplitude sample taken at now into policy state and
// evaluates the stop conditions. Silence wins over max-duration when both hold.
func (p *Policy) Observe(amplitude float64, now time.Time) Decision {
	if amplitude < 0 {
		amplitude = -amplitude
	}
	p.amplitude = amplitude
	p.samples++

	decision := Decision{}

	switch {
	case amplitude >= p.th.SpeechThreshold:
		if !p.speechDetected {
			decision.Transition = TransitionSpeechDetected
		}
		p.speechDetected = true
		p.silenceStart = time.Time{}
		p.silence = 0
	case amplitude < p.th.SilenceThreshold:
		if p.silenceStart.IsZero() {
			p.silenceStart = now
			decision.Transition = TransitionSilenceStarted
		}
		p.silence = now.Sub(p.silenceStart)
	}

	elapsed := now.Sub(p.startedAt)

	if p.speechDetected && p.silence >= p.th.MaxSilence && elapsed >= p.th.MinRecording {
		decision.Stop = true
		decision.Reason = ReasonSilence
		return decision
	}
	if elapsed >= p.th.MaxRecording {
		decision.Stop = true
		decision.Reason = ReasonMaxDuration
	}
	return decision
}

// Snapshot reports current state as of now.
func (p *Policy) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Elapsed:         now.Sub(p.startedAt),
		Amplitude:       p.amplitude,
		Level:           p.th.Classify(p.amplitude),
		SpeechDetected:  p.speechDetected,
		SilenceStarted:  !p.silenceStart.IsZero(),
		SilenceDuration: p.silence,
		Samples:         p.samples,
	}
}

// Classify buckets an amplitude against the configured thresholds.
func (t Thresholds) Classify(amplitude float64) Level {
	switch {
	case amplitude >= t.SpeechThreshold:
		return LevelSpeech
	case amplitude < t.SilenceThreshold:
		return LevelSilence
	case amplitude >= t.NoiseThreshold:
		return LevelNoise
	default:
		return LevelAmbient
	}
}
