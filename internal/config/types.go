// Package config resolves, parses, validates, and defaults hark configuration.
package config

// Config is the fully materialized runtime configuration used by hark.
type Config struct {
	Server      ServerConfig
	Audio       AudioConfig
	VAD         VADConfig
	Diagnostics DiagnosticsConfig
	Indicator   IndicatorConfig
	HTTP        HTTPConfig
	Log         LogConfig
	Debug       DebugConfig
}

// ServerConfig addresses the interview backend.
type ServerConfig struct {
	BaseURL     string
	ProjectName string
	TimeoutMS   int
	VoiceID     string
}

// AudioConfig controls input-source selection, capture format, and playback.
type AudioConfig struct {
	Input            string
	Fallback         string
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	AnalysisWindow   int
	StallTimeoutMS   int
	Player           CommandConfig
}

// VADConfig names the profiles used by record and listen, plus per-key
// overrides applied on top of either preset.
type VADConfig struct {
	RecordProfile string
	ListenProfile string
	Overrides     VADOverrides
}

// VADOverrides holds only the threshold keys present in the config file.
type VADOverrides struct {
	SilenceThreshold *float64
	NoiseThreshold   *float64
	SpeechThreshold  *float64
	MinRecordingMS   *int
	MaxRecordingMS   *int
	MaxSilenceMS     *int
	MinSpeechMS      *int
	SampleIntervalMS *int
}

// DiagnosticsConfig controls the periodic audio-level debug log.
type DiagnosticsConfig struct {
	IntervalMS int
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	SoundStartFile string
	SoundStopFile  string
	SoundErrorFile string
	ErrorTimeoutMS int
	TextRecording  string
	TextIdle       string
}

// HTTPConfig controls the local control surface started by serve.
type HTTPConfig struct {
	Listen string
}

// LogConfig controls runtime log verbosity.
type LogConfig struct {
	Level string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
