package config

import "github.com/rbright/hark/internal/vad"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	player := "pw-play"

	return Config{
		Server: ServerConfig{
			BaseURL:     "http://127.0.0.1:5003",
			ProjectName: "default",
			TimeoutMS:   30000,
		},
		Audio: AudioConfig{
			Input:            "default",
			Fallback:         "default",
			SampleRate:       16000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			AnalysisWindow:   1024,
			StallTimeoutMS:   3000,
			Player:           CommandConfig{Raw: player, Argv: mustParseArgv(player)},
		},
		VAD: VADConfig{
			RecordProfile: vad.ProfileInteractive,
			ListenProfile: vad.ProfileOriginal,
		},
		Diagnostics: DiagnosticsConfig{IntervalMS: 500},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "desktop",
			DesktopAppName: "hark",
			SoundEnable:    true,
			ErrorTimeoutMS: 4000,
			TextRecording:  "🎤 Recording...",
			TextIdle:       `Click "Start Interview" to begin`,
		},
		HTTP:  HTTPConfig{Listen: "127.0.0.1:5080"},
		Log:   LogConfig{Level: "info"},
		Debug: DebugConfig{},
	}
}
