package config

import (
	"fmt"
	"strings"
)

// filePayload mirrors the on-disk layout. Pointer fields distinguish absent
// keys from zero values so only present keys override defaults.
type filePayload struct {
	Server      *fileServer      `json:"server" yaml:"server"`
	Audio       *fileAudio       `json:"audio" yaml:"audio"`
	VAD         *fileVAD         `json:"vad" yaml:"vad"`
	Diagnostics *fileDiagnostics `json:"diagnostics" yaml:"diagnostics"`
	Indicator   *fileIndicator   `json:"indicator" yaml:"indicator"`
	HTTP        *fileHTTP        `json:"http" yaml:"http"`
	Log         *fileLog         `json:"log" yaml:"log"`
	Debug       *fileDebug       `json:"debug" yaml:"debug"`
}

type fileServer struct {
	BaseURL     *string `json:"base_url" yaml:"base_url"`
	ProjectName *string `json:"project_name" yaml:"project_name"`
	TimeoutMS   *int    `json:"timeout_ms" yaml:"timeout_ms"`
	VoiceID     *string `json:"voice_id" yaml:"voice_id"`
}

type fileAudio struct {
	Input            *string `json:"input" yaml:"input"`
	Fallback         *string `json:"fallback" yaml:"fallback"`
	SampleRate       *int    `json:"sample_rate" yaml:"sample_rate"`
	Channels         *int    `json:"channels" yaml:"channels"`
	EchoCancellation *bool   `json:"echo_cancellation" yaml:"echo_cancellation"`
	NoiseSuppression *bool   `json:"noise_suppression" yaml:"noise_suppression"`
	AutoGainControl  *bool   `json:"auto_gain_control" yaml:"auto_gain_control"`
	AnalysisWindow   *int    `json:"analysis_window" yaml:"analysis_window"`
	StallTimeoutMS   *int    `json:"stall_timeout_ms" yaml:"stall_timeout_ms"`
	PlayerCmd        *string `json:"player_cmd" yaml:"player_cmd"`
}

type fileVAD struct {
	RecordProfile *string           `json:"record_profile" yaml:"record_profile"`
	ListenProfile *string           `json:"listen_profile" yaml:"listen_profile"`
	Overrides     *fileVADOverrides `json:"overrides" yaml:"overrides"`
}

type fileVADOverrides struct {
	SilenceThreshold *float64 `json:"silence_threshold" yaml:"silence_threshold"`
	NoiseThreshold   *float64 `json:"noise_threshold" yaml:"noise_threshold"`
	SpeechThreshold  *float64 `json:"speech_threshold" yaml:"speech_threshold"`
	MinRecordingMS   *int     `json:"min_recording_ms" yaml:"min_recording_ms"`
	MaxRecordingMS   *int     `json:"max_recording_ms" yaml:"max_recording_ms"`
	MaxSilenceMS     *int     `json:"max_silence_ms" yaml:"max_silence_ms"`
	MinSpeechMS      *int     `json:"min_speech_ms" yaml:"min_speech_ms"`
	SampleIntervalMS *int     `json:"sample_interval_ms" yaml:"sample_interval_ms"`
}

type fileDiagnostics struct {
	IntervalMS *int `json:"interval_ms" yaml:"interval_ms"`
}

type fileIndicator struct {
	Enable         *bool   `json:"enable" yaml:"enable"`
	Backend        *string `json:"backend" yaml:"backend"`
	DesktopAppName *string `json:"desktop_app_name" yaml:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable" yaml:"sound_enable"`
	SoundStartFile *string `json:"sound_start_file" yaml:"sound_start_file"`
	SoundStopFile  *string `json:"sound_stop_file" yaml:"sound_stop_file"`
	SoundErrorFile *string `json:"sound_error_file" yaml:"sound_error_file"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms" yaml:"error_timeout_ms"`
	TextRecording  *string `json:"text_recording" yaml:"text_recording"`
	TextIdle       *string `json:"text_idle" yaml:"text_idle"`
}

type fileHTTP struct {
	Listen *string `json:"listen" yaml:"listen"`
}

type fileLog struct {
	Level *string `json:"level" yaml:"level"`
}

type fileDebug struct {
	AudioDump *bool `json:"audio_dump" yaml:"audio_dump"`
}

func (payload filePayload) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if s := payload.Server; s != nil {
		setString(&cfg.Server.BaseURL, s.BaseURL)
		setString(&cfg.Server.ProjectName, s.ProjectName)
		setInt(&cfg.Server.TimeoutMS, s.TimeoutMS)
		setString(&cfg.Server.VoiceID, s.VoiceID)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
		setInt(&cfg.Audio.Channels, a.Channels)
		setBool(&cfg.Audio.EchoCancellation, a.EchoCancellation)
		setBool(&cfg.Audio.NoiseSuppression, a.NoiseSuppression)
		setBool(&cfg.Audio.AutoGainControl, a.AutoGainControl)
		setInt(&cfg.Audio.AnalysisWindow, a.AnalysisWindow)
		setInt(&cfg.Audio.StallTimeoutMS, a.StallTimeoutMS)
		if a.PlayerCmd != nil {
			raw := *a.PlayerCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid audio.player_cmd: %w", err)
			}
			cfg.Audio.Player = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if v := payload.VAD; v != nil {
		setString(&cfg.VAD.RecordProfile, v.RecordProfile)
		setString(&cfg.VAD.ListenProfile, v.ListenProfile)
		if o := v.Overrides; o != nil {
			overrides := &cfg.VAD.Overrides
			overrides.SilenceThreshold = pick(overrides.SilenceThreshold, o.SilenceThreshold)
			overrides.NoiseThreshold = pick(overrides.NoiseThreshold, o.NoiseThreshold)
			overrides.SpeechThreshold = pick(overrides.SpeechThreshold, o.SpeechThreshold)
			overrides.MinRecordingMS = pick(overrides.MinRecordingMS, o.MinRecordingMS)
			overrides.MaxRecordingMS = pick(overrides.MaxRecordingMS, o.MaxRecordingMS)
			overrides.MaxSilenceMS = pick(overrides.MaxSilenceMS, o.MaxSilenceMS)
			overrides.MinSpeechMS = pick(overrides.MinSpeechMS, o.MinSpeechMS)
			overrides.SampleIntervalMS = pick(overrides.SampleIntervalMS, o.SampleIntervalMS)
			if o.MinSpeechMS != nil {
				warnings = append(warnings, Warning{Message: "vad.overrides.min_speech_ms is recorded but does not gate speech detection"})
			}
		}
	}

	if d := payload.Diagnostics; d != nil {
		setInt(&cfg.Diagnostics.IntervalMS, d.IntervalMS)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.SoundStartFile, i.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, i.SoundStopFile)
		setString(&cfg.Indicator.SoundErrorFile, i.SoundErrorFile)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
		if i.TextRecording != nil {
			cfg.Indicator.TextRecording = *i.TextRecording
		}
		if i.TextIdle != nil {
			cfg.Indicator.TextIdle = *i.TextIdle
		}
	}

	if h := payload.HTTP; h != nil {
		setString(&cfg.HTTP.Listen, h.Listen)
	}

	if l := payload.Log; l != nil && l.Level != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*l.Level))
	}

	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.EnableAudioDump, d.AudioDump)
	}

	return warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func pick[T any](current *T, next *T) *T {
	if next == nil {
		return current
	}
	v := *next
	return &v
}
