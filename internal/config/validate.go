package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rbright/hark/internal/vad"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	base := strings.TrimSpace(cfg.Server.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("server.base_url must not be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("server.base_url must be an http(s) URL, got %q", cfg.Server.BaseURL)
	}
	if cfg.Server.TimeoutMS <= 0 {
		return nil, fmt.Errorf("server.timeout_ms must be > 0")
	}
	if strings.TrimSpace(cfg.Server.ProjectName) == "" {
		warnings = append(warnings, Warning{Message: "server.project_name is empty; uploads will not be attributed to a project"})
	}

	if cfg.Audio.SampleRate != 16000 {
		return nil, fmt.Errorf("audio.sample_rate must be 16000")
	}
	if cfg.Audio.Channels != 1 {
		return nil, fmt.Errorf("audio.channels must be 1")
	}
	if strings.TrimSpace(cfg.Audio.Input) == "" {
		return nil, fmt.Errorf("audio.input must not be empty")
	}
	if cfg.Audio.AnalysisWindow <= 0 {
		return nil, fmt.Errorf("audio.analysis_window must be > 0")
	}
	if cfg.Audio.StallTimeoutMS < 0 {
		return nil, fmt.Errorf("audio.stall_timeout_ms must be >= 0")
	}
	if len(cfg.Audio.Player.Argv) == 0 {
		return nil, fmt.Errorf("audio.player_cmd must not be empty")
	}

	if _, err := cfg.RecordThresholds(); err != nil {
		return nil, fmt.Errorf("vad.record_profile: %w", err)
	}
	if _, err := cfg.ListenThresholds(); err != nil {
		return nil, fmt.Errorf("vad.listen_profile: %w", err)
	}

	if cfg.Diagnostics.IntervalMS < 0 {
		return nil, fmt.Errorf("diagnostics.interval_ms must be >= 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if strings.TrimSpace(cfg.HTTP.Listen) == "" {
		return nil, fmt.Errorf("http.listen must not be empty")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

// RecordThresholds materializes the record profile with overrides applied.
func (c Config) RecordThresholds() (vad.Thresholds, error) {
	return c.thresholds(c.VAD.RecordProfile)
}

// ListenThresholds materializes the listen profile with overrides applied.
func (c Config) ListenThresholds() (vad.Thresholds, error) {
	return c.thresholds(c.VAD.ListenProfile)
}

func (c Config) thresholds(profile string) (vad.Thresholds, error) {
	th, err := vad.Preset(profile)
	if err != nil {
		return vad.Thresholds{}, err
	}
	th = c.VAD.Overrides.apply(th)
	if err := th.Validate(); err != nil {
		return vad.Thresholds{}, err
	}
	return th, nil
}

func (o VADOverrides) apply(th vad.Thresholds) vad.Thresholds {
	if o.SilenceThreshold != nil {
		th.SilenceThreshold = *o.SilenceThreshold
	}
	if o.NoiseThreshold != nil {
		th.NoiseThreshold = *o.NoiseThreshold
	}
	if o.SpeechThreshold != nil {
		th.SpeechThreshold = *o.SpeechThreshold
	}
	if o.MinRecordingMS != nil {
		th.MinRecording = millis(*o.MinRecordingMS)
	}
	if o.MaxRecordingMS != nil {
		th.MaxRecording = millis(*o.MaxRecordingMS)
	}
	if o.MaxSilenceMS != nil {
		th.MaxSilence = millis(*o.MaxSilenceMS)
	}
	if o.MinSpeechMS != nil {
		th.MinSpeech = millis(*o.MinSpeechMS)
	}
	if o.SampleIntervalMS != nil {
		th.SampleInterval = millis(*o.SampleIntervalMS)
	}
	return th
}
