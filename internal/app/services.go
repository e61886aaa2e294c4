package app

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/indicator"
	"github.com/rbright/hark/internal/metrics"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/session"
	"github.com/rbright/hark/internal/transport"
)

// services is the wired runtime graph for commands that touch audio or the
// backend.
type services struct {
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	notifier   *indicator.Notifier
	controller *session.Controller
	client     *transport.Client
	pipeline   *pipeline.Pipeline
}

func (r Runner) build(cfg config.Config, stateDir string, logger *slog.Logger) (*services, error) {
	recordTh, err := cfg.RecordThresholds()
	if err != nil {
		return nil, err
	}
	listenTh, err := cfg.ListenThresholds()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	notifier := indicator.NewNotifier(cfg.Indicator, cfg.Audio.Player.Argv, logger)

	client, err := transport.NewClient(transport.Config{
		BaseURL: cfg.Server.BaseURL,
		Timeout: cfg.ServerTimeout(),
		VoiceID: cfg.Server.VoiceID,
	},
		transport.WithLogger(logger),
		transport.WithTerminator(notifier),
		transport.WithPlayer(audio.PulsePlayer{Command: cfg.Audio.Player.Argv}),
		transport.WithMetrics(m),
	)
	if err != nil {
		notifier.Close()
		return nil, fmt.Errorf("backend client: %w", err)
	}

	controller := session.NewController(session.Deps{
		Logger:    logger,
		Acquirer:  r.Acquirer,
		Indicator: notifier,
		Metrics:   m,
	}, session.Options{
		Constraints:         cfg.Constraints(),
		AnalysisWindow:      cfg.Audio.AnalysisWindow,
		DiagnosticsInterval: cfg.DiagnosticsInterval(),
		StallTimeout:        cfg.StallTimeout(),
	})

	var dumpDir string
	if cfg.Debug.EnableAudioDump {
		dumpDir = filepath.Join(stateDir, "debug")
	}
	flows := pipeline.New(controller, client, pipeline.Config{
		Project: cfg.Server.ProjectName,
		Record:  recordTh,
		Listen:  listenTh,
		DumpDir: dumpDir,
	}, logger)

	return &services{
		registry:   registry,
		metrics:    m,
		notifier:   notifier,
		controller: controller,
		client:     client,
		pipeline:   flows,
	}, nil
}

// Close releases any live recording before stopping the indicator workers,
// so the final idle notification is still delivered.
func (s *services) Close() {
	s.controller.Cleanup()
	s.notifier.Close()
}
