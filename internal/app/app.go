package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/cli"
	"github.com/rbright/hark/internal/config"
	"github.com/rbright/hark/internal/doctor"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/logging"
	"github.com/rbright/hark/internal/version"
)

const (
	binaryName     = "hark"
	forwardTimeout = 220 * time.Millisecond
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Acquirer replaces live Pulse capture when set.
	Acquirer audio.Acquirer
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := loadConfig(parsed)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	stateDir, err := config.StateDir()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: resolve state dir: %v\n", err)
		return 1
	}
	logRuntime, err := logging.New(stateDir, cfgLoaded.Config.Log.Level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandCleanup:
		return r.forwardOrFail(ctx, ipc.CommandCleanup)
	case cli.CommandSpeak:
		return r.commandSpeak(ctx, cfgLoaded.Config, stateDir, logger, parsed)
	case cli.CommandRecord:
		return r.commandRecord(ctx, cfgLoaded.Config, stateDir, logger)
	case cli.CommandListen:
		return r.commandListen(ctx, cfgLoaded.Config, stateDir, logger)
	case cli.CommandServe:
		return r.commandServe(ctx, cfgLoaded.Config, stateDir, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// loadConfig applies command-line overrides on top of the file and
// revalidates the result.
func loadConfig(parsed cli.Parsed) (config.Loaded, error) {
	loaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		return config.Loaded{}, err
	}
	if parsed.Project == "" && parsed.Profile == "" {
		return loaded, nil
	}

	if parsed.Project != "" {
		loaded.Config.Server.ProjectName = strings.TrimSpace(parsed.Project)
	}
	if parsed.Profile != "" {
		loaded.Config.VAD.RecordProfile = strings.TrimSpace(parsed.Profile)
	}
	if _, err := config.Validate(loaded.Config); err != nil {
		return config.Loaded{}, fmt.Errorf("invalid flags: %w", err)
	}
	return loaded, nil
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, err := ipc.Call(ctx, socketPath, ipc.CommandStatus, forwardTimeout)
	if errors.Is(err, ipc.ErrNoOwner) {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if resp.State == "" {
		resp.State = "idle"
	}
	if resp.Session == "" {
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}
	fmt.Fprintf(r.Stdout, "%s session=%s elapsed=%.1fs amplitude=%.4f speech=%s\n",
		resp.State,
		resp.Session,
		resp.ElapsedSeconds,
		resp.Amplitude,
		yesNo(resp.SpeechDetected),
	)
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, err := ipc.Call(ctx, socketPath, command, forwardTimeout)
	if errors.Is(err, ipc.ErrNoOwner) {
		fmt.Fprintln(r.Stderr, "error: no active hark session")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandSpeak(ctx context.Context, cfg config.Config, stateDir string, logger *slog.Logger, parsed cli.Parsed) int {
	svc, err := r.build(cfg, stateDir, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer svc.Close()

	if err := svc.client.Speak(ctx, parsed.Text, parsed.VoiceID); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
