// Package doctor runs runtime readiness diagnostics for config, tools, audio,
// and the interview backend.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment, config, and runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{checkConfig(cfg)}
	checks = append(checks, checkIndicator(cfg.Config.Indicator)...)
	checks = append(checks, checkCommand(cfg.Config.Audio.Player.Argv, "player_cmd"))
	checks = append(checks, checkPermission(ctx))
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkBackend(ctx, cfg.Config.Server))
	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	if len(cfg.Warnings) > 0 {
		message = fmt.Sprintf("%s (%d warning(s))", message, len(cfg.Warnings))
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkIndicator validates the tooling the configured indicator backend needs.
func checkIndicator(cfg config.IndicatorConfig) []Check {
	if !cfg.Enable {
		return []Check{{Name: "indicator", Pass: true, Message: "disabled"}}
	}
	switch cfg.Backend {
	case "hypr":
		return []Check{
			checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
				return strings.TrimSpace(v) != ""
			}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"),
			checkBinary("hyprctl", "hypr indicator backend"),
		}
	default:
		return []Check{checkBinary("busctl", "desktop notification backend")}
	}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	if predicate(os.Getenv(name)) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkPermission(ctx context.Context) Check {
	permission, err := audio.QueryPermission(ctx)
	if err != nil {
		return Check{Name: "audio.permission", Pass: false, Message: err.Error()}
	}
	if permission == audio.PermissionDenied {
		return Check{Name: "audio.permission", Pass: false, Message: audio.UserMessage(audio.ErrPermissionDenied)}
	}
	return Check{Name: "audio.permission", Pass: true, Message: string(permission)}
}

// checkAudioSelection runs live device selection to surface fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Constraints())
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkBackend treats any HTTP response from the base URL as reachable; only
// transport failures and 5xx replies fail the check.
func checkBackend(ctx context.Context, cfg config.ServerConfig) Check {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return Check{Name: "backend", Pass: false, Message: "server.base_url is empty"}
	}

	resp, err := resty.New().
		SetTimeout(2 * time.Second).
		R().
		SetContext(ctx).
		Get(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return Check{Name: "backend", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	if resp.StatusCode() >= 500 {
		return Check{Name: "backend", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode(), base)}
	}
	return Check{Name: "backend", Pass: true, Message: fmt.Sprintf("reachable at %s (HTTP %d)", base, resp.StatusCode())}
}
