package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/ipc"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/session"
	"github.com/rbright/hark/internal/transport"
	"github.com/rbright/hark/internal/vad"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "hark")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteRejectsInvalidProfileFlag(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "--profile", "turbo", "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid flags")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active hark session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	commands := make(chan string, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "hark.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "recording", Session: "abc", ElapsedSeconds: 1.5}
		case ipc.CommandStop, ipc.CommandCleanup:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	for _, cmd := range []string{"status", "stop", "cleanup"} {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
		if cmd == "status" {
			require.Contains(t, stdout.String(), "recording session=abc elapsed=1.5s")
		} else {
			require.Equal(t, cmd+" handled\n", stdout.String())
		}
	}

	got := []string{<-commands, <-commands, <-commands}
	require.ElementsMatch(t, []string{"status", "stop", "cleanup"}, got)
}

func TestRunnerForwardSurfacesRefusal(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "hark.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: false, Error: session.ErrNotRecording.Error()}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no recording in progress")
}

func TestRunnerStatusFallsBackToIdleWhenServerStateEmpty(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "hark.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, ipc.CommandStatus, req.Command)
		return ipc.Response{OK: true, State: ""}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "audio.device")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerRecordReportsPermissionDenied(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stderr bytes.Buffer
	runner := Runner{
		Stdout: &bytes.Buffer{},
		Stderr: &stderr,
		Acquirer: audio.AcquirerFunc(func(context.Context, audio.Constraints) (audio.Stream, error) {
			return nil, audio.ErrPermissionDenied
		}),
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), audio.UserMessage(audio.ErrPermissionDenied))

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "hark.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRecordStopsOverIPCAndPrintsTranscript(t *testing.T) {
	var uploads sync.WaitGroup
	uploads.Add(1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer uploads.Done()
		require.Equal(t, "/process_audio", r.URL.Path)
		require.Equal(t, "acme", r.URL.Query().Get("project_name"))
		_, _ = w.Write([]byte(`{"transcription":"we shipped it"}`))
	}))
	t.Cleanup(backend.Close)

	paths := setupRunnerEnv(t, backend.URL)
	stream := newTestStream()
	stream.frames <- make([]int16, 1600)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	owner := Runner{
		Stdout: &stdout,
		Stderr: &stderr,
		Acquirer: audio.AcquirerFunc(func(context.Context, audio.Constraints) (audio.Stream, error) {
			return stream, nil
		}),
	}

	done := make(chan int, 1)
	go func() {
		done <- owner.Execute(context.Background(), []string{"--config", paths.configPath, "--project", "acme", "record"})
	}()

	socketPath := filepath.Join(paths.runtimeDir, "hark.sock")
	require.Eventually(t, func() bool {
		resp, err := ipc.Call(context.Background(), socketPath, ipc.CommandStatus, time.Second)
		return err == nil && resp.State == "recording"
	}, 3*time.Second, 10*time.Millisecond)

	stopper := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, stopper.Execute(context.Background(), []string{"--config", paths.configPath, "stop"}))

	select {
	case code := <-done:
		require.Equal(t, 0, code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("record did not finish")
	}
	uploads.Wait()
	require.Equal(t, "we shipped it\n", stdout.String())
}

func TestRunnerRecordCancelledByContext(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	stream := newTestStream()
	stream.frames <- make([]int16, 1600)

	var stdout bytes.Buffer
	runner := Runner{
		Stdout: &stdout,
		Stderr: &bytes.Buffer{},
		Acquirer: audio.AcquirerFunc(func(context.Context, audio.Constraints) (audio.Stream, error) {
			return stream, nil
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- runner.Execute(ctx, []string{"--config", paths.configPath, "record"}) }()

	socketPath := filepath.Join(paths.runtimeDir, "hark.sock")
	require.Eventually(t, func() bool {
		resp, err := ipc.Call(context.Background(), socketPath, ipc.CommandStatus, time.Second)
		return err == nil && resp.State == "recording"
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(stream.frames) == 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case code := <-done:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("record did not finish")
	}
	require.Equal(t, "cancelled\n", stdout.String())
}

func TestRunnerSecondOwnerIsRejected(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "hark.sock"), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "recording"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "listen"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "already owns the microphone")
}

func TestRunnerServeFailsOnBadListenAddress(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	cfg := `{"http": {"listen": "256.0.0.1:99999"}, "indicator": {"enable": false, "sound_enable": false}}`
	require.NoError(t, os.WriteFile(paths.configPath, []byte(cfg), 0o600))

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "serve"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "hark.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestDescribeUsesUserMessages(t *testing.T) {
	require.Equal(t, audio.UserMessage(audio.ErrDeviceUnavailable), describe(fmt.Errorf("wrap: %w", audio.ErrDeviceUnavailable)))
	require.Equal(t, "boom", describe(errors.New("boom")))
}

func TestLogOutcomeWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	outcome := pipeline.Outcome{
		Session: session.Result{
			SessionID:  "s-1",
			Profile:    vad.ProfileInteractive,
			Reason:     vad.ReasonSilence,
			Device:     "Mic",
			Blob:       audio.Blob{Data: make([]byte, 123)},
			StartedAt:  started,
			FinishedAt: started.Add(1500 * time.Millisecond),
		},
		Transcription: transport.Result{Transcript: "hello", Outcome: transport.OutcomeOK},
	}

	logOutcome(logger, outcome, nil)
	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), `"transcript_length":5`)
	require.Contains(t, logBuf.String(), `"bytes_captured":123`)

	logBuf.Reset()
	logOutcome(logger, pipeline.Outcome{}, errors.New("boom"))
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
}

type testStream struct {
	frames chan []int16
	once   sync.Once
}

func newTestStream() *testStream {
	return &testStream{frames: make(chan []int16, 1)}
}

func (s *testStream) Device() audio.Device {
	return audio.Device{ID: "alsa_input.test", Description: "Test Mic"}
}

func (s *testStream) Frames() <-chan []int16 { return s.frames }

func (s *testStream) Close() error {
	s.once.Do(func() { close(s.frames) })
	return nil
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

// setupRunnerEnv isolates state and runtime dirs and writes a config with
// indicator side effects disabled.
func setupRunnerEnv(t *testing.T, baseURL string) runnerPaths {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	if baseURL == "" {
		baseURL = "http://127.0.0.1:1"
	}
	content := strings.Join([]string{
		"{",
		`  // test config`,
		fmt.Sprintf(`  "server": {"base_url": %q, "project_name": "default"},`, baseURL),
		`  "audio": {"stall_timeout_ms": 0},`,
		`  "indicator": {"enable": false, "sound_enable": false},`,
		"}",
	}, "\n")
	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
