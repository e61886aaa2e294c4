package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jfreymuth/pulse"
)

// Clip is one playable audio payload, such as a text-to-speech reply.
type Clip struct {
	Data     []byte
	MIMEType string
}

// Player plays clips to the default output.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// PlayerFunc adapts a function to the Player interface.
type PlayerFunc func(context.Context, Clip) error

func (f PlayerFunc) Play(ctx context.Context, clip Clip) error {
	return f(ctx, clip)
}

// PulsePlayer plays WAV clips through Pulse and hands other containers to
// the PipeWire player command.
type PulsePlayer struct {
	// Command is the player argv; the clip path is appended.
	Command []string
}

// Play blocks until the clip has drained or ctx is cancelled.
func (p PulsePlayer) Play(ctx context.Context, clip Clip) error {
	if len(clip.Data) == 0 {
		return errors.New("empty audio clip")
	}
	if IsWAV(clip.Data) {
		samples, rate, channels, err := DecodeWAV(clip.Data)
		if err != nil {
			return err
		}
		return PlayPCM(ctx, downmix(samples, channels), rate, "hark speech")
	}
	return p.playViaCommand(ctx, clip)
}

func (p PulsePlayer) playViaCommand(ctx context.Context, clip Clip) error {
	file, err := os.CreateTemp("", "hark-clip-*"+clipExtension(clip.MIMEType))
	if err != nil {
		return fmt.Errorf("create clip file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(clip.Data); err != nil {
		_ = file.Close()
		return fmt.Errorf("write clip file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close clip file: %w", err)
	}

	return PlayFile(ctx, p.command(), file.Name(), "")
}

func (p PulsePlayer) command() []string {
	if len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
		return []string{DefaultPlayerCommand}
	}
	return p.Command
}

// DefaultPlayerCommand plays files that are not WAV.
const DefaultPlayerCommand = "pw-play"

// PlayFile runs a file player argv such as pw-play on path.
func PlayFile(ctx context.Context, argv []string, path string, mediaRole string) error {
	if len(argv) == 0 {
		return errors.New("player command is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat audio file %q: %w", path, err)
	}
	args := append([]string{}, argv[1:]...)
	if mediaRole != "" {
		args = append(args, "--media-role", mediaRole)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, argv[0], args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("play audio file %q: %w: %s", path, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// PlayPCM plays mono 16-bit samples and waits for the stream to drain.
func PlayPCM(ctx context.Context, samples []int16, sampleRate int, mediaName string) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	client, err := newPulseClient()
	if err != nil {
		return err
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}

		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName(mediaName),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play pcm stream: %w", err)
	}
	return ctx.Err()
}

// PCMDuration reports how long samples play at sampleRate.
func PCMDuration(samples int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

func clipExtension(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/flac":
		return ".flac"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	default:
		return ".audio"
	}
}
