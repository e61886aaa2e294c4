package indicator

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/config"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueError
	cueEnded
)

func (k cueKind) String() string {
	switch k {
	case cueStart:
		return "start"
	case cueStop:
		return "stop"
	case cueError:
		return "error"
	case cueEnded:
		return "ended"
	default:
		return "unknown"
	}
}

const (
	cueSampleRate = 16000
	cueTimeout    = 4 * time.Second
	cueGap        = 22 * time.Millisecond
)

type tone struct {
	hz     float64
	length time.Duration
	gain   float64
}

var cuePCM = map[cueKind][]int16{
	cueStart: synthesizeCue(tone{880, 70 * time.Millisecond, 0.18}, tone{1175, 70 * time.Millisecond, 0.18}),
	cueStop:  synthesizeCue(tone{620, 120 * time.Millisecond, 0.18}),
	cueError: synthesizeCue(tone{480, 75 * time.Millisecond, 0.2}, tone{360, 110 * time.Millisecond, 0.2}),
	cueEnded: synthesizeCue(tone{740, 65 * time.Millisecond, 0.18}, tone{988, 65 * time.Millisecond, 0.18}, tone{1318, 90 * time.Millisecond, 0.16}),
}

// cuePlayer plays one cue to completion.
type cuePlayer func(ctx context.Context, kind cueKind) error

func newCuePlayer(cfg config.IndicatorConfig, player []string) cuePlayer {
	return func(ctx context.Context, kind cueKind) error {
		ctx, cancel := context.WithTimeout(ctx, cueTimeout)
		defer cancel()
		if err := ctx.Err(); err != nil {
			return err
		}

		if path := cuePath(kind, cfg); path != "" {
			if err := audio.PlayFile(ctx, player, path, "Notification"); err == nil {
				return nil
			}
		}
		samples := cuePCM[kind]
		if len(samples) == 0 {
			return fmt.Errorf("no samples for %s cue", kind)
		}
		return audio.PlayPCM(ctx, samples, cueSampleRate, "hark indicator cue")
	}
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	switch kind {
	case cueStart:
		return expandUserPath(cfg.SoundStartFile)
	case cueStop:
		return expandUserPath(cfg.SoundStopFile)
	case cueError:
		return expandUserPath(cfg.SoundErrorFile)
	default:
		return ""
	}
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(raw, "~"), "/"))
}

func synthesizeCue(parts ...tone) []int16 {
	gap := samplesFor(cueGap)
	var pcm []int16
	for i, part := range parts {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, synthesizeTone(part)...)
	}
	return pcm
}

// synthesizeTone renders a sine with a short linear attack and release so the
// cue does not click.
func synthesizeTone(t tone) []int16 {
	n := samplesFor(t.length)
	if n <= 0 || t.hz <= 0 || t.gain <= 0 {
		return nil
	}
	ramp := min(max(n/10, 1), cueSampleRate/200)

	pcm := make([]int16, n)
	for i := range pcm {
		envelope := min(1, float64(i)/float64(ramp), float64(n-i-1)/float64(ramp))
		phase := 2 * math.Pi * t.hz * float64(i) / cueSampleRate
		pcm[i] = int16(math.Round(math.Sin(phase) * t.gain * envelope * math.MaxInt16))
	}
	return pcm
}

func samplesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
