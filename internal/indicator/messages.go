package indicator

import (
	"strings"

	"github.com/rbright/hark/internal/config"
)

type messages struct {
	recording string
	idle      string
	errorText string
	ended     string
}

func messagesFor(cfg config.IndicatorConfig) messages {
	msg := messages{
		recording: "🎤 Recording...",
		idle:      `Click "Start Interview" to begin`,
		errorText: "Error recording audio",
		ended:     "Interview complete",
	}
	if strings.TrimSpace(cfg.TextRecording) != "" {
		msg.recording = cfg.TextRecording
	}
	if strings.TrimSpace(cfg.TextIdle) != "" {
		msg.idle = cfg.TextIdle
	}
	return msg
}

func (m messages) texts() Texts {
	return Texts{Recording: m.recording, Idle: m.idle}
}
