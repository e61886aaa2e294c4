// Package ipc carries control commands to the process that owns the
// microphone, over a unix socket with one JSON line per request and response.
package ipc

// Commands accepted by the recording owner.
const (
	CommandStatus  = "status"
	CommandStop    = "stop"
	CommandCleanup = "cleanup"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	Session        string  `json:"session,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	Amplitude      float64 `json:"amplitude,omitempty"`
	SpeechDetected bool    `json:"speech_detected,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}
