package audio

import (
	"errors"
	"os"
	"strings"
	"syscall"
)

var (
	// ErrPermissionDenied indicates the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable indicates no usable input device exists or it was lost.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
)

const (
	permissionDeniedMessage  = "Microphone access was denied. Please enable microphone access in your audio settings to continue."
	deviceUnavailableMessage = "Unable to access microphone. Please ensure your microphone is connected and you have granted permission."
)

// UserMessage maps acquisition errors to user-facing text.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return permissionDeniedMessage
	case errors.Is(err, ErrDeviceUnavailable):
		return deviceUnavailableMessage
	default:
		return "Error recording audio"
	}
}

// classifyPulseError tags raw Pulse client failures with a taxonomy error.
func classifyPulseError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return &tagged{kind: ErrPermissionDenied, err: err}
	}
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "access denied") || strings.Contains(text, "permission denied") || strings.Contains(text, "not authorized") {
		return &tagged{kind: ErrPermissionDenied, err: err}
	}
	return &tagged{kind: ErrDeviceUnavailable, err: err}
}

// tagged keeps the underlying cause while matching a taxonomy sentinel.
type tagged struct {
	kind error
	err  error
}

func (t *tagged) Error() string {
	return t.kind.Error() + ": " + t.err.Error()
}

func (t *tagged) Is(target error) bool {
	return target == t.kind
}

func (t *tagged) Unwrap() error {
	return t.err
}
