package session

import (
	"context"
	"fmt"

	"github.com/rbright/hark/internal/ipc"
)

// Handle serves IPC commands for the recording owner.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		status := c.Snapshot()
		return ipc.Response{
			OK:             true,
			State:          string(status.State),
			Message:        "status",
			Session:        status.SessionID,
			Amplitude:      status.Snapshot.Amplitude,
			SpeechDetected: status.Snapshot.SpeechDetected,
			ElapsedSeconds: status.Snapshot.Elapsed.Seconds(),
		}
	case ipc.CommandStop:
		result, err := c.Stop()
		if err != nil {
			return ipc.Response{OK: false, State: string(c.State()), Error: err.Error()}
		}
		return ipc.Response{
			OK:             true,
			State:          string(c.State()),
			Message:        "recording stopped",
			Session:        result.SessionID,
			Reason:         string(result.Reason),
			SpeechDetected: result.SpeechDetected,
			ElapsedSeconds: result.Elapsed().Seconds(),
		}
	case ipc.CommandCleanup:
		c.Cleanup()
		return ipc.Response{OK: true, State: string(c.State()), Message: "cleanup complete"}
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}
