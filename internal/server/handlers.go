package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/indicator"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Profile   string `json:"profile"`
	Device    string `json:"device"`
	State     string `json:"state"`
}

type resultResponse struct {
	SessionID      string  `json:"session_id"`
	Profile        string  `json:"profile"`
	Reason         string  `json:"reason"`
	SpeechDetected bool    `json:"speech_detected"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Bytes          int     `json:"bytes"`
}

type outcomeResponse struct {
	State               string          `json:"state"`
	Session             *resultResponse `json:"session,omitempty"`
	Transcription       string          `json:"transcription,omitempty"`
	ShouldStopInterview bool            `json:"should_stop_interview,omitempty"`
	Error               string          `json:"error,omitempty"`
}

type statusResponse struct {
	State          string          `json:"state"`
	SessionID      string          `json:"session_id,omitempty"`
	Profile        string          `json:"profile,omitempty"`
	Device         string          `json:"device,omitempty"`
	Amplitude      float64         `json:"amplitude"`
	Level          string          `json:"level,omitempty"`
	SpeechDetected bool            `json:"speech_detected"`
	SilenceSeconds float64         `json:"silence_seconds"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
	Permission     string          `json:"permission,omitempty"`
	Indicator      indicator.Event `json:"indicator"`
}

type speakRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

func (s *Server) handleStart(c *gin.Context) {
	pending, err := s.deps.Flows.Begin(s.base)
	if err != nil {
		status := startErrorStatus(err)
		s.logger.Warn("recording start rejected", "status", status, "error", err.Error())
		message := audio.UserMessage(err)
		if status == http.StatusConflict {
			message = err.Error()
		}
		c.JSON(status, errorResponse{Error: message})
		return
	}
	s.setPending(pending)

	rec := pending.Recording
	c.JSON(http.StatusAccepted, startResponse{
		SessionID: rec.ID,
		Profile:   rec.Thresholds.Name,
		Device:    rec.Device,
		State:     string(fsm.StateRecording),
	})
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStop(c *gin.Context) {
	result, err := s.deps.Sessions.Stop()
	if err != nil {
		if errors.Is(err, session.ErrNotRecording) {
			c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	if c.Query("wait") != "true" {
		summary := summarize(result)
		c.JSON(http.StatusOK, outcomeResponse{State: "stopped", Session: &summary})
		return
	}

	pending := s.lastPending()
	if pending == nil || pending.Recording.ID != result.SessionID {
		summary := summarize(result)
		c.JSON(http.StatusOK, outcomeResponse{State: "stopped", Session: &summary})
		return
	}
	outcome, err := pending.Wait(c.Request.Context())
	c.JSON(http.StatusOK, renderOutcome(outcome, err))
}

func (s *Server) handleLast(c *gin.Context) {
	pending := s.lastPending()
	if pending == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no recording yet"})
		return
	}
	select {
	case <-pending.Done():
	default:
		c.JSON(http.StatusAccepted, outcomeResponse{State: "pending"})
		return
	}
	outcome, err := pending.Wait(c.Request.Context())
	c.JSON(http.StatusOK, renderOutcome(outcome, err))
}

func (s *Server) handleListen(c *gin.Context) {
	text := s.deps.Flows.Listen(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"transcription": text})
}

func (s *Server) handleCleanup(c *gin.Context) {
	s.deps.Sessions.Cleanup()
	c.JSON(http.StatusOK, gin.H{"state": string(s.deps.Sessions.Snapshot().State)})
}

func (s *Server) handleSpeak(c *gin.Context) {
	var req speakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}
	if err := s.deps.Speaker.Speak(c.Request.Context(), req.Text, req.VoiceID); err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	snapshot := s.deps.Sessions.Snapshot()
	resp := statusResponse{
		State:          string(snapshot.State),
		SessionID:      snapshot.SessionID,
		Profile:        snapshot.Profile,
		Device:         snapshot.Device,
		Amplitude:      snapshot.Snapshot.Amplitude,
		Level:          string(snapshot.Snapshot.Level),
		SpeechDetected: snapshot.Snapshot.SpeechDetected,
		SilenceSeconds: snapshot.Snapshot.SilenceDuration.Seconds(),
		ElapsedSeconds: snapshot.Snapshot.Elapsed.Seconds(),
	}
	if s.deps.Status != nil {
		resp.Indicator = s.deps.Status.Current()
	}
	if s.deps.Permission != nil {
		permission, err := s.deps.Permission(c.Request.Context())
		if err != nil {
			s.logger.Debug("permission query failed", "error", err.Error())
		} else {
			resp.Permission = string(permission)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func summarize(result session.Result) resultResponse {
	return resultResponse{
		SessionID:      result.SessionID,
		Profile:        result.Profile,
		Reason:         string(result.Reason),
		SpeechDetected: result.SpeechDetected,
		ElapsedSeconds: result.Elapsed().Seconds(),
		Bytes:          len(result.Blob.Data),
	}
}

func renderOutcome(outcome pipeline.Outcome, err error) outcomeResponse {
	if err != nil {
		resp := outcomeResponse{State: "failed", Error: audio.UserMessage(err)}
		if outcome.Session.SessionID != "" {
			summary := summarize(outcome.Session)
			resp.Session = &summary
		}
		return resp
	}
	summary := summarize(outcome.Session)
	return outcomeResponse{
		State:               "complete",
		Session:             &summary,
		Transcription:       outcome.Transcript(),
		ShouldStopInterview: outcome.Transcription.ShouldStopInterview,
	}
}
