// Package transport uploads finished recordings for transcription and
// fetches text-to-speech audio from the interview backend.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rbright/hark/internal/audio"
)

const (
	processAudioPath = "/process_audio"
	textToSpeechPath = "/text_to_speech"

	// NoSpeechDetected is returned for empty transcripts and rejected uploads.
	NoSpeechDetected = "No speech detected"
	// ErrorRecordingAudio is returned when the upload never produced a response.
	ErrorRecordingAudio = "Error recording audio"

	maxLoggedBody = 512
)

// ErrPlaybackFailed wraps every text-to-speech request or playback failure.
var ErrPlaybackFailed = errors.New("text-to-speech playback failed")

// Outcome labels one transcription attempt for logs and metrics.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeNoSpeech       Outcome = "no_speech"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTransportError Outcome = "transport_error"
)

// Result is the interpreted transcription response.
type Result struct {
	Transcript          string
	ShouldStopInterview bool
	Outcome             Outcome
	StatusCode          int
	// ServerError carries the backend's error text, if any.
	ServerError string
}

// Fallback reports whether Transcript is sentinel text rather than speech.
func (r Result) Fallback() bool {
	return r.Outcome != OutcomeOK
}

// Terminator ends the whole interview when the backend asks for it.
type Terminator interface {
	StopInterview(ctx context.Context) error
}

// TerminatorFunc adapts a function to the Terminator interface.
type TerminatorFunc func(context.Context) error

func (f TerminatorFunc) StopInterview(ctx context.Context) error {
	return f(ctx)
}

// Metrics receives request observations.
type Metrics interface {
	TranscriptionObserved(outcome Outcome, elapsed time.Duration)
	SpeechObserved(ok bool, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) TranscriptionObserved(Outcome, time.Duration) {}
func (noopMetrics) SpeechObserved(bool, time.Duration)           {}

// Config controls backend addressing.
type Config struct {
	BaseURL string
	Timeout time.Duration
	VoiceID string
}

// Client talks to the interview backend.
type Client struct {
	http       *resty.Client
	logger     *slog.Logger
	voiceID    string
	terminator Terminator
	player     audio.Player
	metrics    Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTerminator wires the interview-termination collaborator.
func WithTerminator(t Terminator) Option {
	return func(c *Client) { c.terminator = t }
}

// WithPlayer sets the clip player used by Speak.
func WithPlayer(p audio.Player) Option {
	return func(c *Client) { c.player = p }
}

// WithMetrics sets the request observer.
func WithMetrics(m Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a backend client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base URL is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(cfg.Timeout).
			SetHeader("User-Agent", "hark"),
		logger:  slog.New(slog.DiscardHandler),
		voiceID: cfg.VoiceID,
		player:  audio.PulsePlayer{},
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type processAudioResponse struct {
	Transcription       string `json:"transcription"`
	ShouldStopInterview bool   `json:"should_stop_interview"`
	Error               string `json:"error"`
}

// ProcessAudio uploads blob for project and interprets the reply. It never
// fails: rejected uploads resolve to NoSpeechDetected and transport failures
// to ErrorRecordingAudio.
func (c *Client) ProcessAudio(ctx context.Context, blob audio.Blob, project string) Result {
	started := time.Now()
	result := c.processAudio(ctx, blob, project)
	c.metrics.TranscriptionObserved(result.Outcome, time.Since(started))
	return result
}

func (c *Client) processAudio(ctx context.Context, blob audio.Blob, project string) Result {
	filename, mimeType := blob.Filename, blob.MIMEType
	if filename == "" {
		filename = audio.BlobFilename
	}
	if mimeType == "" {
		mimeType = audio.BlobMIMEType
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("project_name", project).
		SetMultipartField("audio", filename, mimeType, bytes.NewReader(blob.Data)).
		Post(processAudioPath)
	if err != nil {
		c.logger.Error("transcription upload failed", "error", err.Error())
		return Result{Transcript: ErrorRecordingAudio, Outcome: OutcomeTransportError}
	}

	var payload processAudioResponse
	decodeErr := json.Unmarshal(resp.Body(), &payload)

	if !resp.IsSuccess() {
		serverError := payload.Error
		if decodeErr != nil || serverError == "" {
			serverError = truncate(strings.TrimSpace(string(resp.Body())), maxLoggedBody)
		}
		c.logger.Warn("transcription rejected",
			"status", resp.StatusCode(),
			"error", serverError,
		)
		return Result{
			Transcript:  NoSpeechDetected,
			Outcome:     OutcomeHTTPError,
			StatusCode:  resp.StatusCode(),
			ServerError: serverError,
		}
	}
	if decodeErr != nil {
		c.logger.Error("transcription response undecodable", "status", resp.StatusCode(), "error", decodeErr.Error())
		return Result{Transcript: ErrorRecordingAudio, Outcome: OutcomeTransportError, StatusCode: resp.StatusCode()}
	}

	result := Result{
		Transcript:          strings.TrimSpace(payload.Transcription),
		ShouldStopInterview: payload.ShouldStopInterview,
		Outcome:             OutcomeOK,
		StatusCode:          resp.StatusCode(),
		ServerError:         payload.Error,
	}
	if result.Transcript == "" {
		result.Transcript = NoSpeechDetected
		result.Outcome = OutcomeNoSpeech
	}

	if result.ShouldStopInterview {
		c.stopInterview(ctx)
	}

	c.logger.Info("transcription received",
		"outcome", string(result.Outcome),
		"chars", len(result.Transcript),
		"should_stop_interview", result.ShouldStopInterview,
	)
	return result
}

// stopInterview signals the terminator even if the caller has since gone away.
func (c *Client) stopInterview(ctx context.Context) {
	if c.terminator == nil {
		c.logger.Warn("interview stop requested but no terminator is wired")
		return
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.terminator.StopInterview(stopCtx); err != nil {
		c.logger.Error("interview stop failed", "error", err.Error())
		return
	}
	c.logger.Info("interview stop signalled")
}

type textToSpeechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

// Synthesize fetches speech audio for text. voiceID falls back to the
// configured default.
func (c *Client) Synthesize(ctx context.Context, text string, voiceID string) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, fmt.Errorf("%w: text is empty", ErrPlaybackFailed)
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = c.voiceID
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/*").
		SetBody(textToSpeechRequest{Text: text, VoiceID: voiceID}).
		Post(textToSpeechPath)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: request: %v", ErrPlaybackFailed, err)
	}
	if !resp.IsSuccess() {
		return audio.Clip{}, fmt.Errorf("%w: status %d: %s", ErrPlaybackFailed, resp.StatusCode(), truncate(strings.TrimSpace(string(resp.Body())), maxLoggedBody))
	}
	if len(resp.Body()) == 0 {
		return audio.Clip{}, fmt.Errorf("%w: empty audio body", ErrPlaybackFailed)
	}

	mimeType := resp.Header().Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(resp.Body())
	}
	return audio.Clip{Data: resp.Body(), MIMEType: mimeType}, nil
}

// Speak synthesizes text and plays it to completion. Any failure is returned
// wrapped in ErrPlaybackFailed.
func (c *Client) Speak(ctx context.Context, text string, voiceID string) error {
	started := time.Now()
	err := c.speak(ctx, text, voiceID)
	c.metrics.SpeechObserved(err == nil, time.Since(started))
	if err != nil {
		c.logger.Error("speech playback failed", "error", err.Error())
	}
	return err
}

func (c *Client) speak(ctx context.Context, text string, voiceID string) error {
	clip, err := c.Synthesize(ctx, text, voiceID)
	if err != nil {
		return err
	}
	if err := c.player.Play(ctx, clip); err != nil {
		return fmt.Errorf("%w: play: %v", ErrPlaybackFailed, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
