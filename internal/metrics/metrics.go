// Package metrics exposes Prometheus collectors for sessions, transcription,
// speech playback, and the HTTP control surface.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/transport"
	"github.com/rbright/hark/internal/vad"
)

const namespace = "hark"

// Metrics holds every hark collector. It satisfies the session and transport
// observer interfaces.
type Metrics struct {
	SessionsStarted  *prometheus.CounterVec
	SessionsStopped  *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	AcquireFailures  *prometheus.CounterVec
	TeardownFailures *prometheus.CounterVec
	Recording        prometheus.Gauge
	Amplitude        prometheus.Gauge

	TranscriptionRequests *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	SpeechRequests        *prometheus.CounterVec
	SpeechDuration        prometheus.Histogram

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Recording sessions that acquired a device, by VAD profile.",
		}, []string{"profile"}),
		SessionsStopped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_stopped_total",
			Help:      "Finalized recording sessions by stop reason.",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock length of finalized recording sessions.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60, 90},
		}),
		AcquireFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_failures_total",
			Help:      "Audio device acquisition failures by kind.",
		}, []string{"kind"}),
		TeardownFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_failures_total",
			Help:      "Teardown steps that failed or panicked.",
		}, []string{"step"}),
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording",
			Help:      "1 while a recording session is live.",
		}),
		Amplitude: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "amplitude",
			Help:      "Most recently sampled RMS amplitude.",
		}),

		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_requests_total",
			Help:      "process_audio uploads by outcome.",
		}, []string{"outcome"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Latency of process_audio uploads.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		SpeechRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_requests_total",
			Help:      "Text-to-speech synthesize-and-play attempts by outcome.",
		}, []string{"outcome"}),
		SpeechDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_duration_seconds",
			Help:      "Time from text-to-speech request to end of playback.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Control surface requests.",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control surface request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) SessionStarted(profile string) {
	m.SessionsStarted.WithLabelValues(profile).Inc()
	m.Recording.Set(1)
}

func (m *Metrics) SessionStopped(reason vad.Reason, elapsed time.Duration) {
	m.SessionsStopped.WithLabelValues(string(reason)).Inc()
	m.SessionDuration.Observe(elapsed.Seconds())
	m.Recording.Set(0)
	m.Amplitude.Set(0)
}

func (m *Metrics) AcquireFailed(err error) {
	m.AcquireFailures.WithLabelValues(acquireKind(err)).Inc()
}

func (m *Metrics) TeardownFailed(step string) {
	m.TeardownFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) ObserveAmplitude(amplitude float64) {
	m.Amplitude.Set(amplitude)
}

func (m *Metrics) TranscriptionObserved(outcome transport.Outcome, elapsed time.Duration) {
	m.TranscriptionRequests.WithLabelValues(string(outcome)).Inc()
	m.TranscriptionDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SpeechObserved(ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.SpeechRequests.WithLabelValues(outcome).Inc()
	m.SpeechDuration.Observe(elapsed.Seconds())
}

// HTTPObserved records one control surface request.
func (m *Metrics) HTTPObserved(method string, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func acquireKind(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
