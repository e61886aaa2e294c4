// Package server exposes the local HTTP control surface used by the research
// console: recording control, listen, speech playback, live status over a
// websocket, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbright/hark/internal/audio"
	"github.com/rbright/hark/internal/indicator"
	"github.com/rbright/hark/internal/pipeline"
	"github.com/rbright/hark/internal/session"
)

// Sessions is the recording controller surface the server drives.
type Sessions interface {
	Stop() (session.Result, error)
	Cleanup()
	Snapshot() session.Status
}

// Flows runs capture-then-transcribe flows.
type Flows interface {
	Begin(ctx context.Context) (*pipeline.Pending, error)
	Listen(ctx context.Context) string
}

// Speaker plays synthesized speech.
type Speaker interface {
	Speak(ctx context.Context, text string, voiceID string) error
}

// HTTPMetrics observes served requests.
type HTTPMetrics interface {
	HTTPObserved(method string, route string, status int, elapsed time.Duration)
}

// PermissionFunc reports microphone access state.
type PermissionFunc func(context.Context) (audio.Permission, error)

// Deps are the server's collaborators. Logger, Gatherer, Metrics and
// Permission may be nil.
type Deps struct {
	Logger     *slog.Logger
	Sessions   Sessions
	Flows      Flows
	Speaker    Speaker
	Status     *indicator.Status
	Permission PermissionFunc
	Gatherer   prometheus.Gatherer
	Metrics    HTTPMetrics
}

// Server owns the gin engine and the most recent background capture.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader

	// base outlives requests; captures started over HTTP run under it.
	base context.Context

	mu      sync.Mutex
	pending *pipeline.Pending
}

// New builds the server and its routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		deps:   deps,
		logger: deps.Logger,
		base:   context.Background(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     sameOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.observe)
	s.registerRoutes(engine)
	s.engine = engine
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes(router gin.IRouter) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.POST("/recording/start", s.handleStart)
		api.POST("/recording/stop", s.handleStop)
		api.GET("/recording/last", s.handleLast)
		api.POST("/listen", s.handleListen)
		api.POST("/cleanup", s.handleCleanup)
		api.POST("/speak", s.handleSpeak)
		api.GET("/status", s.handleStatus)
		api.GET("/status/ws", s.handleStatusStream)
	}
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on an existing listener until ctx is cancelled, then
// shuts down gracefully and cleans up any live recording.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	s.base = ctx
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.Info("http control surface listening", "addr", listener.Addr().String())
	err := srv.Serve(listener)
	s.deps.Sessions.Cleanup()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) observe(c *gin.Context) {
	started := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	elapsed := time.Since(started)
	if s.deps.Metrics != nil {
		s.deps.Metrics.HTTPObserved(c.Request.Method, route, c.Writer.Status(), elapsed)
	}
	s.logger.Debug("http request",
		"method", c.Request.Method,
		"route", route,
		"status", c.Writer.Status(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func (s *Server) setPending(p *pipeline.Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = p
}

func (s *Server) lastPending() *pipeline.Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
