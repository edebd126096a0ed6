// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/engine"
	"github.com/meikuraledutech/btchat/observability"
)

const shutdownTimeout = 10 * time.Second

// Server serves the btchat HTTP API.
type Server struct {
	engine     *engine.Engine
	logger     *observability.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
	timeout    time.Duration
	router     *gin.Engine
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the collector served on /metrics.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer sets the tracer provider used for request spans.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(s *Server) { s.tracer = tp }
}

// New creates a Server around eng.
func New(cfg btchat.ServerConfig, eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:  eng,
		timeout: cfg.RequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrNop(s.logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		router.Use(cors.New(corsConfig))
	}

	s.router = router
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group("/api")
	api.Use(s.withTimeout())

	sessions := api.Group("/sessions")
	{
		sessions.POST("", s.createSession)
		sessions.GET("/:id", s.getSession)
		sessions.DELETE("/:id", s.resetSession)
		sessions.POST("/:id/messages", s.sendMessage)
		sessions.POST("/:id/generate", s.pinned(btchat.ModeGenerate))
		sessions.POST("/:id/modify", s.pinned(btchat.ModeModify))
		sessions.POST("/:id/chat", s.pinned(btchat.ModeChat))
		sessions.POST("/:id/rows", s.generateFromRow)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
