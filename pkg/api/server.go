// Package api serves the cloudpilot HTTP API with gin.
//
// Public routes are /health, /ready, /metrics and /api/auth/login. Every
// other /api route requires a bearer token issued by the login route and
// the permission listed next to it in Server.routes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/cloudpilot/pkg/auth"
	"github.com/openfroyo/cloudpilot/pkg/service"
	"github.com/openfroyo/cloudpilot/pkg/telemetry"
)

// Options configures the API server.
type Options struct {
	Service *service.Service
	JWT     *auth.JWTManager
	Users   *auth.UserStore

	// Events feeds the request stream. May be nil, in which case the stream
	// only carries the final result.
	Events *telemetry.EventPublisher

	// Metrics is served at /metrics. May be nil.
	Metrics http.Handler

	// AllowedOrigins lists websocket origins; "*" allows any.
	AllowedOrigins []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Logger zerolog.Logger
}

// Server is the HTTP API.
type Server struct {
	opts     Options
	svc      *service.Service
	jwt      *auth.JWTManager
	users    *auth.UserStore
	events   *telemetry.EventPublisher
	upgrader websocket.Upgrader
	router   *gin.Engine
	logger   zerolog.Logger
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("api: service is required")
	}
	if opts.JWT == nil || opts.Users == nil {
		return nil, errors.New("api: jwt manager and users are required")
	}

	s := &Server{
		opts:   opts,
		svc:    opts.Service,
		jwt:    opts.JWT,
		users:  opts.Users,
		events: opts.Events,
		logger: opts.Logger.With().Str("component", "api").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	s.router = router
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/ready", s.ready)
	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	api := s.router.Group("/api")
	api.POST("/auth/login", s.login)

	mw := auth.NewMiddleware(s.jwt, s.logger)
	protected := api.Group("")
	protected.Use(mw.RequireAuth())

	protected.POST("/requests", auth.RequirePermission(auth.PermissionExecute), s.processRequest)
	protected.GET("/ws/requests", auth.RequirePermission(auth.PermissionExecute), s.streamRequest)
	protected.POST("/prompts/improve", auth.RequirePermission(auth.PermissionRead), s.improvePrompt)

	protected.GET("/remediations", auth.RequirePermission(auth.PermissionRead), s.listRuns)
	protected.GET("/remediations/:run_id", auth.RequirePermission(auth.PermissionRead), s.getRun)
	protected.POST("/remediations/:run_id/decision", auth.RequirePermission(auth.PermissionApprove), s.decideRun)

	protected.GET("/audit", auth.RequirePermission(auth.PermissionAudit), s.listAudit)
	protected.GET("/deployments", auth.RequirePermission(auth.PermissionAudit), s.listDeployments)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("Shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) ready(c *gin.Context) {
	if err := s.svc.Ready(c.Request.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "database connection failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// requestLogger opens the request span and logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	tracer := otel.Tracer("cloudpilot/api")
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		event := s.logger.Info()
		if status >= http.StatusInternalServerError {
			event = s.logger.Error()
		} else if status >= http.StatusBadRequest {
			event = s.logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("trace_id", telemetry.TraceID(ctx)).
			Msg("HTTP request")
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		// gorilla's default same-origin check
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		if set["*"] {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
