package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/shinrai/internal/accountability"
	"github.com/ashita-ai/shinrai/internal/auth"
	"github.com/ashita-ai/shinrai/internal/detection"
	"github.com/ashita-ai/shinrai/internal/flags"
	"github.com/ashita-ai/shinrai/internal/model"
	"github.com/ashita-ai/shinrai/internal/ratelimit"
)

// Server is the shinrai HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter, DB and OpenAPISpec are optional.
type ServerConfig struct {
	Detection      *detection.Service
	Accountability *accountability.Service
	Flags          *flags.Service
	JWTMgr         *auth.JWTManager
	Logger         *slog.Logger

	Limiter ratelimit.Limiter
	DB      Pinger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CacheTTL            time.Duration

	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Detection:           cfg.Detection,
		Scores:              cfg.Accountability,
		Flags:               cfg.Flags,
		DB:                  cfg.DB,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CacheTTL:            cfg.CacheTTL,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	// Detection and recalculation scan the whole program, so they are throttled per caller.
	runRL := ratelimit.Middleware(cfg.Limiter, userKeyFunc, reqIDFunc, cfg.Logger)

	adminOnly := requireRole(model.RoleAdmin)
	readRole := requireRole(model.RoleReader)

	mux := http.NewServeMux()

	// Flags.
	mux.Handle("POST /v1/flags/detect", adminOnly(runRL(http.HandlerFunc(h.HandleDetect))))
	mux.Handle("GET /v1/flags", readRole(http.HandlerFunc(h.HandleListFlags)))
	mux.Handle("POST /v1/flags", readRole(http.HandlerFunc(h.HandleCreateFlag)))
	mux.Handle("PATCH /v1/flags/{id}", adminOnly(http.HandlerFunc(h.HandleReviewFlag)))
	mux.Handle("POST /v1/flags/{id}/respond", readRole(http.HandlerFunc(h.HandleRespondFlag)))

	// Scores.
	mux.Handle("POST /v1/scores/recalculate", adminOnly(runRL(http.HandlerFunc(h.HandleRecalculate))))
	mux.Handle("POST /v1/scores/publish", adminOnly(http.HandlerFunc(h.HandlePublish)))
	mux.Handle("GET /v1/scores/leaderboard", readRole(http.HandlerFunc(h.HandleLeaderboard)))
	mux.Handle("GET /v1/people/{id}/score", readRole(http.HandlerFunc(h.HandlePersonScore)))
	mux.Handle("GET /v1/organizations/{id}/score", readRole(http.HandlerFunc(h.HandleOrganizationScore)))

	// Disputes.
	mux.Handle("POST /v1/disputes", readRole(http.HandlerFunc(h.HandleSubmitDispute)))
	mux.Handle("PATCH /v1/disputes/{id}", adminOnly(http.HandlerFunc(h.HandleReviewDispute)))

	// No auth, no rate limit.
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(newHTTPInstruments(), handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// InvalidateScores drops cached score reads. Writers that bypass the HTTP
// routes, such as the scheduled loops, call it after changing scores.
func (s *Server) InvalidateScores() {
	s.handlers.invalidateScores()
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
