// Package api exposes the chat engine over HTTP: an SSE streaming chat
// endpoint, a tool catalog endpoint, and health probes.
package api

import (
	"errors"
	"net/http"

	"github.com/quillcms/aichat/internal/guard"
	"github.com/quillcms/aichat/internal/log"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator TurnStreamer     // Required
	Catalog      ToolCatalog      // Optional: nil hides /api/tools and readiness detail
	Limiter      *guard.Limiter   // Required: per-user message budget
	Validator    *guard.Validator // Required: message content checks
	CORSOrigins  []string         // Allowed origins for CORS
	TrustProxy   bool             // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst    int              // Per-IP burst size (0 = default 60)
}

// Server is the JSON/SSE API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Limiter == nil || cfg.Validator == nil {
		return nil, errors.New("limiter and validator are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{
		orchestrator: cfg.Orchestrator,
		limiter:      cfg.Limiter,
		validator:    cfg.Validator,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", ch.stream)

	if cfg.Catalog != nil {
		th := &toolsHandler{catalog: cfg.Catalog, logger: logger}
		mux.HandleFunc("GET /api/tools", th.list)
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → Logging → CORS → RateLimit → Routes
	// CORS must be before RateLimit so preflight OPTIONS gets proper
	// CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.HandleFunc("GET /ready", readiness(cfg.Catalog, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
