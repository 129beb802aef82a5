package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/txinspector/service/db"
	"github.com/brojonat/txinspector/service/inspector"
	"github.com/brojonat/txinspector/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SubmissionStore is the read side of the submission history.
type SubmissionStore interface {
	ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*db.Submission, error)
	GetSubmissionBySignature(ctx context.Context, signature string) (*db.Submission, error)
}

// Server represents the HTTP server for the transaction inspector.
type Server struct {
	addr         string
	inspector    *inspector.Inspector
	store        SubmissionStore
	ssePublisher *SSEPublisher
	renderer     *TemplateRenderer
	version      string
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, the history endpoints answer 503.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, insp *inspector.Inspector, store SubmissionStore, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		inspector:    insp,
		store:        store,
		ssePublisher: ssePublisher,
		version:      "dev",
		metrics:      m,
		logger:       logger,
	}
}

// WithVersion sets the version reported by /health.
func (s *Server) WithVersion(version string) *Server {
	s.version = version
	return s
}

// WithTemplates adds template rendering support to the server using embedded files
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Submission routes
	route("POST /api/v1/submissions", "/api/v1/submissions", handleSubmit(s.inspector, s.logger))
	route("GET /api/v1/submissions", "/api/v1/submissions", handleListSubmissions(s.store, s.logger))
	route("GET /api/v1/submissions/{signature}", "/api/v1/submissions/{signature}", handleGetSubmission(s.store, s.logger))
	route("POST /api/v1/decode", "/api/v1/decode", handleDecode(s.inspector, s.logger))

	// Log routes
	route("GET /api/v1/logs", "/api/v1/logs", handleListLogs(s.inspector.Logs(), s.logger))
	route("DELETE /api/v1/logs", "/api/v1/logs", handleClearLogs(s.inspector.Logs(), s.logger))
	route("GET /api/v1/logs/export", "/api/v1/logs/export", handleExportLogs(s.inspector.Logs(), s.logger))

	// RPC endpoint routes
	route("GET /api/v1/rpc", "/api/v1/rpc", handleGetRPC(s.inspector, s.logger))
	route("PUT /api/v1/rpc", "/api/v1/rpc", handleSelectRPC(s.inspector, s.logger))

	// Wallet routes
	route("GET /api/v1/wallet", "/api/v1/wallet", handleGetWallet(s.inspector, s.logger))
	route("POST /api/v1/wallet/select", "/api/v1/wallet/select", handleSelectWallet(s.inspector, s.logger))
	route("POST /api/v1/wallet/connect", "/api/v1/wallet/connect", handleConnectWallet(s.inspector, s.logger))
	route("POST /api/v1/wallet/disconnect", "/api/v1/wallet/disconnect", handleDisconnectWallet(s.inspector, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/submissions", handleStreamSubmissions(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// HTML pages (if template renderer is configured)
	if s.renderer != nil {
		mux.HandleFunc("GET /{$}", handleInspectorPage(s.renderer, s.inspector))
		s.logger.Info("HTML page endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", handleHealth(s.version))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// submissions poll for up to a minute by default; SSE streams stay open
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
