// Package server is the HTTP and WebSocket surface of the settlement
// service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/predictfi/settlebot/internal/domain"
	"github.com/predictfi/settlebot/internal/server/handler"
	"github.com/predictfi/settlebot/internal/server/middleware"
	"github.com/predictfi/settlebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// ResolveRateLimit caps POST /api/resolve calls per client IP per
	// ResolveRateWindow. Zero disables the limiter.
	ResolveRateLimit  int
	ResolveRateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Settlements *handler.SettlementHandler
	Resolve     *handler.ResolveHandler
}

// Server is the headless admin API for the settlement pipeline.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wires the middleware
// chain (auth, logging, CORS). limiter may be nil, disabling resolve-route
// throttling.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market read model.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/pending", handlers.Markets.ListPending)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// Settlement pipeline.
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Settlements.SettleMarket)
	mux.HandleFunc("POST /api/markets/{id}/settle/manual", handlers.Settlements.SettleManually)
	mux.HandleFunc("GET /api/settlements", handlers.Settlements.ListSettlements)
	mux.HandleFunc("GET /api/settlements/{id}", handlers.Settlements.GetSettlement)
	mux.HandleFunc("GET /api/settlements/{id}/evidence", handlers.Settlements.GetEvidence)

	// Raw resolution endpoint, throttled per client IP: every call is a
	// paid model invocation.
	var resolve http.Handler = http.HandlerFunc(handlers.Resolve.Resolve)
	if limiter != nil && cfg.ResolveRateLimit > 0 {
		window := cfg.ResolveRateWindow
		if window <= 0 {
			window = time.Minute
		}
		resolve = middleware.RateLimit(limiter, cfg.ResolveRateLimit, window)(resolve)
	}
	mux.Handle("POST /api/resolve", resolve)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
