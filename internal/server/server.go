package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
	"github.com/alanyoungcy/triarb/internal/server/handler"
	"github.com/alanyoungcy/triarb/internal/server/middleware"
	"github.com/alanyoungcy/triarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter, when set, limits each client IP to RateLimit requests per
	// RateLimitWindow.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration

	// Observe receives every request outcome for metrics.
	Observe middleware.Observer
}

// Handlers aggregates the HTTP handlers the server registers. Everything but
// Health is optional; routes are only mounted for the handlers that are set.
type Handlers struct {
	Health  *handler.HealthHandler
	Live    *handler.LiveHandler
	History *handler.HistoryHandler
	Relay   *handler.RelayHandler
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the middleware chain applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	if l := handlers.Live; l != nil {
		mux.HandleFunc("GET /api/live/groups", l.Groups)
		mux.HandleFunc("GET /api/live/routes", l.Routes)
		mux.HandleFunc("GET /api/live/raw", l.Raw)
		mux.HandleFunc("GET /api/live/highlights", l.Highlights)
		mux.HandleFunc("GET /api/live/graph", l.Graph)
		mux.HandleFunc("GET /api/live/stats", l.Stats)
		mux.HandleFunc("GET /api/live/prices", l.Prices)
		mux.HandleFunc("GET /api/live/triangles", l.Triangles)
		mux.HandleFunc("GET /api/live/coins", l.Coins)
		mux.HandleFunc("GET /api/live/config", l.GetConfig)
		mux.HandleFunc("PUT /api/live/config", l.UpdateConfig)
		mux.HandleFunc("POST /api/live/clear", l.Clear)
		mux.HandleFunc("GET /api/feed/status", l.FeedStatus)
		mux.HandleFunc("POST /api/feed/reconnect", l.ReconnectFeed)
	}

	if hh := handlers.History; hh != nil {
		mux.HandleFunc("GET /api/history/opportunities", hh.Opportunities)
		mux.HandleFunc("GET /api/history/groups", hh.Groups)
		mux.HandleFunc("GET /api/history/summary", hh.Summary)
		mux.HandleFunc("GET /api/history/triangles", hh.Triangles)
	}

	if rh := handlers.Relay; rh != nil {
		mux.HandleFunc("GET /api/stream/opportunities", rh.Opportunities)
		mux.HandleFunc("GET /api/stream/prices", rh.Prices)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/health", "/metrics")(h)
	h = middleware.Logging(logger, cfg.Observe)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
