package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikitaKurtin/dbnd/internal/logger"
	"github.com/nikitaKurtin/dbnd/internal/logger/tag"
)

// Server serves /health and /metrics for the monitor process.
type Server struct {
	server   *http.Server
	registry *prometheus.Registry
	port     int
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewServer creates a health and metrics server. A zero port disables it.
func NewServer(port int, registry *prometheus.Registry) *Server {
	return &Server{
		port:     port,
		registry: registry,
	}
}

// Start starts the server.
func (s *Server) Start(ctx context.Context) error {
	if s.port == 0 {
		logger.Info(ctx, "Monitor health server disabled (port=0)")
		return nil
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.healthHandler)
	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Starting monitor health server", tag.Port(s.port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Health server error", tag.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	logger.Info(ctx, "Stopping monitor health server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shutdown monitor health server", tag.Error(err))
		return err
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{Status: "healthy"}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error(context.Background(), "Failed to encode health response", tag.Error(err))
	}
}
