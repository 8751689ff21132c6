// Package server provides the HTTP status server for a migration run.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/config"
	"github.com/heymumford/ztoq/internal/coordinator"
	"github.com/heymumford/ztoq/internal/health"
)

// Server exposes migration progress, health probes and Prometheus metrics
// over HTTP while a run is in flight.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	coordinator *coordinator.Coordinator
	healthCheck *health.HealthChecker
	logger      *zap.Logger
	cfg         config.ServerConfig
}

// New creates the status server
func New(cfg config.ServerConfig, metricsCfg config.MetricsConfig, coord *coordinator.Coordinator, healthCheck *health.HealthChecker, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		router:      router,
		coordinator: coord,
		healthCheck: healthCheck,
		logger:      logger,
		cfg:         cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	router.HandleFunc("/health/live", healthCheck.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", healthCheck.ReadinessHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/migrations/{project}/status", s.statusHandler).Methods(http.MethodGet)

	if metricsCfg.Enabled {
		router.Handle(metricsCfg.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	return s
}

// statusHandler serves the per-project progress report.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]

	report, err := s.coordinator.Status(r.Context(), project)
	if err != nil {
		s.logger.Error("Failed to build status report",
			zap.String("project", project),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build status report"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting status server", zap.Int("port", s.cfg.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the router, used by handler tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
