package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/store"
)

// HealthChecker provides liveness and readiness handlers for the status
// server.
type HealthChecker struct {
	entityStore     store.EntityStore
	checkpointStore store.CheckpointStore
	logger          *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(entityStore store.EntityStore, checkpointStore store.CheckpointStore, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		entityStore:     entityStore,
		checkpointStore: checkpointStore,
		logger:          logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkEntityStore(ctx); err != nil {
		h.logger.Error("Entity store health check failed", zap.Error(err))
		checks["entity_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["entity_store"] = "healthy"
	}

	if err := h.checkCheckpointStore(ctx); err != nil {
		h.logger.Error("Checkpoint store health check failed", zap.Error(err))
		checks["checkpoint_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["checkpoint_store"] = "healthy"
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

func (h *HealthChecker) checkEntityStore(ctx context.Context) error {
	if h.entityStore == nil {
		return nil
	}
	return h.entityStore.Ping(ctx)
}

func (h *HealthChecker) checkCheckpointStore(ctx context.Context) error {
	if h.checkpointStore == nil {
		return nil
	}
	return h.checkpointStore.Ping(ctx)
}
