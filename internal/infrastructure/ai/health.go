package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/alchemorsel/mealguard/internal/ports/outbound"
	"go.uber.org/zap"
)

// HealthStatus describes the model backend's availability
type HealthStatus struct {
	Backend   string    `json:"backend"`
	Healthy   bool      `json:"healthy"`
	Probed    bool      `json:"probed"`
	Detail    string    `json:"detail"`
	LastCheck time.Time `json:"last_check"`
}

// HealthChecker probes the raw backend when it supports probing
type HealthChecker struct {
	backend outbound.LanguageModel
	logger  *zap.Logger
}

// NewHealthChecker creates a health checker for backend
func NewHealthChecker(backend outbound.LanguageModel, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{backend: backend, logger: logger.Named("ai-health")}
}

// CheckHealth probes the backend. Backends without a probe are reported
// healthy but unprobed.
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{Backend: h.backend.Name(), LastCheck: time.Now()}

	prober, ok := h.backend.(outbound.HealthChecker)
	if !ok {
		status.Healthy = true
		status.Detail = "configured"
		return status
	}

	status.Probed = true
	if err := prober.HealthCheck(ctx); err != nil {
		status.Detail = fmt.Sprintf("Unhealthy: %v", err)
		h.logger.Warn("Model backend health check failed", zap.String("backend", status.Backend), zap.Error(err))
		return status
	}

	status.Healthy = true
	status.Detail = "Healthy"
	h.logger.Debug("Model backend health check passed", zap.String("backend", status.Backend))
	return status
}

// HealthCheck adapts CheckHealth to the outbound.HealthChecker contract
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	status := h.CheckHealth(ctx)
	if !status.Healthy {
		return fmt.Errorf("%s: %s", status.Backend, status.Detail)
	}
	return nil
}
