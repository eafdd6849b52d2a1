// Package server provides the operational HTTP server: Prometheus metrics
// and dependency health
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/alchemorsel/mealguard/internal/infrastructure/config"
	"github.com/alchemorsel/mealguard/internal/infrastructure/http/middleware"
	"github.com/alchemorsel/mealguard/internal/infrastructure/monitoring"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const metricsPath = "/metrics"

// Server represents the ops HTTP server
type Server struct {
	logger *zap.Logger
	router *chi.Mux
	server *http.Server
	health *monitoring.HealthCheckManager
}

// healthResponse is the /healthz body
type healthResponse struct {
	Status  string                   `json:"status"`
	Version string                   `json:"version"`
	Checks  []monitoring.HealthCheck `json:"checks"`
}

// NewServer creates a new ops server instance
func NewServer(cfg *config.Config, metrics *monitoring.Metrics, health *monitoring.HealthCheckManager, logger *zap.Logger) *Server {
	s := &Server{
		logger: logger.Named("ops"),
		health: health,
	}

	healthPath := cfg.Monitoring.HealthCheckPath
	if healthPath == "" {
		healthPath = "/healthz"
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(s.logger, metricsPath, healthPath))

	if metrics != nil {
		r.Method(http.MethodGet, metricsPath, metrics.Handler())
	}
	r.Get(healthPath, s.handleHealth(cfg.App.Version))
	s.router = r

	s.server = &http.Server{
		Addr:              cfg.Monitoring.MetricsAddr,
		Handler:           otelhttp.NewHandler(r, "ops"),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler without the tracing wrapper
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves until Shutdown. It
// returns once the listener is bound so callers see bind errors directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("ops server listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("Ops server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Ops server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Version: version, Checks: []monitoring.HealthCheck{}}
		if s.health != nil {
			resp.Checks = s.health.CheckAll(r.Context())
		}

		status := http.StatusOK
		for _, c := range resp.Checks {
			if !c.Healthy() {
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Warn("Failed to write health response", zap.Error(err))
		}
	}
}
