package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alchemorsel/mealguard/internal/domain/recommendation"
	"go.uber.org/zap"
)

// PipelineObserver feeds pipeline events into metrics, the usage meter and
// request-scoped logging. Either dependency may be nil.
type PipelineObserver struct {
	metrics *Metrics
	usage   *UsageMeter
}

// NewPipelineObserver creates a new pipeline observer
func NewPipelineObserver(metrics *Metrics, usage *UsageMeter) *PipelineObserver {
	return &PipelineObserver{metrics: metrics, usage: usage}
}

// RequestStarted tags ctx so model-call logs carry the request
func (o *PipelineObserver) RequestStarted(ctx context.Context, requestID, userID string) context.Context {
	return WithUserID(WithRequestID(ctx, requestID), userID)
}

// StageFinished records a stage duration
func (o *PipelineObserver) StageFinished(_ context.Context, stage string, err error, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveStage(stage, statusOf(err), elapsed)
}

// PipelineFinished counts a finished request
func (o *PipelineObserver) PipelineFinished(_ context.Context, outcome, code string) {
	if o.metrics == nil {
		return
	}
	o.metrics.PipelineOutcome(outcome, code)
}

// Verdict counts one safety verdict
func (o *PipelineObserver) Verdict(_ context.Context, status recommendation.SafetyStatus) {
	if o.metrics == nil {
		return
	}
	o.metrics.Verdict(string(status))
}

// LedgerWrite counts a nutrition ledger write
func (o *PipelineObserver) LedgerWrite(_ context.Context, err error) {
	if o.metrics == nil {
		return
	}
	o.metrics.LedgerWrite(statusOf(err))
}

// Routed records how the retriever routed a query
func (o *PipelineObserver) Routed(ctx context.Context, route string, _, contextChars int) {
	if o.metrics != nil {
		o.metrics.Route(route)
	}
	if o.usage != nil {
		o.usage.RecordContext(ctx, route, contextChars)
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// HealthCheck represents a health check result
type HealthCheck struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Healthy reports whether the check passed
func (h HealthCheck) Healthy() bool { return h.Status == "healthy" }

// Pinger is anything that can report its own health
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// HealthCheck calls f
func (f PingFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// HealthCheckManager runs the registered dependency checks for /healthz
type HealthCheckManager struct {
	mu      sync.RWMutex
	checks  map[string]Pinger
	timeout time.Duration
	tracing *TracingProvider
	logger  *zap.Logger
}

// NewHealthCheckManager creates a new health check manager
func NewHealthCheckManager(timeout time.Duration, tracing *TracingProvider, logger *zap.Logger) *HealthCheckManager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if tracing == nil {
		tracing = NewNoopTracing()
	}
	return &HealthCheckManager{
		checks:  make(map[string]Pinger),
		timeout: timeout,
		tracing: tracing,
		logger:  logger.Named("health"),
	}
}

// RegisterCheck registers a health check
func (h *HealthCheckManager) RegisterCheck(name string, checker Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
	h.logger.Debug("Health check registered", zap.String("name", name))
}

// CheckAll runs every registered check, sorted by name
func (h *HealthCheckManager) CheckAll(ctx context.Context) []HealthCheck {
	ctx, span := h.tracing.Tracer().Start(ctx, "health.check_all")
	defer span.End()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	results := make([]HealthCheck, 0, len(names))
	for _, name := range names {
		result, _ := h.Check(ctx, name)
		results = append(results, result)
	}
	return results
}

// Check runs a specific health check under the manager's timeout
func (h *HealthCheckManager) Check(ctx context.Context, name string) (HealthCheck, error) {
	h.mu.RLock()
	checker, exists := h.checks[name]
	h.mu.RUnlock()
	if !exists {
		return HealthCheck{}, fmt.Errorf("health check '%s' not found", name)
	}

	ctx, span := h.tracing.Tracer().Start(ctx, fmt.Sprintf("health.check.%s", name))
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	EndSpan(span, err)

	result := HealthCheck{
		Name:      name,
		Status:    "healthy",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = "unhealthy"
		result.Message = err.Error()
		h.logger.Warn("Health check failed",
			zap.String("check", name),
			zap.Duration("duration", result.Duration),
			zap.Error(err),
		)
	}
	return result, nil
}
