package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the recommendation pipeline
type Metrics struct {
	registry *prometheus.Registry

	pipelineRequests *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	verdicts         *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	modelRequests    *prometheus.CounterVec
	modelDuration    *prometheus.HistogramVec
	retrievalRoutes  *prometheus.CounterVec
	ledgerWrites     *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		pipelineRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealguard_pipeline_requests_total",
				Help: "Recommendation runs by outcome and error code",
			},
			[]string{"outcome", "code"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mealguard_stage_duration_seconds",
				Help:    "Duration of each pipeline stage",
				Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"stage", "status"},
		),
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealguard_safety_verdicts_total",
				Help: "Safety verdicts by status",
			},
			[]string{"status"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealguard_constraint_cache_lookups_total",
				Help: "Constraint cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		modelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealguard_model_requests_total",
				Help: "Language model calls by backend, task and status",
			},
			[]string{"backend", "task", "status"},
		),
		modelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mealguard_model_request_duration_seconds",
				Help:    "Language model call duration",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"backend", "task"},
		),
		retrievalRoutes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealguard_retrieval_routes_total",
				Help: "Retrieval routing decisions",
			},
			[]string{"route"},
		),
		ledgerWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealguard_ledger_writes_total",
				Help: "Nutrition ledger appends by status",
			},
			[]string{"status"},
		),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// PipelineOutcome records the end of one run. code is empty on success.
func (m *Metrics) PipelineOutcome(outcome, code string) {
	m.pipelineRequests.WithLabelValues(outcome, code).Inc()
}

// ObserveStage records how long a stage took
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// Verdict counts one safety verdict
func (m *Metrics) Verdict(status string) {
	m.verdicts.WithLabelValues(status).Inc()
}

// CacheLookup counts one constraint cache lookup
func (m *Metrics) CacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

// ModelCall records one language model call
func (m *Metrics) ModelCall(backend, task, status string, d time.Duration) {
	m.modelRequests.WithLabelValues(backend, task, status).Inc()
	m.modelDuration.WithLabelValues(backend, task).Observe(d.Seconds())
}

// Route counts one retrieval routing decision
func (m *Metrics) Route(route string) {
	m.retrievalRoutes.WithLabelValues(route).Inc()
}

// LedgerWrite counts one ledger append
func (m *Metrics) LedgerWrite(status string) {
	m.ledgerWrites.WithLabelValues(status).Inc()
}

// Handler returns the /metrics handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
