package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tenantsProvisioned *prometheus.CounterVec
	datasetClones      *prometheus.CounterVec
	syncRuns           *prometheus.CounterVec
	syncWrites         *prometheus.CounterVec
	propagations       *prometheus.CounterVec
	quotaDecisions     *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		tenantsProvisioned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_tenants_provisioned_total",
				Help: "Tenant provisioning runs by result (complete or partial)",
			},
			[]string{"result"},
		),
		datasetClones: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_dataset_clones_total",
				Help: "Template dataset clones by dataset and outcome",
			},
			[]string{"dataset", "outcome"},
		),
		syncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_config_sync_total",
				Help: "Configuration sync runs by result (applied, unchanged or failed)",
			},
			[]string{"result"},
		),
		syncWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_config_sync_writes_total",
				Help: "Tenant store writes performed by configuration sync",
			},
			[]string{"kind"},
		),
		propagations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_plan_propagations_total",
				Help: "Per-tenant plan propagation pipelines by result",
			},
			[]string{"result"},
		),
		quotaDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haven_quota_decisions_total",
				Help: "Resource limit checks by resource and decision",
			},
			[]string{"resource", "decision"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "haven_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method", "status"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) TenantProvisioned(partial bool) {
	if m == nil {
		return
	}
	result := "complete"
	if partial {
		result = "partial"
	}
	m.tenantsProvisioned.WithLabelValues(result).Inc()
}

func (m *Metrics) DatasetCloned(dataset, outcome string) {
	if m == nil {
		return
	}
	m.datasetClones.WithLabelValues(dataset, outcome).Inc()
}

func (m *Metrics) SyncRun(result string) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) SyncWrite(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.syncWrites.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Propagated(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.propagations.WithLabelValues(result).Inc()
}

func (m *Metrics) QuotaDecision(resource string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	m.quotaDecisions.WithLabelValues(resource, decision).Inc()
}

func (m *Metrics) ObserveHTTP(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, status).Observe(seconds)
}
