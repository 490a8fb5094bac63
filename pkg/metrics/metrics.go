package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mathmentor"

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	StageDuration     *prometheus.HistogramVec
	StageFallbacks    *prometheus.CounterVec
	RunsTotal         *prometheus.CounterVec
	SandboxExecutions *prometheus.CounterVec
	ChunksIngested    prometheus.Counter
	Retrievals        *prometheus.CounterVec
	MemoryAppends     *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of agent graph stages",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		StageFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_fallbacks_total",
			Help:      "Stages that caught a failure and ended the run",
		}, []string{"stage"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished agent graph runs by outcome",
		}, []string{"outcome"}),
		SandboxExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_executions_total",
			Help:      "Sandboxed code executions by result",
		}, []string{"result"}),
		ChunksIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_chunks_ingested_total",
			Help:      "Chunks upserted into the knowledge index",
		}),
		Retrievals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_queries_total",
			Help:      "Knowledge store queries by embedding cache result",
		}, []string{"cache"}),
		MemoryAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_appends_total",
			Help:      "Memory log appends by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) Fallback(stage string) {
	if m == nil {
		return
	}
	m.StageFallbacks.WithLabelValues(stage).Inc()
}

func (m *Metrics) Run(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Sandbox(result string) {
	if m == nil {
		return
	}
	m.SandboxExecutions.WithLabelValues(result).Inc()
}

func (m *Metrics) Ingested(chunks int) {
	if m == nil {
		return
	}
	m.ChunksIngested.Add(float64(chunks))
}

func (m *Metrics) Retrieval(cacheHit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	m.Retrievals.WithLabelValues(label).Inc()
}

func (m *Metrics) MemoryAppend(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MemoryAppends.WithLabelValues(result).Inc()
}
