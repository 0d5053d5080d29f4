// Package metrics exposes pipeline and cache instrumentation as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "querysight"

// Cache request results.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultExpired = "expired"
	ResultCorrupt = "corrupt"
	ResultBypass  = "bypass"
)

// Metrics owns a private registry so tests and multiple servers in one process
// never collide on the global default registerer. All methods are safe on a nil
// receiver, which disables recording.
type Metrics struct {
	registry *prometheus.Registry

	cacheRequests      *prometheus.CounterVec
	cacheWrites        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	recordsProcessed   prometheus.Counter
	recordsUnparseable prometheus.Counter
	patternsFound      prometheus.Gauge
	mappingCoverage    prometheus.Gauge
	toolCalls          *prometheus.CounterVec
}

// New creates the metric set on a fresh registry, including Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by category and result (hit, miss, expired, corrupt, bypass)",
		}, []string{"category", "result"}),
		cacheWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Cache entries written by category",
		}, []string{"category"}),
		cacheInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache entries removed by explicit or cascading invalidation",
		}, []string{"category"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each analysis stage by outcome (cached, computed, failed)",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage", "outcome"}),
		recordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_processed_total",
			Help:      "Query log records fingerprinted",
		}),
		recordsUnparseable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_unparseable_total",
			Help:      "Query log records that could not be tokenized",
		}),
		patternsFound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "patterns",
			Help:      "Query patterns produced by the last pattern analysis",
		}),
		mappingCoverage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "model_coverage_ratio",
			Help:      "Fraction of patterns mapped to at least one model in the last integration",
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool invocations by tool and outcome (ok, tool_error, error)",
		}, []string{"tool", "outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheRequest(category, result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(category, result).Inc()
}

func (m *Metrics) CacheWrite(category string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(category).Inc()
}

func (m *Metrics) CacheInvalidations(category string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheInvalidations.WithLabelValues(category).Add(float64(n))
}

func (m *Metrics) StageDuration(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordsProcessed(processed, unparseable int) {
	if m == nil {
		return
	}
	m.recordsProcessed.Add(float64(processed))
	m.recordsUnparseable.Add(float64(unparseable))
}

func (m *Metrics) Patterns(n int) {
	if m == nil {
		return
	}
	m.patternsFound.Set(float64(n))
}

func (m *Metrics) Coverage(ratio float64) {
	if m == nil {
		return
	}
	m.mappingCoverage.Set(ratio)
}

func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}
