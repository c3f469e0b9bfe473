// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics owns its registry so tests and multiple pipelines never collide on
// the global default registerer. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	messagesExtracted *prometheus.CounterVec
	rateLimitWaits    prometheus.Counter
	lakeRejected      prometheus.Counter
	rowsLoaded        *prometheus.CounterVec
	rowsRejected      *prometheus.CounterVec
	stageRuns         *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
}

// New creates and registers the pipeline metrics.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.messagesExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_messages_extracted_total",
			Help: "Total number of channel messages written to the lake",
		},
		[]string{"channel"},
	)
	m.rateLimitWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "elt_rate_limit_waits_total",
		Help: "Total number of waits imposed by upstream rate limits",
	})
	m.lakeRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "elt_lake_files_rejected_total",
		Help: "Total number of lake files skipped as malformed",
	})
	m.rowsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_rows_loaded_total",
			Help: "Total number of rows written to the warehouse",
		},
		[]string{"table"},
	)
	m.rowsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_rows_rejected_total",
			Help: "Total number of rows dropped before upload",
		},
		[]string{"table"},
	)
	m.stageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elt_stage_runs_total",
			Help: "Total number of pipeline stage executions",
		},
		[]string{"stage", "status"},
	)
	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "elt_stage_duration_seconds",
			Help: "Time taken by pipeline stages",
			// 1s to ~68min
			Buckets: prometheus.ExponentialBuckets(1, 2, 13),
		},
		[]string{"stage"},
	)

	for _, c := range []prometheus.Collector{
		m.messagesExtracted,
		m.rateLimitWaits,
		m.lakeRejected,
		m.rowsLoaded,
		m.rowsRejected,
		m.stageRuns,
		m.stageDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) AddExtracted(channel string, n int) {
	if m == nil {
		return
	}
	m.messagesExtracted.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) IncRateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
}

func (m *Metrics) AddLakeRejected(n int) {
	if m == nil {
		return
	}
	m.lakeRejected.Add(float64(n))
}

func (m *Metrics) AddRowsLoaded(table string, n int) {
	if m == nil {
		return
	}
	m.rowsLoaded.WithLabelValues(table).Add(float64(n))
}

func (m *Metrics) AddRowsRejected(table string, n int) {
	if m == nil {
		return
	}
	m.rowsRejected.WithLabelValues(table).Add(float64(n))
}

// ObserveStage records one stage execution and its duration.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
