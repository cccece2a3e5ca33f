package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors on a registry it owns, so several
// services in one test binary never collide on the default registry.
type Metrics struct {
	registry *prometheus.Registry

	ingestRecords   prometheus.Counter
	ingestDocuments *prometheus.CounterVec
	queries         *prometheus.CounterVec
	queryDuration   prometheus.Histogram
	indexRecords    prometheus.Gauge
}

// NewMetrics registers the rag_* collectors plus the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_ingest_records_total",
			Help: "Records written to the index.",
		}),
		ingestDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_ingest_documents_total",
			Help: "Source documents processed by ingestion, by status.",
		}, []string{"status"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_queries_total",
			Help: "Questions answered, by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_query_duration_seconds",
			Help:    "Time spent answering a question.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		indexRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rag_index_records",
			Help: "Records currently in the index.",
		}),
	}
	m.registry.MustRegister(
		m.ingestRecords,
		m.ingestDocuments,
		m.queries,
		m.queryDuration,
		m.indexRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
