// Package metrics owns the Prometheus collectors of the ingestion and
// retrieval core. Collectors are registered against an injected
// prometheus.Registerer via promauto.With so tests stay hermetic.
//
// Every recording method is safe on a nil *Metrics, which lets components run
// without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name exported by docrag.
const Namespace = "docrag"

// Metrics holds the core collectors.
type Metrics struct {
	// embedBatchesTotal counts provider batches by final outcome: "ok",
	// "exhausted", "contract", "cancelled", or "error".
	embedBatchesTotal *prometheus.CounterVec

	// embedRetriesTotal counts retried provider attempts.
	embedRetriesTotal prometheus.Counter

	// embedInFlight is the number of provider batches currently executing.
	embedInFlight prometheus.Gauge

	// embedDurationSeconds records the latency of whole EmbedBatch calls.
	embedDurationSeconds prometheus.Histogram

	// ingestDocumentsTotal counts ingest calls by outcome ("ok" or an error kind).
	ingestDocumentsTotal *prometheus.CounterVec

	// ingestChunksTotal counts chunks persisted.
	ingestChunksTotal prometheus.Counter

	// ingestDurationSeconds records the latency of successful ingest calls.
	ingestDurationSeconds prometheus.Histogram

	// queriesTotal counts answered queries by outcome.
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records the latency of answered queries.
	queryDurationSeconds prometheus.Histogram
}

// New registers the core collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		embedBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "batches_total",
			Help:      "Embedding provider batches, partitioned by final outcome.",
		}, []string{"outcome"}),

		embedRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "retries_total",
			Help:      "Embedding provider attempts retried after a transient failure.",
		}),

		embedInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "in_flight_batches",
			Help:      "Embedding provider batches currently in flight.",
		}),

		embedDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Latency of complete embedding calls, across all batches and retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		ingestDocumentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Ingest calls, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks embedded and persisted.",
		}),

		ingestDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Latency of successful ingest calls.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Retrieval queries, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Latency of retrieval queries including answer generation.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// EmbedBatchDone records the final outcome of one provider batch.
func (m *Metrics) EmbedBatchDone(outcome string) {
	if m == nil {
		return
	}
	m.embedBatchesTotal.WithLabelValues(outcome).Inc()
}

// EmbedRetry records one retried provider attempt.
func (m *Metrics) EmbedRetry() {
	if m == nil {
		return
	}
	m.embedRetriesTotal.Inc()
}

// EmbedStarted marks a batch in flight; the returned func marks it finished.
func (m *Metrics) EmbedStarted() func() {
	if m == nil {
		return func() {}
	}
	m.embedInFlight.Inc()
	return m.embedInFlight.Dec
}

// EmbedObserve records the latency of a complete embedding call.
func (m *Metrics) EmbedObserve(d time.Duration) {
	if m == nil {
		return
	}
	m.embedDurationSeconds.Observe(d.Seconds())
}

// IngestDone records an ingest call. chunks and d are only recorded for
// outcome "ok".
func (m *Metrics) IngestDone(outcome string, chunks int, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDocumentsTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.ingestChunksTotal.Add(float64(chunks))
		m.ingestDurationSeconds.Observe(d.Seconds())
	}
}

// QueryDone records a retrieval query.
func (m *Metrics) QueryDone(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDurationSeconds.Observe(d.Seconds())
}
