package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the engine. A nil *Metrics
// disables instrumentation.
type Metrics struct {
	// retrievalSeconds records QueryLaw latency by stage: "search" or "rerank".
	retrievalSeconds *prometheus.HistogramVec

	// passagesReturned records how many passages each query returned.
	passagesReturned prometheus.Histogram

	// queriesTotal counts queries by outcome: "ok", "empty", or "error".
	queriesTotal *prometheus.CounterVec

	// chunksIndexed is the chunk count written by the most recent load.
	chunksIndexed prometheus.Gauge

	// sourcesSkipped counts sources skipped during load, by error kind.
	sourcesSkipped *prometheus.CounterVec
}

// NewMetrics registers the engine metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		retrievalSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "civic",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Latency of retrieval stages: broad vector search and cross-encoder rerank.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),

		passagesReturned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "civic",
			Subsystem: "retrieval",
			Name:      "passages_returned",
			Help:      "Number of passages returned per query after reranking.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		}),

		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic",
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Total retrieval queries, partitioned by outcome.",
		}, []string{"outcome"}),

		chunksIndexed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "civic",
			Subsystem: "index",
			Name:      "chunks",
			Help:      "Number of chunks written by the most recent load.",
		}),

		sourcesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "civic",
			Subsystem: "index",
			Name:      "sources_skipped_total",
			Help:      "Sources skipped during load, partitioned by error kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) observeStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.retrievalSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) observeQuery(outcome string, passages int) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	if outcome != "error" {
		m.passagesReturned.Observe(float64(passages))
	}
}

func (m *Metrics) observeLoad(chunks int, skipped []string) {
	if m == nil {
		return
	}
	m.chunksIndexed.Set(float64(chunks))
	for _, kind := range skipped {
		m.sourcesSkipped.WithLabelValues(kind).Inc()
	}
}
