package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Rounds          *prometheus.CounterVec
	StoreFailures   *prometheus.CounterVec
	EmbedFailures   *prometheus.CounterVec
	CorruptRecords  *prometheus.CounterVec
	RetrievedTurns  prometheus.Histogram
	GenerateLatency prometheus.Histogram
}

// NewMetrics registers the instruments on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Conversational rounds by outcome.",
		}, []string{"outcome"}),
		StoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Journal and index failures by store and operation.",
		}, []string{"store", "op"}),
		EmbedFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_failures_total",
			Help:      "Embedding failures by phase.",
		}, []string{"phase"}),
		CorruptRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrupt_records_total",
			Help:      "Records skipped because they could not be decoded.",
		}, []string{"store"}),
		RetrievedTurns: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_turns",
			Help:      "Past turns injected into each prompt.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		}),
		GenerateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generate_latency_seconds",
			Help:      "Time spent waiting for a completion.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}),
	}
}

func (m *Metrics) StoreFailure(store, op string) {
	if m == nil {
		return
	}
	m.StoreFailures.WithLabelValues(store, op).Inc()
}

func (m *Metrics) EmbedFailure(phase string) {
	if m == nil {
		return
	}
	m.EmbedFailures.WithLabelValues(phase).Inc()
}

func (m *Metrics) CorruptRecord(store string) {
	if m == nil {
		return
	}
	m.CorruptRecords.WithLabelValues(store).Inc()
}

func (m *Metrics) ObserveRetrieved(n int) {
	if m == nil {
		return
	}
	m.RetrievedTurns.Observe(float64(n))
}

// ObserveRound counts a finished round and how long generation took.
func (m *Metrics) ObserveRound(outcome string, generate time.Duration) {
	if m == nil {
		return
	}
	m.Rounds.WithLabelValues(outcome).Inc()
	m.GenerateLatency.Observe(generate.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
