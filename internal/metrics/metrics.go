// Package metrics exposes capture pipeline counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
	mergeOutcomes   *prometheus.CounterVec
	extracted       *prometheus.HistogramVec
	dropped         *prometheus.CounterVec
	strategyWins    *prometheus.CounterVec
	storageUsed     prometheus.Gauge
	pending         prometheus.Gauge
}

// New registers every collector on a fresh registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_capture_decisions_total",
			Help: "Capture decisions by platform, outcome and reason.",
		}, []string{"platform", "decision", "reason"}),
		captureDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_capture_duration_seconds",
			Help:    "Time from page snapshot to decision, including persistence.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"platform"}),
		mergeOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_merge_outcomes_total",
			Help: "Results of committed captures by merge outcome.",
		}, []string{"outcome"}),
		extracted: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_extracted_messages",
			Help:    "Messages per extraction after near-duplicate reduction.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
		}, []string{"platform"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_extraction_dropped_total",
			Help: "Candidates dropped during extraction.",
		}, []string{"platform", "kind"}),
		strategyWins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_extraction_strategy_wins_total",
			Help: "Which extraction strategy produced the kept message list.",
		}, []string{"platform", "strategy"}),
		storageUsed: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_storage_used_bytes",
			Help: "Last observed origin storage usage.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_pending_captures",
			Help: "Held captures awaiting a forced archive.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveDecision(platform, decision, reason string, seconds float64) {
	m.decisions.WithLabelValues(platform, decision, reason).Inc()
	m.captureDuration.WithLabelValues(platform).Observe(seconds)
}

func (m *Metrics) ObserveExtraction(platform, winner string, messages, duplicates, unknownRole int) {
	m.extracted.WithLabelValues(platform).Observe(float64(messages))
	m.strategyWins.WithLabelValues(platform, winner).Inc()
	if duplicates > 0 {
		m.dropped.WithLabelValues(platform, "duplicate").Add(float64(duplicates))
	}
	if unknownRole > 0 {
		m.dropped.WithLabelValues(platform, "unknown_role").Add(float64(unknownRole))
	}
}

func (m *Metrics) ObserveMerge(outcome string) {
	m.mergeOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetStorageUsed(bytes int64) {
	m.storageUsed.Set(float64(bytes))
}

func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}
