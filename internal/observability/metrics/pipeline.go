package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics covers the query path: per-stage latencies, per-source
// candidate volumes, degradations, and abstention outcomes.
type PipelineMetrics struct {
	queriesTotal    *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	candidateCounts *prometheus.HistogramVec
	degradedTotal   *prometheus.CounterVec
	abstainedTotal  *prometheus.CounterVec
	evidenceItems   *prometheus.HistogramVec
}

func NewPipelineMetrics() *PipelineMetrics {
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winnow",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total evidence queries by outcome.",
		},
		[]string{"service", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "winnow",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Query stage duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "stage"},
	)
	candidateCounts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "winnow",
			Subsystem: "pipeline",
			Name:      "candidates",
			Help:      "Distribution of candidates returned per backend per query.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 75, 100, 150},
		},
		[]string{"service", "source"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winnow",
			Subsystem: "pipeline",
			Name:      "degraded_total",
			Help:      "Total degraded queries by degradation kind.",
		},
		[]string{"service", "kind"},
	)
	abstainedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winnow",
			Subsystem: "pipeline",
			Name:      "abstained_total",
			Help:      "Total abstentions by reason.",
		},
		[]string{"service", "reason"},
	)
	evidenceItems := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "winnow",
			Subsystem: "pipeline",
			Name:      "evidence_items",
			Help:      "Distribution of evidence items per answered query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 13},
		},
		[]string{"service"},
	)

	return &PipelineMetrics{
		queriesTotal:    queriesTotal,
		stageDuration:   stageDuration,
		candidateCounts: candidateCounts,
		degradedTotal:   degradedTotal,
		abstainedTotal:  abstainedTotal,
		evidenceItems:   evidenceItems,
	}
}

// Collectors returns every metric for registration on a shared registry.
func (m *PipelineMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.queriesTotal,
		m.stageDuration,
		m.candidateCounts,
		m.degradedTotal,
		m.abstainedTotal,
		m.evidenceItems,
	}
}

func (m *PipelineMetrics) ObserveStage(service, stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveCandidates(service, source string, count int) {
	m.candidateCounts.WithLabelValues(service, source).Observe(float64(count))
}

func (m *PipelineMetrics) RecordDegraded(service, kind string) {
	m.degradedTotal.WithLabelValues(service, kind).Inc()
}

func (m *PipelineMetrics) RecordOutcome(service, outcome string, items int) {
	m.queriesTotal.WithLabelValues(service, outcome).Inc()
	if outcome == "answered" {
		m.evidenceItems.WithLabelValues(service).Observe(float64(items))
	}
}

func (m *PipelineMetrics) RecordAbstention(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.abstainedTotal.WithLabelValues(service, reason).Inc()
}
