package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "invoice_matcher"

// PipelineMetrics captures ingestion outcomes and extraction spend
type PipelineMetrics struct {
	outcomes           *prometheus.CounterVec
	extractions        *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	extractionCost     prometheus.Counter
	monthSpend         prometheus.Gauge
}

// NewPipelineMetrics registers the collectors on registerer. A nil
// registerer uses the default registry.
func NewPipelineMetrics(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &PipelineMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_outcomes_total",
			Help:      "Uploaded files by batch outcome.",
		}, []string{"outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction stage results by terminal status.",
		}, []string{"status"}),
		extractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent in the serialized extraction stage, including queueing.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"status"}),
		extractionCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_cost_cents_total",
			Help:      "Estimated extraction cost in cents.",
		}),
		monthSpend: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extraction_month_spend_cents",
			Help:      "Month-to-date extraction spend in cents at the last batch.",
		}),
	}

	registerer.MustRegister(
		m.outcomes,
		m.extractions,
		m.extractionDuration,
		m.extractionCost,
		m.monthSpend,
	)
	return m
}

// ObserveOutcome counts one file outcome
func (m *PipelineMetrics) ObserveOutcome(kind string) {
	m.outcomes.WithLabelValues(kind).Inc()
}

// ObserveExtraction records one extraction stage
func (m *PipelineMetrics) ObserveExtraction(status string, elapsed time.Duration, costCents int64) {
	m.extractions.WithLabelValues(status).Inc()
	m.extractionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	if costCents > 0 {
		m.extractionCost.Add(float64(costCents))
	}
}

// SetMonthSpend updates the spend gauge
func (m *PipelineMetrics) SetMonthSpend(cents int64) {
	m.monthSpend.Set(float64(cents))
}
