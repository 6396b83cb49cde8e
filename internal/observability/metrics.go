package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	TransformErrors  prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Provider fetch metrics.
	ProviderRequests    *prometheus.CounterVec   // labels: provider={openweather,airnow}, outcome={success,error,skipped}
	ProviderDuration    *prometheus.HistogramVec // labels: provider={openweather,airnow}
	ProviderBreakerOpen *prometheus.GaugeVec     // labels: provider={openweather,airnow}

	// Transform metrics.
	ObservationsInvalid prometheus.Counter
	FactsUpserted       prometheus.Counter
	DimensionsUpserted  prometheus.Counter
	TransformDuration   prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cityair_etl",
			Name:      "messages_consumed_total",
			Help:      "Total messages read from the raw observations topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cityair_etl",
			Name:      "messages_produced_total",
			Help:      "Total messages written to the daily facts topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cityair_etl",
			Name:      "transform_errors_total",
			Help:      "Total transformation failures.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cityair_etl",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cityair_etl",
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cityair_etl",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cityair_etl",
			Name:      "provider_requests_total",
			Help:      "Upstream provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cityair_etl",
			Name:      "provider_request_duration_seconds",
			Help:      "Upstream provider request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),
		ProviderBreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cityair_etl",
			Name:      "provider_breaker_open",
			Help:      "1 when the provider's circuit breaker is open, 0 otherwise.",
		}, []string{"provider"}),
		ObservationsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cityair_etl",
			Name:      "observations_invalid_total",
			Help:      "Total raw observations rejected during normalization.",
		}),
		FactsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cityair_etl",
			Name:      "facts_upserted_total",
			Help:      "Total daily fact rows written to the mart.",
		}),
		DimensionsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cityair_etl",
			Name:      "dimensions_upserted_total",
			Help:      "Total city dimension rows written to the mart.",
		}),
		TransformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cityair_etl",
			Name:      "transform_duration_seconds",
			Help:      "Duration of a complete transform run over the raw table.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	prometheus.MustRegister(
		m.MessagesConsumed,
		m.MessagesProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.ProviderRequests,
		m.ProviderDuration,
		m.ProviderBreakerOpen,
		m.ObservationsInvalid,
		m.FactsUpserted,
		m.DimensionsUpserted,
		m.TransformDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		MessagesConsumed:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cityair_etl", Name: "messages_consumed_total"}),
		MessagesProduced:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cityair_etl", Name: "messages_produced_total"}),
		TransformErrors:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cityair_etl", Name: "transform_errors_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "cityair_etl", Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "cityair_etl", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "cityair_etl", Name: "batch_processing_duration_seconds"}),
		ProviderRequests:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "cityair_etl", Name: "provider_requests_total"}, []string{"provider", "outcome"}),
		ProviderDuration:        prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "cityair_etl", Name: "provider_request_duration_seconds"}, []string{"provider"}),
		ProviderBreakerOpen:     prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "cityair_etl", Name: "provider_breaker_open"}, []string{"provider"}),
		ObservationsInvalid:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cityair_etl", Name: "observations_invalid_total"}),
		FactsUpserted:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cityair_etl", Name: "facts_upserted_total"}),
		DimensionsUpserted:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cityair_etl", Name: "dimensions_upserted_total"}),
		TransformDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "cityair_etl", Name: "transform_duration_seconds"}),
	}
}
