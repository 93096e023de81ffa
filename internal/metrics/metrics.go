package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "asset_relay"

// Cache lookup outcomes.
const (
	OutcomeHit       = "hit"
	OutcomeMiss      = "miss"
	OutcomeCoalesced = "coalesced"
	OutcomeError     = "error"
)

// Metrics holds every collector of the process.
// Collectors are registered on the Registerer passed to New, so tests can use a private registry.
type Metrics struct {
	CacheLookups       *prometheus.CounterVec
	CacheEvictions     prometheus.Counter
	TransformDuration  prometheus.Histogram
	TransformsInFlight prometheus.Gauge
	TokenChecks        *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	BytesServed        *prometheus.CounterVec
	StreamAborts       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transform_cache",
				Name:      "lookups_total",
				Help:      "Transform cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		CacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transform_cache",
				Name:      "evictions_total",
				Help:      "Derived files removed from the cache directory by other processes",
			},
		),
		TransformDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transform",
				Name:      "duration_seconds",
				Help:      "Time spent computing and publishing derived files",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		TransformsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transform",
				Name:      "in_flight",
				Help:      "Transformations currently running on the worker pool",
			},
		),
		TokenChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "capability",
				Name:      "checks_total",
				Help:      "Capability token verifications by result",
			},
			[]string{"result"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		),
		BytesServed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "delivery",
				Name:      "bytes_total",
				Help:      "Body bytes written to clients",
			},
			[]string{"surface"},
		),
		StreamAborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "delivery",
				Name:      "aborted_streams_total",
				Help:      "Responses cut off after headers were sent",
			},
			[]string{"surface"},
		),
	}
}

// NewUnregistered returns collectors bound to a throwaway registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
