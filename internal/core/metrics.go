package core

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the Service.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	transfers  *prometheus.CounterVec
	volume     prometheus.Counter
	violations *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "platecore",
				Subsystem: "service",
				Name:      "operations_total",
				Help:      "Service operations by outcome.",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "platecore",
				Subsystem: "service",
				Name:      "operation_duration_seconds",
				Help:      "Service operation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "platecore",
				Subsystem: "picklist",
				Name:      "transfers_total",
				Help:      "Picklist transfers by outcome.",
			},
			[]string{"outcome"},
		),
		volume: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "platecore",
				Subsystem: "picklist",
				Name:      "volume_liters_total",
				Help:      "Liquid volume moved by committed transfers and dispenses.",
			},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "platecore",
				Subsystem: "rules",
				Name:      "violations_total",
				Help:      "Rule violations by rule and severity.",
			},
			[]string{"rule", "severity"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.transfers, m.volume, m.violations)
	}
	return m
}

// DefaultMetrics returns collectors registered once with the default registry.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func (m *Metrics) observeOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) observeTransfers(applied, failed int, volume float64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues("applied").Add(float64(applied))
	m.transfers.WithLabelValues("failed").Add(float64(failed))
	m.volume.Add(volume)
}

func (m *Metrics) observeResult(res Result) {
	if m == nil {
		return
	}
	for _, v := range res.Violations {
		m.violations.WithLabelValues(v.Rule, string(v.Severity)).Inc()
	}
}
