package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow.
type BookingMetrics struct {
	attemptsTotal     *prometheus.CounterVec
	lapsedTotal       prometheus.Counter
	allocationLatency *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Total booking attempts by service type and outcome",
		}, []string{"service_type", "outcome"}),
		lapsedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "lapsed_rejected_total",
			Help:      "Pending appointments auto-rejected after their date passed",
		}),
		allocationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "allocation_latency_seconds",
			Help:      "Latency of queue slot allocation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal, m.lapsedTotal, m.allocationLatency)
	return m
}

func (m *BookingMetrics) ObserveAttempt(serviceType, outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(serviceType, outcome).Inc()
}

func (m *BookingMetrics) ObserveLapsed(count int) {
	if m == nil {
		return
	}
	m.lapsedTotal.Add(float64(count))
}

func (m *BookingMetrics) ObserveAllocationLatency(serviceType string, seconds float64) {
	if m == nil {
		return
	}
	m.allocationLatency.WithLabelValues(serviceType).Observe(seconds)
}
