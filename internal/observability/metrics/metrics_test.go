package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestBookingMetricsObserve(t *testing.T) {
	m := NewBookingMetrics(prometheus.NewRegistry())
	m.ObserveAttempt("play_therapy", "booked")
	m.ObserveAttempt("play_therapy", "capacity_exhausted")
	m.ObserveLapsed(3)
	m.ObserveAllocationLatency("play_therapy", 0.05)
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveAttempt("play_therapy", "booked")
	m.ObserveLapsed(1)
	m.ObserveAllocationLatency("play_therapy", 0.1)
}
