package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the reservation and
// settlement flows. All methods are nil-safe so callers can run unmetered.
type SchedulingMetrics struct {
	reservationsTotal *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	callbacksTotal    *prometheus.CounterVec
	checkoutLatency   *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		reservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "reservations_total",
			Help:      "Slot reservation attempts by result",
		}, []string{"result"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "status_transitions_total",
			Help:      "Appointment status transition attempts",
		}, []string{"transition", "result"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "gateway_callbacks_total",
			Help:      "Gateway payment callbacks by outcome",
		}, []string{"gateway", "outcome"}),
		checkoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "checkout_session_seconds",
			Help:      "Latency of external checkout session creation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservationsTotal, m.transitionsTotal, m.callbacksTotal, m.checkoutLatency)
	return m
}

func (m *SchedulingMetrics) ObserveReservation(result string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(result).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(transition, result string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(transition, result).Inc()
}

func (m *SchedulingMetrics) ObserveCallback(gateway, outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(gateway, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveCheckout(gateway, result string, seconds float64) {
	if m == nil {
		return
	}
	m.checkoutLatency.WithLabelValues(gateway, result).Observe(seconds)
}
