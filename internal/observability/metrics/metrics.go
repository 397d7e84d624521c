// Package metrics exposes Prometheus counters for the voice-booking core:
// availability-cache hit/miss rate (C3), PMS call outcomes (C2), and
// booking-flow results (C8). Registered once per process and threaded into
// the components that observe these events as they happen.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/histogram the voice-booking core emits.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	pmsCallTotal    *prometheus.CounterVec
	pmsCallDuration *prometheus.HistogramVec
	bookingOutcomes *prometheus.CounterVec
}

// New builds and registers Metrics against reg. A nil reg registers
// against prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "availcache",
			Name:      "lookups_total",
			Help:      "Availability cache lookups by result (hit, miss).",
		}, []string{"result"}),
		pmsCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "pms",
			Name:      "calls_total",
			Help:      "PMS API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		pmsCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicvoice",
			Subsystem: "pms",
			Name:      "call_duration_seconds",
			Help:      "PMS API call latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		bookingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicvoice",
			Subsystem: "booking",
			Name:      "outcomes_total",
			Help:      "Booking-flow outcomes by action (book, reschedule, cancel) and result.",
		}, []string{"action", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.cacheLookups, m.pmsCallTotal, m.pmsCallDuration, m.bookingOutcomes)
	return m
}

// ObserveCacheHit records a fresh availability_cache read.
func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

// ObserveCacheMiss records an absent, stale, or expired entry — the three
// conditions availcache.Get folds into ErrMiss.
func (m *Metrics) ObserveCacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObservePMSCall records one upstream PMS round trip.
func (m *Metrics) ObservePMSCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.pmsCallTotal.WithLabelValues(operation, outcome).Inc()
	m.pmsCallDuration.WithLabelValues(operation).Observe(seconds)
}

// ObserveBooking records the terminal result of a book/reschedule/cancel
// request.
func (m *Metrics) ObserveBooking(action, result string) {
	if m == nil {
		return
	}
	m.bookingOutcomes.WithLabelValues(action, result).Inc()
}
