package reservation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reserve outcomes.
const (
	OutcomeReserved      = "reserved"
	OutcomeFallback      = "fallback"
	OutcomeInsufficient  = "insufficient_capacity"
	OutcomeConfiguration = "configuration_error"
	OutcomeError         = "error"
)

// Rejection reasons. A rejected proposal excludes its host and the loop retries.
const (
	RejectAffinity   = "affinity"
	RejectContention = "contention"
	RejectIneligible = "ineligible"
)

// Monitor collects reservation metrics. The zero value records nothing.
type Monitor struct {
	// A counter of Reserve calls by outcome.
	requests *prometheus.CounterVec
	// A histogram of claim attempts per Reserve call.
	attempts prometheus.Histogram
	// A histogram to measure how long Reserve takes in total.
	duration prometheus.Histogram
	// A counter of rejected proposals by reason.
	rejections *prometheus.CounterVec
	// A counter of reservations released by the sweeper.
	expired prometheus.Counter
}

// NewMonitor creates the reservation metrics and registers them.
func NewMonitor(registry prometheus.Registerer) Monitor {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_reserve_requests_total",
		Help: "Reserve calls by outcome",
	}, []string{"outcome"})
	attempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "placement_reserve_attempts",
		Help:    "Claim attempts per Reserve call",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "placement_reserve_duration_seconds",
		Help:    "Duration of Reserve calls",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 0.001s to ~32s in 16 buckets
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "placement_reserve_rejections_total",
		Help: "Rejected destination proposals by reason",
	}, []string{"reason"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "placement_reservations_expired_total",
		Help: "Pending reservations released after their TTL",
	})
	registry.MustRegister(
		requests,
		attempts,
		duration,
		rejections,
		expired,
	)
	return Monitor{
		requests:   requests,
		attempts:   attempts,
		duration:   duration,
		rejections: rejections,
		expired:    expired,
	}
}

func (m Monitor) observeReserve(outcome string, attempts int, seconds float64) {
	if m.requests != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
	if m.attempts != nil {
		m.attempts.Observe(float64(attempts))
	}
	if m.duration != nil {
		m.duration.Observe(seconds)
	}
}

func (m Monitor) observeRejection(reason string) {
	if m.rejections != nil {
		m.rejections.WithLabelValues(reason).Inc()
	}
}

func (m Monitor) observeExpired() {
	if m.expired != nil {
		m.expired.Inc()
	}
}
