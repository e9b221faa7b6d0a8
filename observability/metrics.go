// Package observability provides Prometheus metrics for the trust core:
// mode transitions, escalation lifecycle counts, and auction outcomes.
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "trustcore"

// Metrics holds all Prometheus collectors for the core. Initialize once at
// startup via NewMetrics; a nil *Metrics is safe to call and records nothing,
// so library code never needs to branch on instrumentation.
type Metrics struct {
	// ModeTransitionsTotal counts execution-mode changes.
	// Labels: from, to
	ModeTransitionsTotal *prometheus.CounterVec

	// EscalationsOpenedTotal counts escalation instances opened.
	EscalationsOpenedTotal prometheus.Counter

	// EscalationsClosedTotal counts instances reaching a terminal status.
	// Labels: status (resolved, exhausted, cancelled)
	EscalationsClosedTotal *prometheus.CounterVec

	// LevelAdvancesTotal counts level advancements.
	// Labels: reason (timeout, auction_failed)
	LevelAdvancesTotal *prometheus.CounterVec

	// AuctionsTotal counts auctions by outcome.
	// Labels: outcome (assigned, no_eligible_resolvers, no_qualifying_bid, cancelled)
	AuctionsTotal *prometheus.CounterVec

	// BidsReceivedTotal counts accepted bid submissions.
	BidsReceivedTotal prometheus.Counter

	// BidsRejectedTotal counts rejected bid submissions.
	// Labels: reason (too_late, duplicate, not_invited)
	BidsRejectedTotal *prometheus.CounterVec

	// AuctionDurationSeconds measures time from broadcast to decision.
	AuctionDurationSeconds prometheus.Histogram
}

// NewMetrics registers all collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ModeTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mode_transitions_total",
			Help:      "Execution mode transitions by from/to mode.",
		}, []string{"from", "to"}),
		EscalationsOpenedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "escalations_opened_total",
			Help:      "Escalation instances opened.",
		}),
		EscalationsClosedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "escalations_closed_total",
			Help:      "Escalation instances closed by terminal status.",
		}, []string{"status"}),
		LevelAdvancesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "level_advances_total",
			Help:      "Escalation level advancements by reason.",
		}, []string{"reason"}),
		AuctionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auctions_total",
			Help:      "Auctions run by outcome.",
		}, []string{"outcome"}),
		BidsReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bids_received_total",
			Help:      "Bids accepted into open auctions.",
		}),
		BidsRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bids_rejected_total",
			Help:      "Bid submissions rejected by reason.",
		}, []string{"reason"}),
		AuctionDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "auction_duration_seconds",
			Help:      "Time from bid-request broadcast to auction decision.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// ObserveModeTransition records a mode change. Nil-safe.
func (m *Metrics) ObserveModeTransition(from, to string) {
	if m == nil {
		return
	}
	m.ModeTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveEscalationOpened records an opened instance. Nil-safe.
func (m *Metrics) ObserveEscalationOpened() {
	if m == nil {
		return
	}
	m.EscalationsOpenedTotal.Inc()
}

// ObserveEscalationClosed records a terminal status. Nil-safe.
func (m *Metrics) ObserveEscalationClosed(status string) {
	if m == nil {
		return
	}
	m.EscalationsClosedTotal.WithLabelValues(status).Inc()
}

// ObserveLevelAdvance records a level advancement. Nil-safe.
func (m *Metrics) ObserveLevelAdvance(reason string) {
	if m == nil {
		return
	}
	m.LevelAdvancesTotal.WithLabelValues(reason).Inc()
}

// ObserveAuction records an auction outcome and duration. Nil-safe.
func (m *Metrics) ObserveAuction(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AuctionsTotal.WithLabelValues(outcome).Inc()
	m.AuctionDurationSeconds.Observe(seconds)
}

// ObserveBidReceived records an accepted bid. Nil-safe.
func (m *Metrics) ObserveBidReceived() {
	if m == nil {
		return
	}
	m.BidsReceivedTotal.Inc()
}

// ObserveBidRejected records a rejected bid. Nil-safe.
func (m *Metrics) ObserveBidRejected(reason string) {
	if m == nil {
		return
	}
	m.BidsRejectedTotal.WithLabelValues(reason).Inc()
}
