package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keyrecovery"

// Metrics records recovery and social recovery outcomes as prometheus
// counters. It satisfies the metrics interfaces of both the recovery manager
// and the social recovery engine.
type Metrics struct {
	recoveryStates     *prometheus.CounterVec
	cancelFailures     *prometheus.CounterVec
	authentications    *prometheus.CounterVec
	challengeResponses *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		recoveryStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recovery",
				Name:      "reconciled_total",
				Help: "Number of times each recovery state " +
					"was published.",
			},
			[]string{"state"},
		),
		cancelFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recovery",
				Name:      "cancel_failures_total",
				Help:      "Failed recovery cancellations.",
			},
			[]string{"side", "retryable"},
		),
		authentications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "socrec",
				Name:      "authentications_total",
				Help: "Trusted contact authentication " +
					"outcomes.",
			},
			[]string{"state"},
		),
		challengeResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "socrec",
				Name:      "challenge_responses_total",
				Help:      "Processed challenge responses.",
			},
			[]string{"valid"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.recoveryStates, m.cancelFailures, m.authentications,
		m.challengeResponses,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveRecovery counts a published recovery state.
func (m *Metrics) ObserveRecovery(state string) {
	m.recoveryStates.WithLabelValues(state).Inc()
}

// ObserveCancelFailure counts a failed cancellation. local is set when the
// server cancelled but the local state could not be cleared.
func (m *Metrics) ObserveCancelFailure(local, retryable bool) {
	side := "server"
	if local {
		side = "local"
	}

	m.cancelFailures.WithLabelValues(
		side, strconv.FormatBool(retryable),
	).Inc()
}

// ObserveAuthentication counts a trusted contact authentication outcome.
func (m *Metrics) ObserveAuthentication(state string) {
	m.authentications.WithLabelValues(state).Inc()
}

// ObserveChallengeResponse counts a processed challenge response.
func (m *Metrics) ObserveChallengeResponse(valid bool) {
	m.challengeResponses.WithLabelValues(strconv.FormatBool(valid)).Inc()
}
