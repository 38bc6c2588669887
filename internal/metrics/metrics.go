// Package metrics holds the Prometheus collectors of the sign-in core.
// Standalone so session, intake and HTTP packages share them without
// import cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ExchangeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_exchange_attempts_total",
		Help: "Exchange attempts by outcome (authenticated, sign_in_incomplete, provider_failure, token_expired, rejected_concurrent, rejected_validation, superseded)",
	}, []string{"outcome"})

	StatusChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_status_checks_total",
		Help: "Provider status checks by outcome (authenticated, not_authenticated, error, skipped_in_flight)",
	}, []string{"outcome"})

	TransitionsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_session_transitions_total",
		Help: "Published session transitions by resulting status",
	}, []string{"status"})

	IntakeDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authbridge_intake_deliveries_total",
		Help: "Link-callback deliveries by result (accepted, replay, invalid, rejected, dropped)",
	}, []string{"result"})

	SessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authbridge_session_state",
		Help: "Current session state (0 unknown, 1 authenticating, 2 authenticated, 3 not_authenticated, 4 error)",
	})
)

// Register registers all collectors on reg (default registerer when nil),
// tolerating double registration so tests and the harness can share one
// process.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		ExchangeAttempts,
		StatusChecks,
		TransitionsPublished,
		IntakeDeliveries,
		SessionState,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
