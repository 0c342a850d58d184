// Package telemetry defines the Prometheus metrics exposed by the service.
// Metrics live in a standalone package to avoid import cycles between the
// auth middleware and the HTTP server.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuthenticatedRequests counts requests that carried a valid credential,
	// partitioned by credential source (cookie or bearer).
	AuthenticatedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_authenticated_requests_total",
		Help: "Requests authenticated successfully, by credential source",
	}, []string{"source"})

	// RejectedCredentials counts credentials that were presented but failed
	// validation, partitioned by credential source.
	RejectedCredentials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_rejected_credentials_total",
		Help: "Credentials rejected during authentication, by credential source",
	}, []string{"source"})

	// LoginsStarted counts authorization flows initiated via the login endpoint.
	LoginsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_started_total",
		Help: "Authorization flows started",
	})

	// CallbackResults counts completed callback handling, by outcome.
	CallbackResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_callback_results_total",
		Help: "Authorization callbacks processed, by result",
	}, []string{"result"})

	// SessionsTerminated counts sessions ended via the logout endpoint.
	SessionsTerminated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_terminated_total",
		Help: "Sessions terminated by logout",
	})

	// SessionsSwept counts idle sessions removed by the background sweeper.
	SessionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_swept_total",
		Help: "Idle sessions removed by the sweeper",
	})

	// TokenExchanges counts upstream token endpoint calls, by grant type.
	TokenExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_exchanges_total",
		Help: "Token endpoint exchanges performed, by grant type",
	}, []string{"grant"})
)

// Register registers all metrics on the given registry, or the default
// registry if nil. Duplicate registration is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		AuthenticatedRequests,
		RejectedCredentials,
		LoginsStarted,
		CallbackResults,
		SessionsTerminated,
		SessionsSwept,
		TokenExchanges,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
