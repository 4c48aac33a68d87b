package session

import "github.com/prometheus/client_golang/prometheus"

var (
	metricLoginSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gonexia_session_login_success_total",
			Help: "Successful sign-ins",
		},
	)
	metricLoginFailure = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gonexia_session_login_failure_total",
			Help: "Failed sign-in attempts",
		},
	)
	metricSessionValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gonexia_session_valid",
			Help: "Session validity (1=valid, 0=invalid)",
		},
	)
)

// MetricsCollectors returns collectors for the session manager.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		metricLoginSuccess,
		metricLoginFailure,
		metricSessionValid,
	}
}
