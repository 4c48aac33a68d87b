package transport

import "github.com/prometheus/client_golang/prometheus"

var (
	metricRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gonexia_transport_requests_total",
			Help: "API requests issued, by method and status class",
		},
		[]string{"method", "class"},
	)
	metricRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gonexia_transport_retries_total",
			Help: "Request attempts beyond the first",
		},
	)
	metricEtagHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gonexia_transport_etag_hits_total",
			Help: "Conditional GETs answered from the ETag cache",
		},
	)
)

// MetricsCollectors returns collectors for the transport layer.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		metricRequests,
		metricRetries,
		metricEtagHits,
	}
}
