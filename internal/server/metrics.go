package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var rpcRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gohome_grpc_requests_total",
		Help: "Unary gRPC requests by method and status code",
	},
	[]string{"method", "code"},
)

// MetricsCollectors returns collectors owned by the server package.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{rpcRequests}
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
