package flow

import "github.com/prometheus/client_golang/prometheus"

var flowResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gohome_flow_results_total",
		Help: "Setup flow step results by type",
	},
	[]string{"domain", "type"},
)

// MetricsCollectors returns collectors for the flow manager.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{flowResults}
}
