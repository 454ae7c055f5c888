package entry

import "github.com/prometheus/client_golang/prometheus"

var (
	entriesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_entries_created_total",
			Help: "Config entries created by setup flows",
		},
		[]string{"domain"},
	)
	entriesRecovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gohome_entries_recovered_total",
			Help: "Config entries restored from the blob mirror",
		},
		[]string{"domain"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gohome_entries_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"domain"},
	)
)

// MetricsCollectors returns collectors for the entry store.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		entriesCreated,
		entriesRecovered,
		remotePersistOK,
	}
}
