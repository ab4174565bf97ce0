package fleet

import "github.com/prometheus/client_golang/prometheus"

var (
	workersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetd",
			Subsystem: "fleet",
			Name:      "workers",
			Help:      "Tracked workers by lifecycle state",
		},
		[]string{"state"},
	)

	queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetd",
			Subsystem: "fleet",
			Name:      "queue_depth",
			Help:      "Requests currently waiting for a worker",
		},
	)

	queueWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetd",
			Subsystem: "fleet",
			Name:      "queue_wait_seconds",
			Help:      "Time requests spent queued before assignment or timeout",
			Buckets:   prometheus.DefBuckets,
		},
	)

	spawnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "fleet",
			Name:      "spawns_total",
			Help:      "Workers spawned since start",
		},
	)

	prunesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "fleet",
			Name:      "prunes_total",
			Help:      "Workers pruned since start",
		},
	)

	probeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "fleet",
			Name:      "probe_failures_total",
			Help:      "Failed health probes",
		},
	)

	queueTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "fleet",
			Name:      "queue_timeouts_total",
			Help:      "Requests failed after waiting past the queue bound",
		},
	)

	proxyRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "fleet",
			Name:      "proxy_retries_total",
			Help:      "Proxied requests re-dispatched to a fresh worker",
		},
	)
)

func init() {
	prometheus.MustRegister(
		workersByState, queueDepthGauge, queueWaitSeconds,
		spawnsTotal, prunesTotal, probeFailuresTotal,
		queueTimeoutsTotal, proxyRetriesTotal,
	)
}
