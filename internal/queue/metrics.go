package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	syncedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "entries_synced_total",
		Help:      "Number of queue entries acknowledged by the backend.",
	})

	conflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "entries_reconciled_total",
		Help:      "Number of entries the backend already had, reconciled as synced.",
	})

	retriedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "attempts_retried_total",
		Help:      "Number of save attempts that failed transiently and were rescheduled.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "entries_failed_total",
		Help:      "Number of entries parked as permanently failed.",
	})

	depthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "entries",
		Help:      "Current queue entries by state, excluding dismissed ones.",
	}, []string{"state"})

	drainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitsync",
		Subsystem: "queue",
		Name:      "drain_duration_seconds",
		Help:      "Time spent claiming and uploading one drain run.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(syncedCounter, conflictCounter, retriedCounter, failedCounter, depthGauge, drainDuration)
}
