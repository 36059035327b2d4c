package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	passCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "orchestrator",
		Name:      "passes_total",
		Help:      "Number of completed sync passes.",
	})

	skippedPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "orchestrator",
		Name:      "passes_skipped_total",
		Help:      "Number of sync passes skipped because one was already running.",
	})

	eventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "orchestrator",
		Name:      "events_processed_total",
		Help:      "Number of events processed into reward transactions.",
	})

	rejectedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "orchestrator",
		Name:      "events_rejected_total",
		Help:      "Number of malformed events rejected by validation.",
	})
)

func init() {
	prometheus.MustRegister(passCounter, skippedPasses, eventsProcessed, rejectedCounter)
}
