package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "coordinator",
		Name:      "notifications_total",
		Help:      "Number of change notifications received, labeled by record type.",
	}, []string{"record_type"})

	coalescedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "coordinator",
		Name:      "notifications_coalesced_total",
		Help:      "Number of notifications merged into an already-scheduled fetch.",
	}, []string{"record_type"})

	fetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "coordinator",
		Name:      "fetches_total",
		Help:      "Number of successful delta fetches, labeled by record type.",
	}, []string{"record_type"})

	fetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "coordinator",
		Name:      "fetch_errors_total",
		Help:      "Number of failed delta fetches, labeled by record type.",
	}, []string{"record_type"})

	handlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "coordinator",
		Name:      "handler_errors_total",
		Help:      "Number of handler invocations that returned an error.",
	}, []string{"record_type"})
)

func init() {
	prometheus.MustRegister(notificationsTotal, coalescedTotal, fetchesTotal, fetchErrors, handlerErrors)
}
