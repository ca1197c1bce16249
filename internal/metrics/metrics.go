package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kapi",
		Name:      "reconcile_total",
		Help:      "Manifest reconciliations by operation and outcome action.",
	}, []string{"op", "action"})
	ReconcileErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kapi",
		Name:      "reconcile_errors_total",
		Help:      "Failed manifest reconciliations by operation and resource kind.",
	}, []string{"op", "kind"})
	ReconcileSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kapi",
		Name:      "reconcile_seconds",
		Help:      "Duration of single manifest reconciliations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	WebhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kapi",
		Name:      "webhook_events_total",
		Help:      "Suspension webhooks received by route and response status.",
	}, []string{"route", "status"})
	TelemetryDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kapi",
		Name:      "telemetry_dropped_total",
		Help:      "Transition events that could not be buffered or delivered.",
	})
)

func init() {
	prometheus.MustRegister(ReconcileTotal, ReconcileErrorsTotal, ReconcileSeconds, WebhookEventsTotal, TelemetryDroppedTotal)
}
