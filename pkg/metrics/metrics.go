package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker by type and result",
		},
		[]string{"type", "result"},
	)

	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Broker deliveries by queue, event type and outcome (ack, nack)",
		},
		[]string{"queue", "type", "outcome"},
	)

	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_sweeps_total",
			Help: "Escalation sweeps by result (completed, skipped, failed)",
		},
		[]string{"result"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escalation_sweep_duration_seconds",
			Help:    "Duration of completed escalation sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReportsEscalated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_escalated_total",
			Help: "Reports escalated by the sweep, by new level",
		},
		[]string{"level"},
	)

	EscalationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "report_escalation_failures_total",
			Help: "Per-report escalation attempts that failed and were left for the next sweep",
		},
	)

	ReportsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_routed_total",
			Help: "Routing decisions by department and whether a fallback fired",
		},
		[]string{"department", "fallback"},
	)

	NotificationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications stored by channel and result (created, duplicate, failed)",
		},
		[]string{"channel", "result"},
	)

	registerOnce sync.Once
)

// Register adds the domain collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EventsPublished,
			EventsConsumed,
			SweepRuns,
			SweepDuration,
			ReportsEscalated,
			EscalationFailures,
			ReportsRouted,
			NotificationsCreated,
		)
	})
}
