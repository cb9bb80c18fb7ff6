package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the operational metrics of the notification core:
// live connection counts, dispatch volume and failures, and scheduler
// job outcomes. All metrics carry the pulse_ prefix and are exposed at
// /metrics via the Prometheus HTTP handler.
type Metrics struct {
	// ActiveConnections tracks currently registered live connections.
	ActiveConnections prometheus.Gauge

	// OnlineUsers tracks users with at least one live connection.
	OnlineUsers prometheus.Gauge

	// DroppedSends counts realtime pushes that could not be enqueued.
	// Labels: room
	DroppedSends *prometheus.CounterVec

	// NotificationsDispatched counts persisted notifications.
	// Labels: type, channel (in_app|email)
	NotificationsDispatched *prometheus.CounterVec

	// DeliveryFailures counts per-recipient, per-channel delivery errors.
	// Labels: channel, reason (persistence|push|email)
	DeliveryFailures *prometheus.CounterVec

	// JobRuns counts scheduler job executions.
	// Labels: job, status (success|error)
	JobRuns *prometheus.CounterVec

	// JobDuration measures scheduler job run time in seconds.
	// Labels: job
	JobDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Pulse metrics with the given
// registerer. Passing nil registers with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_connections_active",
			Help: "Number of live websocket connections",
		}),

		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_users_online",
			Help: "Number of users with at least one live connection",
		}),

		DroppedSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_sends_dropped_total",
				Help: "Realtime pushes dropped because a connection could not accept them",
			},
			[]string{"room"},
		),

		NotificationsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_notifications_dispatched_total",
				Help: "Notifications persisted by type and channel",
			},
			[]string{"type", "channel"},
		),

		DeliveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_delivery_failures_total",
				Help: "Per-recipient delivery failures by channel and reason",
			},
			[]string{"channel", "reason"},
		),

		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_job_runs_total",
				Help: "Scheduler job executions by job name and status",
			},
			[]string{"job", "status"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_job_duration_seconds",
				Help:    "Scheduler job run time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"job"},
		),
	}
}
