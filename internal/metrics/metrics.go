package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Passes               prometheus.Counter
	SkippedPasses        prometheus.Counter
	RepliesFound         prometheus.Counter
	RemindersSent        prometheus.Counter
	NotificationFailures prometheus.Counter
	MailboxErrors        prometheus.Counter
	OrdersCreated        prometheus.Counter
	OrdersPurged         prometheus.Counter
	PendingOrders        prometheus.Gauge
	PassDuration         prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Passes: f.NewCounter(prometheus.CounterOpts{
			Name: "water_order_bot_passes_total",
			Help: "Total number of completed reconciliation passes",
		}),
		SkippedPasses: f.NewCounter(prometheus.CounterOpts{
			Name: "water_order_bot_skipped_passes_total",
			Help: "Passes skipped because another pass was still running",
		}),
		RepliesFound: f.NewCounter(prometheus.CounterOpts{
			Name: "water_order_bot_replies_found_total",
			Help: "Total number of order replies found",
		}),
		RemindersSent: f.NewCounter(prometheus.CounterOpts{
			Name: "water_order_bot_reminders_sent_total",
			Help: "Total number of no-reply reminders delivered",
		}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "water_order_bot_notification_failures_total",
			Help: "Total number of chat notifications that failed",
		}),
		MailboxErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "water_order_bot_mailbox_errors_total",
			Help: "Total number of failed mailbox operations",
		}),
		OrdersCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "water_order_bot_orders_created_total",
			Help: "Total number of orders sent and tracked",
		}),
		OrdersPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "water_order_bot_orders_purged_total",
			Help: "Total number of pending orders removed by retention",
		}),
		PendingOrders: f.NewGauge(prometheus.GaugeOpts{
			Name: "water_order_bot_pending_orders",
			Help: "Number of orders waiting for a reply at the start of the last pass",
		}),
		PassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "water_order_bot_pass_duration_seconds",
			Help:    "Time spent in one reconciliation pass",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
