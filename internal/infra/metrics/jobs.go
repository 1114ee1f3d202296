package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobRunsTotal, notificationsTotal) }

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_background_job_runs_total",
			Help: "Background job passes, labeled by job and status.",
		},
		[]string{"job", "status"}, // status: ok|error|skipped
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_notifications_total",
			Help: "Notifications by channel and delivery status.",
		},
		[]string{"channel", "status"}, // status: sent|error|dropped
	)
)

func IncJobRun(job, status string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(status)).Inc()
}

func IncNotification(channel, status string) {
	notificationsTotal.WithLabelValues(norm(channel), norm(status)).Inc()
}
