package metrics

import (
	"hotspot-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		sessionsTransitionsTotal,
		sessionsTotal,
	)
}

var (
	sessionsTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_sessions_transitions_total",
			Help: "Session lifecycle events (created/expired/terminated).",
		},
		[]string{"event"},
	)

	sessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hotspot_sessions_total",
			Help: "Current number of sessions by status.",
		},
		[]string{"status"},
	)
)

func IncSessionEvent(event string, n int) {
	sessionsTransitionsTotal.WithLabelValues(norm(event)).Add(float64(n))
}

func SetSessionsTotal(counts map[model.SessionStatus]int) {
	for _, status := range []model.SessionStatus{
		model.SessionStatusActive,
		model.SessionStatusExpired,
		model.SessionStatusTerminated,
	} {
		sessionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
