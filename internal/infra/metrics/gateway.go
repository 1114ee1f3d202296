package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(gatewayRequests, gatewayDuration, routerOps)
}

var (
	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_payment_gateway_requests_total",
			Help: "Calls to the payment provider by operation and result.",
		},
		[]string{"provider", "op", "result"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "hotspot_payment_gateway_request_duration_seconds",
			Help:    "Latency of payment provider calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "op"},
	)

	routerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_router_operations_total",
			Help: "Access device operations by op and result.",
		},
		[]string{"op", "result"}, // op: grant|revoke|list
	)
)

func ObserveGateway(provider, op string, started time.Time, err error) {
	gatewayRequests.WithLabelValues(norm(provider), norm(op), result(err)).Inc()
	gatewayDuration.WithLabelValues(norm(provider), norm(op)).Observe(time.Since(started).Seconds())
}

func IncRouterOp(op string, err error) {
	routerOps.WithLabelValues(norm(op), result(err)).Inc()
}
