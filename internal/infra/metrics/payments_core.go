package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		callbacksTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_payments_total",
			Help: "Payments by status (initiated/completed/failed/cancelled).",
		},
		[]string{"status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_payments_revenue_minor_total",
			Help: "Value of completed payments in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotspot_payment_callbacks_total",
			Help: "Provider outcomes processed, by source and outcome.",
		},
		[]string{"source", "outcome"}, // source: webhook|query; outcome: applied|duplicate|unknown|ignored
	)
)

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncCallback(source, outcome string) {
	callbacksTotal.WithLabelValues(norm(source), norm(outcome)).Inc()
}
