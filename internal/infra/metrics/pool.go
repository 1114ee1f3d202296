package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns) }

var dbPoolConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "hotspot_db_pool_connections",
		Help: "Postgres pool connections by state.",
	},
	[]string{"state"}, // total, idle, acquired, max
)

// PoolStats is the part of pgxpool.Stat that gets reported.
type PoolStats interface {
	TotalConns() int32
	IdleConns() int32
	AcquiredConns() int32
	MaxConns() int32
}

func ObservePool(s PoolStats) {
	dbPoolConns.WithLabelValues("total").Set(float64(s.TotalConns()))
	dbPoolConns.WithLabelValues("idle").Set(float64(s.IdleConns()))
	dbPoolConns.WithLabelValues("acquired").Set(float64(s.AcquiredConns()))
	dbPoolConns.WithLabelValues("max").Set(float64(s.MaxConns()))
}
