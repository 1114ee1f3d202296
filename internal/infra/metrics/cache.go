package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheLookupsTotal) }

var cacheLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hotspot_cache_lookups_total",
		Help: "Redis plan cache lookups by outcome.",
	},
	[]string{"cache", "outcome"},
)

// Cache outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

func ObserveCacheLookup(cache, outcome string) {
	cacheLookupsTotal.WithLabelValues(norm(cache), outcome).Inc()
}
