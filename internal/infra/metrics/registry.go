package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are queued by each file's init and registered once on demand.
var (
	registerOnce sync.Once
	queued       []prometheus.Collector
)

func register(cs ...prometheus.Collector) {
	queued = append(queued, cs...)
}

// MustRegister registers every queued collector on the default registry.
func MustRegister() {
	MustRegisterWith(prometheus.DefaultRegisterer)
}

// MustRegisterWith is MustRegister against an explicit registerer.
// Only the first call in a process has any effect.
func MustRegisterWith(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(queued...)
	})
}
