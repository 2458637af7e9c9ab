package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the result cache.
type Metrics struct {
	HitsTotal      prometheus.Counter
	MissesTotal    prometheus.Counter
	EvictionsTotal *prometheus.CounterVec
	WritesTotal    prometheus.Counter
}

// NewMetrics creates cache metrics registered on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewgate_cache_hits_total",
			Help: "Total number of gate results served from cache",
		}),
		MissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewgate_cache_misses_total",
			Help: "Total number of cache lookups that found no usable entry",
		}),
		EvictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewgate_cache_evictions_total",
			Help: "Total number of entries removed on lookup, by reason",
		}, []string{"reason"}), // "expired", "modified", "corrupt"
		WritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reviewgate_cache_writes_total",
			Help: "Total number of gate results written to cache",
		}),
	}
}

func (m *Metrics) recordHit() {
	if m != nil {
		m.HitsTotal.Inc()
	}
}

func (m *Metrics) recordMiss() {
	if m != nil {
		m.MissesTotal.Inc()
	}
}

func (m *Metrics) recordEviction(reason string) {
	if m != nil {
		m.EvictionsTotal.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) recordWrite() {
	if m != nil {
		m.WritesTotal.Inc()
	}
}
