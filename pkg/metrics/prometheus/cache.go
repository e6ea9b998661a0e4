package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittoshuffle/pkg/metrics"
)

// CacheMetrics is the Prometheus implementation of metrics.CacheRecorder.
type CacheMetrics struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	resolutions *prometheus.CounterVec
}

// NewCacheMetrics registers the cache collectors on reg.
//
// Returns nil if reg is nil, which callers treat as "metrics disabled".
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &CacheMetrics{
		hits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by cache (location, index)",
		}, []string{"cache"}),
		misses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by cache (location, index)",
		}, []string{"cache"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_remote_resolutions_total",
			Help:      "Remote lookups issued to fill cache misses, by cache and status",
		}, []string{"cache", "status"}),
	}
}

func (m *CacheMetrics) RecordHit(cache string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(cache).Inc()
}

func (m *CacheMetrics) RecordMiss(cache string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(cache).Inc()
}

func (m *CacheMetrics) RecordResolution(cache string, err error) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(cache, status(err)).Inc()
}

var _ metrics.CacheRecorder = (*CacheMetrics)(nil)
