package cache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "modeljit"
	subsystem = "cache"
)

// counters are the cache's own tallies. The Prometheus counters read them,
// so Stats and the exported metrics never disagree.
type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	compiles  atomic.Int64
	failures  atomic.Int64
	evictions atomic.Int64
}

type cacheMetrics struct {
	Hits            prometheus.CounterFunc
	Misses          prometheus.CounterFunc
	Compiles        prometheus.CounterFunc
	Failures        prometheus.CounterFunc
	Evictions       prometheus.CounterFunc
	Entries         prometheus.GaugeFunc
	CompileDuration prometheus.Histogram
}

func newCacheMetrics(c *counters, entries func() int) *cacheMetrics {
	counter := func(name, help string, v *atomic.Int64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	return &cacheMetrics{
		Hits:      counter("hits_total", "Number of requests served from the cache", &c.hits),
		Misses:    counter("misses_total", "Number of requests that did not find a cached artifact", &c.misses),
		Compiles:  counter("compiles_total", "Number of compilations started by the cache", &c.compiles),
		Failures:  counter("compile_failures_total", "Number of compilations that failed", &c.failures),
		Evictions: counter("evictions_total", "Number of artifacts evicted to respect the capacity", &c.evictions),
		Entries: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "entries",
			Help:      "Number of artifacts currently cached",
		}, func() float64 { return float64(entries()) }),
		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compile_duration_seconds",
			Help:      "Histogram of times spent compiling translation units",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 8),
		}),
	}
}

func (m *cacheMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Hits,
		m.Misses,
		m.Compiles,
		m.Failures,
		m.Evictions,
		m.Entries,
		m.CompileDuration,
	}
}
