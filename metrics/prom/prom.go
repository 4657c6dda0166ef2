// Package prom adapts cache.Metrics to Prometheus collectors.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/limkokhole/isorun/cache"
)

// Adapter implements cache.Metrics on Prometheus counters and gauges.
// All Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	evicts     *prometheus.CounterVec
	evictBytes *prometheus.CounterVec
	entries    prometheus.Gauge
	bytes      prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg: registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns:  Prometheus namespace for all metrics
func New(reg prometheus.Registerer, ns string) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses",
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Cache evictions by reason",
			},
			[]string{"reason"},
		),
		evictBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cache",
				Name:      "evicted_bytes_total",
				Help:      "Bytes evicted by reason",
			},
			[]string{"reason"},
		),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of tracked entries after trim",
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "bytes",
			Help:      "Total tracked bytes after trim",
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.evictBytes, a.entries, a.bytes)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict counts an eviction and its size under a reason label.
func (a *Adapter) Evict(r cache.EvictReason, size int64) {
	a.evicts.WithLabelValues(reason(r)).Inc()
	a.evictBytes.WithLabelValues(reason(r)).Add(float64(size))
}

// Size updates the post-trim entry and byte gauges.
func (a *Adapter) Size(entries int, bytes int64) {
	a.entries.Set(float64(entries))
	a.bytes.Set(float64(bytes))
}

// reason maps EvictReason to a stable label value.
func reason(r cache.EvictReason) string {
	switch r {
	case cache.EvictLost:
		return "lost"
	case cache.EvictFreeSpace:
		return "free_space"
	case cache.EvictSize:
		return "size"
	case cache.EvictItems:
		return "items"
	default:
		return "other"
	}
}

var _ cache.Metrics = (*Adapter)(nil)
