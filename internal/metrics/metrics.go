// Package metrics provides Prometheus metrics for the forwarding
// proxy. Adapted from kidoz-vulners-proxy-go's internal/metrics, whose
// API-gateway request/upstream metrics are repurposed here for the
// proxy's own request loop, caches, and tunnel/prefetch activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds every Prometheus collector the proxy exposes.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	PageCacheHits   prometheus.Gauge
	PageCacheMisses prometheus.Gauge
	PageCacheSize   prometheus.Gauge

	AddrCacheHits   prometheus.Gauge
	AddrCacheMisses prometheus.Gauge
	AddrCacheSize   prometheus.Gauge

	TunnelsActive prometheus.Gauge
	TunnelsTotal  prometheus.Counter

	PrefetchAttempts *prometheus.CounterVec

	LiveWorkers prometheus.Gauge
}

// New creates a Metrics instance with a dedicated registry, so the
// proxy's metrics never collide with a shared default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webproxy_requests_total",
			Help: "Total client requests handled, by method and response status.",
		}, []string{"method", "status_code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webproxy_request_duration_seconds",
			Help:    "Client request handling latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		PageCacheHits:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "webproxy_page_cache_hits_total", Help: "Page cache hits (cumulative)."}),
		PageCacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{Name: "webproxy_page_cache_misses_total", Help: "Page cache misses (cumulative)."}),
		PageCacheSize:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "webproxy_page_cache_entries", Help: "Current page cache entry count."}),

		AddrCacheHits:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "webproxy_addr_cache_hits_total", Help: "Address cache hits (cumulative)."}),
		AddrCacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{Name: "webproxy_addr_cache_misses_total", Help: "Address cache misses (cumulative)."}),
		AddrCacheSize:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "webproxy_addr_cache_entries", Help: "Current address cache entry count."}),

		TunnelsActive: prometheus.NewGauge(prometheus.GaugeOpts{Name: "webproxy_tunnels_active", Help: "CONNECT tunnels currently relaying."}),
		TunnelsTotal:  prometheus.NewCounter(prometheus.CounterOpts{Name: "webproxy_tunnels_total", Help: "Total CONNECT tunnels opened."}),

		PrefetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webproxy_prefetch_attempts_total",
			Help: "Prefetch fetch attempts, by outcome.",
		}, []string{"outcome"}),

		LiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{Name: "webproxy_live_workers", Help: "Currently active proxy connection workers."}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.PageCacheHits, m.PageCacheMisses, m.PageCacheSize,
		m.AddrCacheHits, m.AddrCacheMisses, m.AddrCacheSize,
		m.TunnelsActive, m.TunnelsTotal,
		m.PrefetchAttempts,
		m.LiveWorkers,
	)

	return m
}

// CacheStats is the shape shared by addrcache.Stats and pagecache.Stats,
// used to push a snapshot into the page/address cache gauges without
// this package importing either cache; cmd/webproxy copies the fields
// across.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

// SetPageCacheStats records a page cache snapshot.
func (m *Metrics) SetPageCacheStats(s CacheStats) {
	m.PageCacheHits.Set(float64(s.Hits))
	m.PageCacheMisses.Set(float64(s.Misses))
	m.PageCacheSize.Set(float64(s.Size))
}

// SetAddrCacheStats records an address cache snapshot.
func (m *Metrics) SetAddrCacheStats(s CacheStats) {
	m.AddrCacheHits.Set(float64(s.Hits))
	m.AddrCacheMisses.Set(float64(s.Misses))
	m.AddrCacheSize.Set(float64(s.Size))
}
