package coinview

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusCoinCacheHits      prometheus.Counter
	prometheusCoinCacheMisses    prometheus.Counter
	prometheusCoinCacheEvictions prometheus.Counter
	prometheusCoinCacheFlushes   prometheus.Counter
	prometheusCoinCacheRewinds   *prometheus.CounterVec
	prometheusCoinCacheEntries   prometheus.Gauge
	prometheusCoinCacheBytes     prometheus.Gauge
	prometheusCoinCacheFlushTime prometheus.Histogram
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusCoinCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coindb",
		Subsystem: "coin_cache",
		Name:      "hits",
		Help:      "Number of outpoint lookups answered from memory",
	})
	prometheusCoinCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coindb",
		Subsystem: "coin_cache",
		Name:      "misses",
		Help:      "Number of outpoint lookups that went to the backend",
	})
	prometheusCoinCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coindb",
		Subsystem: "coin_cache",
		Name:      "evictions",
		Help:      "Number of clean entries dropped to stay under the size cap",
	})
	prometheusCoinCacheFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coindb",
		Subsystem: "coin_cache",
		Name:      "flushes",
		Help:      "Number of write backs to the backend store",
	})
	prometheusCoinCacheRewinds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coindb",
		Subsystem: "coin_cache",
		Name:      "rewinds",
		Help:      "Number of undone blocks by where the rewind record was found",
	}, []string{"source"})
	prometheusCoinCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coindb",
		Subsystem: "coin_cache",
		Name:      "entries",
		Help:      "Number of outpoints held in memory",
	})
	prometheusCoinCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coindb",
		Subsystem: "coin_cache",
		Name:      "bytes",
		Help:      "Estimated memory held by the cache",
	})
	prometheusCoinCacheFlushTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coindb",
		Subsystem: "coin_cache",
		Name:      "flush_seconds",
		Help:      "Duration of write backs to the backend store",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	})
}
