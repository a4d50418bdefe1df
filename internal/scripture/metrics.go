package scripture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gospelpress_scripture_cache_hits_total",
		Help: "Scripture lookups served from the cache table.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gospelpress_scripture_cache_misses_total",
		Help: "Scripture lookups dispatched to an upstream provider.",
	})
)
