package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store name
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swproxy_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swproxy_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheWrites tracks stored responses by store name
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swproxy_cache_writes_total",
			Help: "Total number of responses written to a cache",
		},
		[]string{"store"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swproxy_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "open", "get", "put", "delete", "keys"
	)

	// StoresDeleted tracks whole caches removed
	StoresDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swproxy_cache_stores_deleted_total",
			Help: "Total number of named caches deleted",
		},
	)
)
