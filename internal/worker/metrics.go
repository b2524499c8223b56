package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swproxy_fetch_total",
		Help: "Routed requests by policy and where the response came from",
	}, []string{"policy", "source"}) // source: "cache", "network", "error"

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swproxy_fetch_duration_seconds",
		Help:    "Routing latency by policy",
		Buckets: prometheus.DefBuckets,
	}, []string{"policy"})

	lifecycleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swproxy_lifecycle_events_total",
		Help: "Lifecycle events by event and result",
	}, []string{"event", "result"}) // event: "install", "activate", "sync"

	installRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swproxy_install_retries_total",
		Help: "Install attempts retried after a failure",
	})
)
