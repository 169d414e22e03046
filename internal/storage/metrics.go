package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_cache_evictions_total",
			Help: "Total number of records evicted from local caches.",
		},
		[]string{"cache", "reason"},
	)
	cacheWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_cache_write_failures_total",
			Help: "Total number of failed cache writes.",
		},
		[]string{"cache"},
	)
)
