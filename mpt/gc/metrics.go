package gc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vds_gc_runs_total",
	Help: "Number of garbage collection runs, by strategy and result",
}, []string{"strategy", "result"})

var runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vds_gc_duration_seconds",
	Help:    "Duration of garbage collection runs",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
}, []string{"strategy"})

var nodesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vds_gc_nodes_deleted_total",
	Help: "Number of trie nodes deleted by garbage collection",
}, []string{"strategy"})

var versionsRetired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vds_gc_versions_retired_total",
	Help: "Number of committed versions retired by garbage collection",
})
