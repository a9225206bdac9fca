package mpt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vds_trie_commits_total",
	Help: "Number of trie commits attempted, by result",
}, []string{"result"})

var commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vds_trie_commit_duration_seconds",
	Help:    "Time to persist a trie version",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
})

var nodesWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vds_trie_nodes_written_total",
	Help: "Number of new nodes written by commits",
})

var nodesReused = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vds_trie_nodes_reused_total",
	Help: "Number of staged nodes already present in the store at commit time",
})

var nodesLoaded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vds_trie_nodes_loaded_total",
	Help: "Number of nodes read and decoded from the store",
})

var proofsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vds_trie_proofs_total",
	Help: "Number of proofs generated, by wire format and proof type",
}, []string{"format", "type"})
