package store

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var batchesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vds_store_batches_written",
	Help: "Number of atomic batches written to the node store",
}, []string{"backend"})

var batchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vds_store_batch_failures",
	Help: "Number of atomic batch writes that failed",
}, []string{"backend"})

var batchOps = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vds_store_batch_ops",
	Help:    "Number of operations per batch",
	Buckets: prometheus.ExponentialBuckets(1, 4, 10),
}, []string{"backend"})

var batchBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vds_store_batch_bytes",
	Help:    "Approximate payload size of each batch",
	Buckets: prometheus.ExponentialBuckets(64, 4, 12),
}, []string{"backend"})

var batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "vds_store_batch_duration_seconds",
	Help:    "Time spent committing a batch",
	Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
}, []string{"backend"})

var cacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vds_store_cache_hits",
	Help: "Node cache hits",
})

var cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vds_store_cache_misses",
	Help: "Node cache misses",
})

// BatchSummary aggregates batch activity across all stores in the process.
type BatchSummary struct {
	Batches  uint64
	Ops      uint64
	Bytes    uint64
	Failures uint64
	Elapsed  time.Duration
}

func (s BatchSummary) AvgOpsPerBatch() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Ops) / float64(s.Batches)
}

var summary struct {
	batches  atomic.Uint64
	ops      atomic.Uint64
	bytes    atomic.Uint64
	failures atomic.Uint64
	nanos    atomic.Int64
}

func BatchStats() BatchSummary {
	return BatchSummary{
		Batches:  summary.batches.Load(),
		Ops:      summary.ops.Load(),
		Bytes:    summary.bytes.Load(),
		Failures: summary.failures.Load(),
		Elapsed:  time.Duration(summary.nanos.Load()),
	}
}

func observeBatch(backend string, b *Batch, start time.Time, err error) {
	if err != nil {
		batchFailures.WithLabelValues(backend).Inc()
		summary.failures.Add(1)
		return
	}
	elapsed := time.Since(start)
	batchesWritten.WithLabelValues(backend).Inc()
	batchOps.WithLabelValues(backend).Observe(float64(b.Len()))
	batchBytes.WithLabelValues(backend).Observe(float64(b.Size()))
	batchDuration.WithLabelValues(backend).Observe(elapsed.Seconds())

	summary.batches.Add(1)
	summary.ops.Add(uint64(b.Len()))
	summary.bytes.Add(uint64(b.Size()))
	summary.nanos.Add(int64(elapsed))
}
