package store

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestBatchMetrics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	written := counterValue(t, batchesWritten.WithLabelValues("memory"))
	failed := counterValue(t, batchFailures.WithLabelValues("memory"))
	hits := counterValue(t, cacheHits)
	misses := counterValue(t, cacheMisses)
	before := BatchStats()

	base := NewMemStore()
	cs, err := NewCachedStore(base, 8)
	require.NoError(t, err)

	b := NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	require.NoError(t, cs.Write(ctx, b))

	_, err = cs.Get(ctx, []byte("a"))
	assert.NoError(err)
	_, err = cs.Get(ctx, []byte("zz"))
	assert.ErrorIs(err, ErrNotFound)

	base.SetWriteHook(func(*Batch) error { return errors.New("disk full") })
	assert.Error(cs.Write(ctx, b))

	assert.Equal(written+1, counterValue(t, batchesWritten.WithLabelValues("memory")))
	assert.Equal(failed+1, counterValue(t, batchFailures.WithLabelValues("memory")))
	assert.Equal(hits+1, counterValue(t, cacheHits))
	assert.Equal(misses+1, counterValue(t, cacheMisses))

	after := BatchStats()
	assert.Equal(before.Batches+1, after.Batches)
	assert.Equal(before.Ops+2, after.Ops)
	assert.Equal(before.Failures+1, after.Failures)
	assert.Greater(after.AvgOpsPerBatch(), 0.0)
}
