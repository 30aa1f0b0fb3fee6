package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/loader"
	"github.com/meigma/loader/transport"
)

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordDedupJoin()
	m.RecordFetch("https", 20*time.Millisecond, 128, nil)
	m.RecordFetch("https", time.Millisecond, 0, &loader.HTTPError{StatusCode: 404})
	m.RecordFetch("file", time.Millisecond, 0, fmt.Errorf("open: %w", transport.ErrNotFound))
	m.RecordFetch("", time.Millisecond, 0, errors.New("boom"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.CacheHitsTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheMissesTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DedupJoinsTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("https", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("https", "http_status")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("file", "not_found")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("none", "error")), 0)
	assert.InDelta(t, 128, testutil.ToFloat64(m.FetchedBytesTotal.WithLabelValues("https")), 0)
	assert.Equal(t, 3, testutil.CollectAndCount(m.FetchDuration))

	count, err := testutil.GatherAndCount(reg, "loader_cache_hits_total", "loader_fetches_total")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCacheHit()
		m.RecordCacheMiss()
		m.RecordDedupJoin()
		m.RecordFetch("https", time.Second, 1, nil)
	})
}

func TestMetricsUnregistered(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.RecordCacheMiss()
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheMissesTotal), 0)
}
