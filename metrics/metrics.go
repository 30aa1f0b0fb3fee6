// Package metrics provides a Prometheus implementation of loader.Metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/loader"
	"github.com/meigma/loader/transport"
)

const namespace = "loader"

// Interface compliance.
var _ loader.Metrics = (*Metrics)(nil)

// Metrics records loader activity in Prometheus collectors.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// CacheHitsTotal counts loads served from the cache store.
	CacheHitsTotal prometheus.Counter

	// CacheMissesTotal counts loads not found in the cache store.
	CacheMissesTotal prometheus.Counter

	// DedupJoinsTotal counts loads that attached to an in-flight fetch.
	DedupJoinsTotal prometheus.Counter

	// FetchesTotal counts fetches by scheme and result ("ok", "not_found",
	// "http_status", "error").
	FetchesTotal *prometheus.CounterVec

	// FetchDuration observes fetch latency in seconds by scheme.
	FetchDuration *prometheus.HistogramVec

	// FetchedBytesTotal counts body bytes received by scheme.
	FetchedBytesTotal *prometheus.CounterVec
}

// New creates and registers loader metrics with reg. If reg is nil, metrics
// are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of loads served from the cache store",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of loads not found in the cache store",
		}),
		DedupJoinsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_joins_total",
			Help:      "Total number of loads that joined an in-flight fetch",
		}),
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Total number of fetches by scheme and result",
		}, []string{"scheme", "result"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetches including decoding",
			Buckets: []float64{
				0.005, // 5ms - local files
				0.025,
				0.1,
				0.25,
				0.5,
				1,
				2.5,
				10, // large assets
			},
		}, []string{"scheme"}),
		FetchedBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Total number of body bytes received by scheme",
		}, []string{"scheme"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.DedupJoinsTotal,
			m.FetchesTotal,
			m.FetchDuration,
			m.FetchedBytesTotal,
		)
	}

	return m
}

// RecordCacheHit increments the cache hit counter.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordDedupJoin increments the dedup join counter.
func (m *Metrics) RecordDedupJoin() {
	if m == nil {
		return
	}
	m.DedupJoinsTotal.Inc()
}

// RecordFetch records the outcome, duration and size of a fetch.
func (m *Metrics) RecordFetch(scheme string, duration time.Duration, bytes int64, err error) {
	if m == nil {
		return
	}
	if scheme == "" {
		scheme = "none"
	}
	m.FetchesTotal.WithLabelValues(scheme, result(err)).Inc()
	m.FetchDuration.WithLabelValues(scheme).Observe(duration.Seconds())
	if bytes > 0 {
		m.FetchedBytesTotal.WithLabelValues(scheme).Add(float64(bytes))
	}
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, transport.ErrNotFound):
		return "not_found"
	case errors.Is(err, loader.ErrHTTPStatus):
		return "http_status"
	default:
		return "error"
	}
}
