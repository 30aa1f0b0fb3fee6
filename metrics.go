package loader

import "time"

// Metrics receives loader instrumentation events.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// RecordCacheHit records a load served from the cache store.
	RecordCacheHit()

	// RecordCacheMiss records a load that was not in the cache store.
	RecordCacheMiss()

	// RecordDedupJoin records a load that attached to an in-flight request.
	RecordDedupJoin()

	// RecordFetch records one transport round trip and its decoding.
	// bytes is the size of the received body.
	RecordFetch(scheme string, duration time.Duration, bytes int64, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordCacheHit()                                 {}
func (nopMetrics) RecordCacheMiss()                                {}
func (nopMetrics) RecordDedupJoin()                                {}
func (nopMetrics) RecordFetch(string, time.Duration, int64, error) {}
