package loader

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/meigma/loader/cache"
	"github.com/meigma/loader/inflight"
	"github.com/meigma/loader/transport"
)

// Option configures a Loader.
type Option func(*Loader)

// WithManager sets the lifecycle manager notified of every load.
// Defaults to a fresh *Manager without callbacks.
func WithManager(m LifecycleManager) Option {
	return func(l *Loader) {
		if m != nil {
			l.manager = m
		}
	}
}

// WithCache sets the store that successful results are kept in.
// Defaults to a private cache.Memory; pass cache.Nop{} to disable caching.
func WithCache(store cache.Store) Option {
	return func(l *Loader) {
		if store != nil {
			l.cache = store
		}
	}
}

// WithRegistry sets the in-flight registry used to deduplicate loads.
// Defaults to a private registry.
func WithRegistry(r *inflight.Registry) Option {
	return func(l *Loader) {
		if r != nil {
			l.registry = r
		}
	}
}

// WithTransport sets the transport used to fetch resources.
// Defaults to DefaultTransport().
func WithTransport(t transport.Transport) Option {
	return func(l *Loader) {
		if t != nil {
			l.transport = t
		}
	}
}

// WithLogger sets the logger. Defaults to a logger that discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(l *Loader) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithTracerProvider sets the provider of the tracer that records a span per
// fetch. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Loader) {
		if tp != nil {
			l.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithMaxConcurrent bounds the number of fetches running at once.
// Values < 1 mean no limit (the default).
func WithMaxConcurrent(n int) Option {
	return func(l *Loader) {
		l.maxConcurrent = n
	}
}

// WithContext sets the context fetches run under. Cancelling it aborts every
// fetch started by the loader; waiters receive the context error.
// Defaults to context.Background().
func WithContext(ctx context.Context) Option {
	return func(l *Loader) {
		if ctx != nil {
			l.ctx = ctx
		}
	}
}

// WithEscalation sets the handler for outcomes that arrive after the load's
// in-flight entry was already resolved. The default logs at error level.
func WithEscalation(fn func(url string, err error)) Option {
	return func(l *Loader) {
		if fn != nil {
			l.escalate = fn
		}
	}
}
