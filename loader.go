package loader

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/opencontainers/go-digest"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/loader/cache"
	"github.com/meigma/loader/inflight"
	"github.com/meigma/loader/transport"
	"github.com/meigma/loader/transport/file"
	transporthttp "github.com/meigma/loader/transport/http"
	"github.com/meigma/loader/transport/oci"
)

const tracerName = "github.com/meigma/loader"

// Loader fetches resources and shares results between callers.
//
// Request settings (path, response type, range, headers) are captured when
// Load is called, so changing them affects only later loads.
// A Loader is safe for concurrent use.
type Loader struct {
	manager       LifecycleManager
	cache         cache.Store
	registry      *inflight.Registry
	transport     transport.Transport
	logger        *slog.Logger
	metrics       Metrics
	tracer        trace.Tracer
	maxConcurrent int
	sem           *semaphore.Weighted
	ctx           context.Context
	escalate      func(url string, err error)

	mu           sync.RWMutex
	path         string
	responseType ResponseType
	mimeType     string
	rng          *transport.Range
	header       http.Header
	credentials  transport.Credentials
	integrity    digest.Digest
}

// request is the snapshot of a Loader's settings for one Load call.
type request struct {
	url          string
	key          string
	rng          *transport.Range
	header       http.Header
	credentials  transport.Credentials
	responseType ResponseType
	mimeType     string
	integrity    digest.Digest
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		manager:      &Manager{},
		cache:        cache.NewMemory(),
		registry:     inflight.New(),
		transport:    DefaultTransport(),
		logger:       slog.New(slog.DiscardHandler),
		metrics:      nopMetrics{},
		tracer:       otel.Tracer(tracerName),
		ctx:          context.Background(),
		responseType: ResponseText,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(l.maxConcurrent))
	}
	if l.escalate == nil {
		logger := l.logger
		l.escalate = func(url string, err error) {
			logger.Error("load outcome arrived after its waiters were released",
				slog.String("url", url),
				slog.Any("error", err))
		}
	}
	return l
}

// DefaultTransport returns a transport that routes http and https locators to
// the HTTP transport, file locators to the file transport and oci locators to
// the OCI transport. Locators without a scheme go to the HTTP transport.
func DefaultTransport() *transport.Mux {
	web := transporthttp.New()
	return transport.NewMux().
		Handle("http", web).
		Handle("https", web).
		Handle("file", file.New()).
		Handle(oci.Scheme, oci.New()).
		Fallback(web)
}

// Manager returns the lifecycle manager.
func (l *Loader) Manager() LifecycleManager {
	return l.manager
}

// Cache returns the cache store.
func (l *Loader) Cache() cache.Store {
	return l.cache
}

// SetPath sets a prefix prepended to every locator.
func (l *Loader) SetPath(path string) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = path
	return l
}

// SetResponseType selects the representation of loaded payloads.
// An empty value selects ResponseText.
func (l *Loader) SetResponseType(rt ResponseType) *Loader {
	if rt == "" {
		rt = ResponseText
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responseType = rt
	return l
}

// SetMimeType sets the mime type used to parse documents and to pick the
// character encoding of text, for example "text/plain; charset=shift_jis".
func (l *Loader) SetMimeType(mimeType string) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mimeType = mimeType
	return l
}

// SetRange restricts later loads to the bytes [offset, offset+length).
// A negative length requests everything from offset to the end.
func (l *Loader) SetRange(offset, length int64) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rng = transport.NewRange(offset, length)
	return l
}

// ClearRange removes the byte range so later loads fetch whole resources.
func (l *Loader) ClearRange() *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rng = nil
	return l
}

// SetRequestHeader replaces the extra headers sent with every request.
// They take precedence over the range header.
func (l *Loader) SetRequestHeader(header http.Header) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.header = header.Clone()
	return l
}

// SetWithCredentials selects whether credentials are sent with cross-origin
// requests.
func (l *Loader) SetWithCredentials(include bool) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	if include {
		l.credentials = transport.CredentialsInclude
	} else {
		l.credentials = transport.CredentialsSameOrigin
	}
	return l
}

// SetIntegrity requires response bodies to match d. Pass "" to disable.
func (l *Loader) SetIntegrity(d digest.Digest) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.integrity = d
	return l
}

// Key returns the request key a Load of locator would use with the current
// settings.
func (l *Loader) Key(locator string) string {
	return l.snapshot(locator).key
}

func (l *Loader) snapshot(locator string) *request {
	l.mu.RLock()
	req := &request{
		url:          l.path + locator,
		header:       l.header.Clone(),
		credentials:  l.credentials,
		responseType: l.responseType,
		mimeType:     l.mimeType,
		integrity:    l.integrity,
	}
	if l.rng != nil {
		rng := *l.rng
		req.rng = &rng
	}
	l.mu.RUnlock()

	// The manager may call back into the loader, so resolve without the lock.
	req.url = l.manager.ResolveURL(req.url)
	req.key = req.url
	if req.rng != nil {
		req.key = req.url + ":" + req.rng.Key()
	}
	return req
}

// Load fetches locator and delivers the decoded payload to onLoad, or the
// failure to onError. onProgress receives transfer progress. Any callback
// may be nil.
//
// When the result is already cached, Load also returns it; the callback
// still runs later on another goroutine. Otherwise Load returns nil and the
// result arrives only through the callbacks. Concurrent loads with the same
// key share one fetch.
func (l *Loader) Load(locator string, onLoad LoadFunc, onProgress ProgressFunc, onError ErrorFunc) any {
	req := l.snapshot(locator)
	l.manager.ItemStart(req.url)

	if cached, ok := l.cache.Get(req.key); ok {
		l.metrics.RecordCacheHit()
		go func() {
			if onLoad != nil {
				onLoad(cached)
			}
			l.manager.ItemEnd(req.url)
		}()
		return cached
	}
	l.metrics.RecordCacheMiss()

	if !l.registry.Join(req.key, l.waiter(req.url, onLoad, onProgress, onError)) {
		l.metrics.RecordDedupJoin()
		l.logger.Debug("joined in-flight load", slog.String("key", req.key))
		return nil
	}

	// Another loader sharing the store may have finished between the lookup
	// and Join.
	if cached, ok := l.cache.Get(req.key); ok {
		go l.resolve(req, cached, nil)
		return nil
	}

	go l.run(req)
	return nil
}

// waiter wraps a caller's callbacks so the lifecycle manager hears about the
// end of this call exactly once.
func (l *Loader) waiter(url string, onLoad LoadFunc, onProgress ProgressFunc, onError ErrorFunc) inflight.Waiter {
	return inflight.Waiter{
		OnLoad: func(payload any) {
			if onLoad != nil {
				onLoad(payload)
			}
			l.manager.ItemEnd(url)
		},
		OnProgress: onProgress,
		OnError: func(err error) {
			if onError != nil {
				onError(err)
			}
			l.manager.ItemError(url)
			l.manager.ItemEnd(url)
		},
	}
}

func (l *Loader) run(req *request) {
	payload, err := l.fetch(l.ctx, req)
	if err == nil {
		if perr := l.cache.Put(req.key, payload); perr != nil {
			l.logger.Warn("cache put failed",
				slog.String("key", req.key),
				slog.Any("error", perr))
		}
	}
	l.resolve(req, payload, err)
}

func (l *Loader) resolve(req *request, payload any, err error) {
	n, rerr := l.registry.Resolve(req.key, payload, err)
	if rerr == nil {
		l.logger.Debug("load resolved",
			slog.String("key", req.key),
			slog.Int("waiters", n),
			slog.Bool("ok", err == nil))
		return
	}
	// The entry is gone, so this call's own waiter was never notified.
	l.escalate(req.url, errors.Join(err, rerr))
	l.manager.ItemError(req.url)
	l.manager.ItemEnd(req.url)
}

// LoadContext loads locator and blocks until the result is available or ctx
// is done. Cancelling ctx stops the wait, not the shared fetch.
func (l *Loader) LoadContext(ctx context.Context, locator string) (any, error) {
	type result struct {
		payload any
		err     error
	}
	ch := make(chan result, 1)
	l.Load(locator,
		func(payload any) { ch <- result{payload: payload} },
		nil,
		func(err error) { ch <- result{err: err} },
	)
	select {
	case r := <-ch:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoadAll loads every locator concurrently and returns the payloads in
// locator order. It returns the first error encountered.
func (l *Loader) LoadAll(ctx context.Context, locators ...string) ([]any, error) {
	payloads := make([]any, len(locators))
	g, gctx := errgroup.WithContext(ctx)
	for i, locator := range locators {
		g.Go(func() error {
			payload, err := l.LoadContext(gctx, locator)
			if err != nil {
				return err
			}
			payloads[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return payloads, nil
}
