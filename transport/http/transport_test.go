package http_test

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/loader/transport"
	loaderhttp "github.com/meigma/loader/transport/http"
)

func roundTrip(t *testing.T, tr *loaderhttp.Transport, req *transport.Request) (*transport.Response, []byte) {
	t.Helper()
	resp, err := tr.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

// recorder collects values observed by test handlers.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func TestTransportRangeRequest(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	var headers recorder[nethttp.Header]
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		headers.add(r.Header.Clone())
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	tr := loaderhttp.New(loaderhttp.WithCompression())
	resp, body := roundTrip(t, tr, &transport.Request{
		Locator: server.URL,
		Range:   transport.NewRange(6, 5),
	})

	got := headers.all()
	require.Len(t, got, 1)
	assert.Equal(t, "bytes=6-10", got[0].Get("Range"))
	assert.Equal(t, "identity", got[0].Get("Accept-Encoding"))
	assert.Equal(t, nethttp.StatusPartialContent, resp.Status)
	assert.Equal(t, "Partial Content", resp.StatusText)
	assert.Equal(t, int64(5), resp.ContentLength)
	assert.Equal(t, "world", string(body))
}

func TestTransportOpenEndedRange(t *testing.T) {
	t.Parallel()

	var ranges recorder[string]
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ranges.add(r.Header.Get("Range"))
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader([]byte("0123456789")))
	}))
	t.Cleanup(server.Close)

	_, body := roundTrip(t, loaderhttp.New(), &transport.Request{
		Locator: server.URL,
		Range:   transport.NewRange(7, -1),
	})
	assert.Equal(t, []string{"bytes=7-"}, ranges.all())
	assert.Equal(t, "789", string(body))
}

func TestTransportHeaders(t *testing.T) {
	t.Parallel()

	var headers recorder[nethttp.Header]
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		headers.add(r.Header.Clone())
	}))
	t.Cleanup(server.Close)

	tr := loaderhttp.New(
		loaderhttp.WithHeaders(nethttp.Header{"X-Static": []string{"a"}}),
		loaderhttp.WithHeader("X-Override", "transport"),
	)
	roundTrip(t, tr, &transport.Request{
		Locator: server.URL,
		Header:  nethttp.Header{"X-Override": []string{"request"}},
	})

	got := headers.all()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Get("X-Static"))
	assert.Equal(t, "request", got[0].Get("X-Override"))
}

func TestTransportStatusPassthrough(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		nethttp.Error(w, "gone", nethttp.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	resp, _ := roundTrip(t, loaderhttp.New(), &transport.Request{Locator: server.URL})
	assert.Equal(t, nethttp.StatusNotFound, resp.Status)
	assert.Equal(t, "Not Found", resp.StatusText)
}

func TestTransportCredentials(t *testing.T) {
	t.Parallel()

	var authSeen recorder[bool]
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		_, _, ok := r.BasicAuth()
		authSeen.add(ok)
	}))
	t.Cleanup(server.Close)

	// Same-origin without a configured origin never sends credentials.
	tr := loaderhttp.New(loaderhttp.WithBasicAuth("user", "pass"))
	roundTrip(t, tr, &transport.Request{Locator: server.URL, Credentials: transport.CredentialsSameOrigin})
	roundTrip(t, tr, &transport.Request{Locator: server.URL, Credentials: transport.CredentialsInclude})

	// Matching origin allows same-origin credentials.
	tr = loaderhttp.New(loaderhttp.WithBasicAuth("user", "pass"), loaderhttp.WithOrigin(server.URL))
	roundTrip(t, tr, &transport.Request{Locator: server.URL, Credentials: transport.CredentialsSameOrigin})

	assert.Equal(t, []bool{false, true, true}, authSeen.all())
}

func TestTransportCookieJar(t *testing.T) {
	t.Parallel()

	var cookies recorder[string]
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if c, err := r.Cookie("session"); err == nil {
			cookies.add(c.Value)
		} else {
			cookies.add("")
		}
		nethttp.SetCookie(w, &nethttp.Cookie{Name: "session", Value: "abc"})
	}))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	tr := loaderhttp.New(loaderhttp.WithCookieJar(jar))

	roundTrip(t, tr, &transport.Request{Locator: server.URL, Credentials: transport.CredentialsInclude})
	roundTrip(t, tr, &transport.Request{Locator: server.URL, Credentials: transport.CredentialsInclude})
	roundTrip(t, tr, &transport.Request{Locator: server.URL, Credentials: transport.CredentialsSameOrigin})

	assert.Equal(t, []string{"", "abc", ""}, cookies.all())
}

func TestTransportCompression(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("compressible "), 64)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zs := enc.EncodeAll(payload, nil)
	require.NoError(t, enc.Close())

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, "zstd, gzip", r.Header.Get("Accept-Encoding"))
		switch r.URL.Path {
		case "/gzip":
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gz.Bytes())
		case "/zstd":
			w.Header().Set("Content-Encoding", "zstd")
			_, _ = w.Write(zs)
		}
	}))
	t.Cleanup(server.Close)

	tr := loaderhttp.New(loaderhttp.WithCompression())
	for _, path := range []string{"/gzip", "/zstd"} {
		resp, body := roundTrip(t, tr, &transport.Request{Locator: server.URL + path})
		assert.Equal(t, payload, body, path)
		assert.Equal(t, int64(-1), resp.ContentLength, path)
	}
}

func TestTransportInvalidLocator(t *testing.T) {
	t.Parallel()

	_, err := loaderhttp.New().RoundTrip(context.Background(), &transport.Request{Locator: "://bad"})
	require.Error(t, err)
}
