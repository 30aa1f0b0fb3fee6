// Package http provides a transport.Transport backed by net/http, with
// byte-range requests, caller headers and fetch-style credentials modes.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/loader/transport"
)

// Transport implements transport.Transport over HTTP.
type Transport struct {
	client      *nethttp.Client
	headers     nethttp.Header
	origin      *url.URL
	username    string
	password    string
	hasAuth     bool
	jar         nethttp.CookieJar
	compression bool
}

// Interface compliance.
var _ transport.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(t *Transport) {
		if headers == nil {
			return
		}
		t.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		if t.headers == nil {
			t.headers = make(nethttp.Header)
		}
		t.headers.Set(key, value)
	}
}

// WithOrigin sets the origin ("scheme://host[:port]") used to decide whether
// a same-origin request may carry credentials.
func WithOrigin(origin string) Option {
	return func(t *Transport) {
		if u, err := url.Parse(origin); err == nil {
			t.origin = u
		}
	}
}

// WithBasicAuth sets credentials sent as HTTP basic authentication.
func WithBasicAuth(username, password string) Option {
	return func(t *Transport) {
		t.username = username
		t.password = password
		t.hasAuth = true
	}
}

// WithCookieJar sets a cookie jar consulted only when credentials are allowed.
func WithCookieJar(jar nethttp.CookieJar) Option {
	return func(t *Transport) {
		t.jar = jar
	}
}

// WithCompression advertises zstd and gzip for whole-resource requests and
// decodes compressed bodies transparently. Range requests always ask for the
// identity encoding so offsets refer to the stored bytes.
func WithCompression() Option {
	return func(t *Transport) {
		t.compression = true
	}
}

// New creates an HTTP transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = nethttp.DefaultClient
	}
	return t
}

// RoundTrip performs a GET for req.
//
// The returned response carries the raw status; deciding which statuses are
// successful is left to the caller.
func (t *Transport) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if t.allowCredentials(httpReq.URL, req.Credentials) && t.jar != nil {
		if cookies := resp.Cookies(); len(cookies) > 0 {
			t.jar.SetCookies(httpReq.URL, cookies)
		}
	}

	body, err := t.decodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	contentLength := resp.ContentLength
	if body != resp.Body {
		// The declared length describes the encoded bytes.
		contentLength = -1
	}

	locator := httpReq.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		locator = resp.Request.URL.String()
	}
	return &transport.Response{
		Locator:       locator,
		Status:        resp.StatusCode,
		StatusText:    statusText(resp),
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: contentLength,
		Body:          body,
	}, nil
}

// newRequest creates an HTTP request with configured and caller headers,
// the range header and credentials.
func (t *Transport) newRequest(ctx context.Context, req *transport.Request) (*nethttp.Request, error) {
	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, req.Locator, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range t.headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if req.Range != nil {
		httpReq.Header.Set("Range", req.Range.Header())
	}
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	switch {
	case req.Range != nil:
		httpReq.Header.Set("Accept-Encoding", "identity")
	case t.compression && httpReq.Header.Get("Accept-Encoding") == "":
		httpReq.Header.Set("Accept-Encoding", "zstd, gzip")
	}

	if t.allowCredentials(httpReq.URL, req.Credentials) {
		if t.hasAuth && httpReq.Header.Get("Authorization") == "" {
			httpReq.SetBasicAuth(t.username, t.password)
		}
		if t.jar != nil {
			for _, cookie := range t.jar.Cookies(httpReq.URL) {
				httpReq.AddCookie(cookie)
			}
		}
	}
	return httpReq, nil
}

// allowCredentials reports whether credentials may be attached to a request for u.
func (t *Transport) allowCredentials(u *url.URL, mode transport.Credentials) bool {
	if mode == transport.CredentialsInclude {
		return true
	}
	if t.origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, t.origin.Scheme) && strings.EqualFold(u.Host, t.origin.Host)
}

// decodeBody wraps the response body with a decompressor when the server
// answered with an encoding we advertised. net/http does this itself only
// for gzip it requested on its own.
func (t *Transport) decodeBody(resp *nethttp.Response) (io.ReadCloser, error) {
	if !t.compression {
		return resp.Body, nil
	}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, closeFn: zr.Close, body: resp.Body}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		return &decodedBody{Reader: zr, closeFn: func() error { zr.Close(); return nil }, body: resp.Body}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

// decodedBody closes both the decompressor and the underlying body.
type decodedBody struct {
	io.Reader
	closeFn func() error
	body    io.ReadCloser
}

// Close releases the decompressor and drains the body for connection reuse.
func (d *decodedBody) Close() error {
	err := d.closeFn()
	_, _ = io.Copy(io.Discard, d.body) //nolint:errcheck // best-effort drain for connection reuse
	return errors.Join(err, d.body.Close())
}

// statusText strips the numeric prefix from resp.Status ("404 Not Found").
func statusText(resp *nethttp.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	if text == "" {
		text = nethttp.StatusText(resp.StatusCode)
	}
	return text
}
