// Package transport defines the request/response contract between the loader
// and the protocols it fetches resources over.
//
// A Transport performs exactly one round trip per call. It does not decode,
// cache or deduplicate; those concerns belong to the loader. Implementations
// live in the http, file and oci subpackages and can be combined with [Mux].
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// ErrNotFound is wrapped by transports when the resource does not exist.
var ErrNotFound = errors.New("transport: resource not found")

// StatusNone is the status reported by transports that have no notion of a
// response status (local files, in-memory stores). It is treated as success.
const StatusNone = 0

// Credentials selects when a transport attaches its configured credentials.
type Credentials uint8

const (
	// CredentialsSameOrigin attaches credentials only to requests whose
	// origin matches the transport's configured origin.
	CredentialsSameOrigin Credentials = iota

	// CredentialsInclude attaches credentials to every request.
	CredentialsInclude
)

// String returns the fetch-style name of the mode.
func (c Credentials) String() string {
	if c == CredentialsInclude {
		return "include"
	}
	return "same-origin"
}

// Range is a half-open byte interval [Offset, Offset+Length).
// A nil Length means "to the end of the resource".
type Range struct {
	Offset int64
	Length *int64
}

// NewRange returns a range starting at offset. A negative length means the
// length is unknown and the range extends to the end of the resource.
func NewRange(offset, length int64) *Range {
	r := &Range{Offset: offset}
	if length >= 0 {
		r.Length = &length
	}
	return r
}

// Header renders the value of an HTTP Range header for r:
// "bytes=<offset>-<offset+length-1>" or "bytes=<offset>-".
func (r *Range) Header() string {
	if r.Length == nil {
		return "bytes=" + strconv.FormatInt(r.Offset, 10) + "-"
	}
	return "bytes=" + strconv.FormatInt(r.Offset, 10) + "-" + strconv.FormatInt(r.Offset+*r.Length-1, 10)
}

// Key renders r for use in request keys: "<offset>-<length>", with an empty
// length when it is unknown.
func (r *Range) Key() string {
	if r.Length == nil {
		return strconv.FormatInt(r.Offset, 10) + "-"
	}
	return strconv.FormatInt(r.Offset, 10) + "-" + strconv.FormatInt(*r.Length, 10)
}

// Bounds clamps r to a resource of size n and returns the [start, end) slice
// bounds, following the clamping rules of ArrayBuffer.slice.
func (r *Range) Bounds(n int64) (start, end int64) {
	start = min(max(r.Offset, 0), n)
	end = n
	if r.Length != nil {
		end = min(max(r.Offset+*r.Length, start), n)
	}
	return start, end
}

// Request describes a single fetch.
type Request struct {
	// Locator is the fully resolved resource address.
	Locator string

	// Range restricts the request to a byte interval when non-nil.
	Range *Range

	// Header holds extra caller-supplied headers.
	Header http.Header

	// Credentials selects the credentials mode for the request.
	Credentials Credentials
}

// Response is the raw result of a round trip. The caller must close Body.
type Response struct {
	// Locator is the final address the response was served from.
	Locator string

	// Status is the protocol status code, or StatusNone.
	Status int

	// StatusText is the human-readable status, if any.
	StatusText string

	// ContentType is the declared media type of the body, if any.
	ContentType string

	// ContentLength is the declared body size in bytes, or -1 when unknown.
	ContentLength int64

	// Body streams the response content.
	Body io.ReadCloser
}

// Transport issues requests.
// Implementations must be safe for concurrent use.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// RoundTrip calls f(ctx, req).
func (f Func) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
