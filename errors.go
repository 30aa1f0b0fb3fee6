package loader

import (
	"errors"
	"fmt"

	"github.com/meigma/loader/inflight"
	"github.com/meigma/loader/transport"
)

// Sentinel errors.
var (
	// ErrHTTPStatus is matched by every *HTTPError.
	ErrHTTPStatus = errors.New("loader: unexpected response status")

	// ErrRangeFallback is matched by every *RangeFallbackError.
	ErrRangeFallback = errors.New("loader: range request answered with full content")

	// ErrIntegrity is returned when the response body does not match the
	// configured digest.
	ErrIntegrity = errors.New("loader: integrity check failed")

	// ErrUnsupportedMimeType is returned when a document is requested for a
	// mime type that has no parser.
	ErrUnsupportedMimeType = errors.New("loader: unsupported document mime type")

	// ErrUnknownEncoding is returned when the charset of the configured mime
	// type is not a known encoding label.
	ErrUnknownEncoding = errors.New("loader: unknown character encoding")
)

// Errors re-exported from subpackages.
var (
	// ErrNotInFlight reports that a load's outcome arrived after its
	// in-flight entry was already resolved.
	ErrNotInFlight = inflight.ErrNotInFlight

	// ErrNotFound is wrapped by transports when the resource does not exist.
	ErrNotFound = transport.ErrNotFound
)

// HTTPError reports a response with a status other than 200, 206 or
// transport.StatusNone.
type HTTPError struct {
	URL        string
	StatusCode int
	StatusText string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("loader: fetch for %q responded with %d: %s", e.URL, e.StatusCode, e.StatusText)
}

// Is reports whether target is ErrHTTPStatus.
func (e *HTTPError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// RangeFallbackError reports a range request that was answered with the full
// resource for a representation that cannot be sliced.
type RangeFallbackError struct {
	URL string
}

func (e *RangeFallbackError) Error() string {
	return fmt.Sprintf("loader: range request fetch for %q responded with 200", e.URL)
}

// Is reports whether target is ErrRangeFallback.
func (e *RangeFallbackError) Is(target error) bool {
	return target == ErrRangeFallback
}
