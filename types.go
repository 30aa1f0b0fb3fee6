package loader

import (
	"bytes"

	"github.com/beevik/etree"
	"golang.org/x/net/html"

	"github.com/meigma/loader/inflight"
	"github.com/meigma/loader/transport"
)

// ResponseType selects the representation a loaded resource is decoded into.
type ResponseType string

const (
	// ResponseText decodes the body into a string. It is the default.
	ResponseText ResponseType = "text"

	// ResponseArrayBuffer returns the raw body as []byte.
	ResponseArrayBuffer ResponseType = "arraybuffer"

	// ResponseBlob returns the body as a *Blob tagged with its content type.
	ResponseBlob ResponseType = "blob"

	// ResponseDocument parses the body as a *Document of the configured mime type.
	ResponseDocument ResponseType = "document"

	// ResponseJSON parses the body as JSON into an any.
	ResponseJSON ResponseType = "json"
)

// Blob is an opaque binary payload with its media type.
type Blob struct {
	Data []byte
	Type string
}

// Size returns the length of the blob in bytes.
func (b *Blob) Size() int64 {
	return int64(len(b.Data))
}

// Slice returns a new Blob holding a copy of the bytes [start, end) of b,
// clamped to its size. The result has no type.
func (b *Blob) Slice(start, end int64) *Blob {
	n := int64(len(b.Data))
	start = min(max(start, 0), n)
	end = min(max(end, start), n)
	return &Blob{Data: bytes.Clone(b.Data[start:end])}
}

// Document is a parsed markup document.
// Exactly one of HTML and XML is set, depending on MimeType.
type Document struct {
	// MimeType is the media type the body was parsed as.
	MimeType string

	// HTML is the root node of an HTML document.
	HTML *html.Node

	// XML is an XML, XHTML or SVG document.
	XML *etree.Document
}

// Re-export shared types so callers need a single import.
type (
	// Progress reports how much of a resource has been transferred.
	Progress = inflight.Progress

	// Range is a half-open byte interval requested from a resource.
	Range = transport.Range

	// Credentials selects when a transport attaches credentials.
	Credentials = transport.Credentials
)

// Re-export credentials modes.
const (
	CredentialsSameOrigin = transport.CredentialsSameOrigin
	CredentialsInclude    = transport.CredentialsInclude
)

// Callback types used by Load.
type (
	// LoadFunc receives the decoded payload of a successful load.
	LoadFunc func(payload any)

	// ProgressFunc receives transfer progress. Calls for one load are
	// delivered in non-decreasing Loaded order.
	ProgressFunc func(p Progress)

	// ErrorFunc receives the error of a failed load.
	ErrorFunc func(err error)
)
