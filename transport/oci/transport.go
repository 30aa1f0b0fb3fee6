// Package oci provides a transport.Transport that loads content from OCI
// registries through ORAS.
//
// Locators take the form
//
//	oci://<registry>/<repository>:<tag>
//	oci://<registry>/<repository>@<digest>
//
// Digest references are fetched from the repository's blob store; tags are
// resolved to manifests. With [WithTarget], the part after "oci://" is
// resolved against a fixed ORAS target instead, such as an in-memory store.
package oci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/meigma/loader/transport"
)

// Scheme is the locator scheme handled by this transport.
const Scheme = "oci"

// ErrInvalidReference is returned when a locator is not a valid OCI reference.
var ErrInvalidReference = errors.New("oci: invalid reference")

// Target is the subset of an ORAS target the transport reads from.
type Target interface {
	content.Fetcher
	content.Resolver
}

// Transport fetches OCI blobs and manifests.
type Transport struct {
	target     Target
	plainHTTP  bool
	userAgent  string
	credStore  credentials.Store
	authClient *auth.Client
}

// Interface compliance.
var _ transport.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithTarget resolves every locator against target rather than a remote registry.
func WithTarget(target Target) Option {
	return func(t *Transport) {
		t.target = target
	}
}

// WithPlainHTTP talks to registries over plain HTTP (no TLS).
func WithPlainHTTP(enabled bool) Option {
	return func(t *Transport) {
		t.plainHTTP = enabled
	}
}

// WithUserAgent sets the User-Agent header for registry requests.
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		t.userAgent = ua
	}
}

// WithCredentialStore sets the store consulted for registry credentials.
func WithCredentialStore(store credentials.Store) Option {
	return func(t *Transport) {
		t.credStore = store
	}
}

// New creates an OCI transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		userAgent: "meigma-loader/1.0",
	}
	for _, opt := range opts {
		opt(t)
	}
	t.authClient = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if t.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return t.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{t.userAgent},
		},
	}
	return t
}

// RoundTrip resolves and fetches the content named by req.Locator.
//
// The response reports 200 with the full content, or 206 when a range was
// requested and the fetched content supports seeking. Whole reads are
// verified against the descriptor's digest and size.
func (t *Transport) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	target, reference, err := t.resolveTarget(req.Locator)
	if err != nil {
		return nil, err
	}

	desc, err := target.Resolve(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.Locator, mapError(err))
	}
	rc, err := target.Fetch(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Locator, mapError(err))
	}

	return respond(req, desc, rc)
}

// respond builds the response for the content described by desc.
func respond(req *transport.Request, desc ocispec.Descriptor, rc io.ReadCloser) (*transport.Response, error) {
	resp := &transport.Response{
		Locator:       req.Locator,
		Status:        http.StatusOK,
		StatusText:    http.StatusText(http.StatusOK),
		ContentType:   desc.MediaType,
		ContentLength: desc.Size,
	}

	if req.Range != nil {
		if seeker, ok := rc.(io.Seeker); ok {
			start, end := req.Range.Bounds(desc.Size)
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				_ = rc.Close()
				return nil, fmt.Errorf("seek %s: %w", req.Locator, err)
			}
			resp.Status = http.StatusPartialContent
			resp.StatusText = http.StatusText(http.StatusPartialContent)
			resp.ContentLength = end - start
			resp.Body = &limitedBody{Reader: io.LimitReader(rc, end-start), closer: rc}
			return resp, nil
		}
	}

	resp.Body = &verifiedBody{verifier: content.NewVerifyReader(rc, desc), closer: rc}
	return resp, nil
}

// resolveTarget picks the target and the reference to resolve on it.
func (t *Transport) resolveTarget(locator string) (Target, string, error) {
	raw, ok := strings.CutPrefix(locator, Scheme+"://")
	if !ok {
		return nil, "", fmt.Errorf("%w: %q lacks the %s:// scheme", ErrInvalidReference, locator, Scheme)
	}
	if t.target != nil {
		if raw == "" {
			return nil, "", fmt.Errorf("%w: empty reference", ErrInvalidReference)
		}
		return t.target, raw, nil
	}

	ref, err := registry.ParseReference(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if ref.Reference == "" {
		return nil, "", fmt.Errorf("%w: %q has no tag or digest", ErrInvalidReference, raw)
	}
	repo, err := remote.NewRepository(ref.Registry + "/" + ref.Repository)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	repo.PlainHTTP = t.plainHTTP
	repo.Client = t.authClient

	if _, err := digest.Parse(ref.Reference); err == nil {
		return repo.Blobs(), ref.Reference, nil
	}
	return repo, ref.Reference, nil
}

// mapError turns ORAS not-found errors into fs-style errors callers can test for.
func mapError(err error) error {
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %w", transport.ErrNotFound, err)
	}
	return err
}

// verifiedBody checks digest and size once the content has been read.
type verifiedBody struct {
	verifier *content.VerifyReader
	closer   io.Closer
}

// Read reads from the verifier and validates the content at EOF.
func (b *verifiedBody) Read(p []byte) (int, error) {
	n, err := b.verifier.Read(p)
	if errors.Is(err, io.EOF) {
		if verr := b.verifier.Verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

// Close closes the fetched content.
func (b *verifiedBody) Close() error {
	return b.closer.Close()
}

// limitedBody bounds a seeked read to the requested range.
type limitedBody struct {
	io.Reader
	closer io.Closer
}

// Close closes the fetched content.
func (b *limitedBody) Close() error {
	return b.closer.Close()
}
