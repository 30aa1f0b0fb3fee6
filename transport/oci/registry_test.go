package oci

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/loader/transport"
)

const testRepo = "test/app"

// distribution serves a single repository over the registry HTTP API.
type distribution struct {
	username string
	password string

	manifests map[string][]byte
	blobs     map[digest.Digest][]byte

	mu       sync.Mutex
	requests []string
	ranges   []string
}

func newDistribution() *distribution {
	return &distribution{
		manifests: make(map[string][]byte),
		blobs:     make(map[digest.Digest][]byte),
	}
}

func (d *distribution) addManifest(tag string, body []byte) digest.Digest {
	dgst := digest.FromBytes(body)
	d.manifests[tag] = body
	d.manifests[dgst.String()] = body
	return dgst
}

func (d *distribution) addBlob(data []byte) digest.Digest {
	dgst := digest.FromBytes(data)
	d.blobs[dgst] = data
	return dgst
}

func (d *distribution) seen() (requests, ranges []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...), append([]string(nil), d.ranges...)
}

func (d *distribution) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.requests = append(d.requests, r.Method+" "+r.URL.Path)
	if rng := r.Header.Get("Range"); rng != "" {
		d.ranges = append(d.ranges, rng)
	}
	d.mu.Unlock()

	if d.username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != d.username || pass != d.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	prefix := "/v2/" + testRepo + "/"
	switch {
	case r.URL.Path == "/v2/":
		w.WriteHeader(http.StatusOK)
	case strings.HasPrefix(r.URL.Path, prefix+"manifests/"):
		ref := strings.TrimPrefix(r.URL.Path, prefix+"manifests/")
		body, ok := d.manifests[ref]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", ocispec.MediaTypeImageManifest)
		w.Header().Set("Docker-Content-Digest", digest.FromBytes(body).String())
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(body)
		}
	case strings.HasPrefix(r.URL.Path, prefix+"blobs/"):
		dgst, err := digest.Parse(strings.TrimPrefix(r.URL.Path, prefix+"blobs/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		data, ok := d.blobs[dgst]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Docker-Content-Digest", dgst.String())
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	default:
		http.NotFound(w, r)
	}
}

func startDistribution(t *testing.T, d *distribution) string {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u.Host
}

func fetchAll(t *testing.T, tr *Transport, req *transport.Request) (*transport.Response, []byte) {
	t.Helper()
	resp, err := tr.RoundTrip(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestRegistryTagResolvesManifest(t *testing.T) {
	t.Parallel()

	d := newDistribution()
	manifest := []byte(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json"}`)
	dgst := d.addManifest("v1", manifest)
	host := startDistribution(t, d)

	tr := New(WithPlainHTTP(true))
	resp, body := fetchAll(t, tr, &transport.Request{Locator: "oci://" + host + "/" + testRepo + ":v1"})

	assert.Equal(t, manifest, body)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, ocispec.MediaTypeImageManifest, resp.ContentType)
	assert.Equal(t, int64(len(manifest)), resp.ContentLength)

	requests, _ := d.seen()
	assert.Contains(t, requests, "HEAD /v2/"+testRepo+"/manifests/v1")
	assert.Contains(t, requests, "GET /v2/"+testRepo+"/manifests/"+dgst.String())
}

func TestRegistryDigestFetchesBlob(t *testing.T) {
	t.Parallel()

	d := newDistribution()
	data := []byte("layer content from the registry")
	dgst := d.addBlob(data)
	host := startDistribution(t, d)

	tr := New(WithPlainHTTP(true))
	resp, body := fetchAll(t, tr, &transport.Request{Locator: "oci://" + host + "/" + testRepo + "@" + dgst.String()})

	assert.Equal(t, data, body)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/octet-stream", resp.ContentType)

	requests, _ := d.seen()
	assert.Contains(t, requests, "HEAD /v2/"+testRepo+"/blobs/"+dgst.String())
	assert.Contains(t, requests, "GET /v2/"+testRepo+"/blobs/"+dgst.String())
	assert.NotContains(t, requests, "HEAD /v2/"+testRepo+"/manifests/"+dgst.String())
}

func TestRegistryBlobRange(t *testing.T) {
	t.Parallel()

	d := newDistribution()
	data := []byte("0123456789")
	dgst := d.addBlob(data)
	host := startDistribution(t, d)

	tr := New(WithPlainHTTP(true))
	resp, body := fetchAll(t, tr, &transport.Request{
		Locator: "oci://" + host + "/" + testRepo + "@" + dgst.String(),
		Range:   transport.NewRange(2, 3),
	})

	assert.Equal(t, "234", string(body))
	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, int64(3), resp.ContentLength)

	_, ranges := d.seen()
	assert.Equal(t, []string{"bytes=2-9"}, ranges)
}

func TestRegistryNotFound(t *testing.T) {
	t.Parallel()

	host := startDistribution(t, newDistribution())

	tr := New(WithPlainHTTP(true))
	_, err := tr.RoundTrip(context.Background(), &transport.Request{Locator: "oci://" + host + "/" + testRepo + ":missing"})
	require.ErrorIs(t, err, transport.ErrNotFound)
}

func TestRegistryCredentials(t *testing.T) {
	t.Parallel()

	d := newDistribution()
	d.username, d.password = "reader", "s3cret"
	data := []byte("private blob")
	dgst := d.addBlob(data)
	host := startDistribution(t, d)
	locator := "oci://" + host + "/" + testRepo + "@" + dgst.String()

	_, err := New(WithPlainHTTP(true)).RoundTrip(context.Background(), &transport.Request{Locator: locator})
	require.Error(t, err)

	store := credentials.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), host, auth.Credential{Username: "reader", Password: "s3cret"}))

	tr := New(WithPlainHTTP(true), WithCredentialStore(store), WithUserAgent("loader-test"))
	_, body := fetchAll(t, tr, &transport.Request{Locator: locator})
	assert.Equal(t, data, body)
}
