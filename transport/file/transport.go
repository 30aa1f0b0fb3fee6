// Package file provides a transport.Transport for file:// locators.
//
// Local reads have no response status, so every successful response carries
// transport.StatusNone. Byte ranges are served directly from the file.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"

	"github.com/meigma/loader/transport"
)

// Transport reads resources from the local filesystem.
type Transport struct {
	root string
}

// Interface compliance.
var _ transport.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithRoot resolves relative paths against dir instead of the working directory.
func WithRoot(dir string) Option {
	return func(t *Transport) {
		t.root = dir
	}
}

// New creates a file transport.
func New(opts ...Option) *Transport {
	t := &Transport{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip opens the file named by req.Locator.
func (t *Transport) RoundTrip(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := t.path(req.Locator)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) //nolint:gosec // locator is chosen by the caller
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w: %w", req.Locator, transport.ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.Locator, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", req.Locator, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: is a directory", req.Locator)
	}

	size := info.Size()
	var body io.Reader = f
	if req.Range != nil {
		start, end := req.Range.Bounds(size)
		body = io.NewSectionReader(f, start, end-start)
		size = end - start
	}

	return &transport.Response{
		Locator:       req.Locator,
		Status:        transport.StatusNone,
		ContentType:   mime.TypeByExtension(filepath.Ext(path)),
		ContentLength: size,
		Body:          &fileBody{Reader: body, file: f},
	}, nil
}

// path converts a file:// locator, or a bare path, to a filesystem path.
func (t *Transport) path(locator string) (string, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", locator, err)
	}
	p := locator
	if u.Scheme != "" {
		if u.Scheme != "file" {
			return "", fmt.Errorf("file transport: unsupported scheme %q", u.Scheme)
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", errors.New("file transport: remote hosts are not supported")
		}
		p = u.Path
	}
	p = filepath.FromSlash(p)
	if t.root != "" && !filepath.IsAbs(p) {
		p = filepath.Join(t.root, p)
	}
	return p, nil
}

// fileBody reads through a section of the file and closes the file.
type fileBody struct {
	io.Reader
	file *os.File
}

// Close closes the underlying file.
func (b *fileBody) Close() error {
	return b.file.Close()
}
