package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meigma/loader/inflight"
	"github.com/meigma/loader/transport"
)

const (
	readChunkSize = 32 << 10

	// maxPrealloc bounds how much of a declared length is reserved up front.
	maxPrealloc = 1 << 20
)

// fetch runs one transport round trip for req and decodes the result.
func (l *Loader) fetch(ctx context.Context, req *request) (any, error) {
	ctx, span := l.tracer.Start(ctx, "loader.fetch", trace.WithAttributes(
		attribute.String("loader.url", req.url),
		attribute.String("loader.response_type", string(req.responseType)),
	))
	defer span.End()
	if req.rng != nil {
		span.SetAttributes(attribute.String("loader.range", req.rng.Header()))
	}

	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer l.sem.Release(1)
	}

	start := time.Now()
	payload, n, err := l.execute(ctx, req)
	l.metrics.RecordFetch(transport.Scheme(req.url), time.Since(start), n, err)
	span.SetAttributes(attribute.Int64("loader.bytes", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Debug("fetch failed",
			slog.String("url", req.url),
			slog.Any("error", err))
		return nil, err
	}
	return payload, nil
}

func (l *Loader) execute(ctx context.Context, req *request) (any, int64, error) {
	resp, err := l.transport.RoundTrip(ctx, &transport.Request{
		Locator:     req.url,
		Range:       req.rng,
		Header:      req.header,
		Credentials: req.credentials,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("loader: fetch %q: %w", req.url, err)
	}
	defer resp.Body.Close()

	url := resp.Locator
	if url == "" {
		url = req.url
	}

	switch resp.Status {
	case http.StatusOK, http.StatusPartialContent:
	case transport.StatusNone:
		l.logger.Warn("transport reported no status, treating as success", slog.String("url", url))
	default:
		return nil, 0, &HTTPError{URL: url, StatusCode: resp.Status, StatusText: resp.StatusText}
	}

	data, err := l.readBody(ctx, req.key, resp)
	if err != nil {
		return nil, int64(len(data)), fmt.Errorf("loader: read %q: %w", url, err)
	}
	n := int64(len(data))

	if req.integrity != "" {
		if err := verify(req.integrity, data); err != nil {
			return nil, n, err
		}
	}

	payload, err := decode(data, req.responseType, req.mimeType, resp.ContentType)
	if err != nil {
		return nil, n, err
	}

	if req.rng != nil && resp.Status == http.StatusOK {
		payload, err = sliceFallback(payload, req.rng, url)
		if err != nil {
			return nil, n, err
		}
		l.logger.Debug("range request answered with full content, sliced locally",
			slog.String("url", url),
			slog.String("range", req.rng.Header()))
	}
	return payload, n, nil
}

// readBody reads the response body in chunks and reports progress to every
// waiter of key after each chunk.
func (l *Loader) readBody(ctx context.Context, key string, resp *transport.Response) ([]byte, error) {
	total := max(resp.ContentLength, 0)
	computable := total > 0

	var buf bytes.Buffer
	if computable {
		buf.Grow(int(min(total, maxPrealloc)))
	}
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return buf.Bytes(), err
		}
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			l.registry.NotifyProgress(key, inflight.Progress{
				Loaded:           int64(buf.Len()),
				Total:            total,
				LengthComputable: computable,
			})
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}
