package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/meigma/loader"
	"github.com/meigma/loader/cache"
	"github.com/meigma/loader/cache/disk"
	"github.com/meigma/loader/metrics"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <locator>...",
		Short: "Fetch resources and write their decoded content",
		Long: `Fetch one or more resources and write their decoded content in order.

Identical locators are fetched once. With --cache-dir, results are persisted
and later runs are served from disk.

Examples:
  # Fetch 50 bytes starting at offset 100
  loader get https://example.com/model.bin --type arraybuffer --offset 100 --length 50

  # Decode Shift_JIS text
  loader get https://example.com/a.txt --mime "text/plain; charset=shift_jis"

  # Pretty-print JSON, caching results on disk
  loader get https://example.com/a.json --type json --cache-dir /tmp/loader`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGet,
	}

	f := cmd.Flags()
	f.String("type", string(loader.ResponseText), "response type (text|arraybuffer|blob|json|document)")
	f.String("mime", "", "mime type for documents and text charset detection")
	f.Int64("offset", -1, "range offset in bytes (negative disables ranges)")
	f.Int64("length", -1, "range length in bytes (negative reads to the end)")
	f.StringSlice("header", nil, "extra request header as key=value (repeatable)")
	f.Bool("with-credentials", false, "send credentials with cross-origin requests")
	f.String("base-path", "", "prefix prepended to every locator")
	f.String("cache-dir", "", "persist results in this directory")
	f.Bool("compress-cache", false, "zstd-compress records in the cache directory")
	f.Int64("cache-max-bytes", 0, "size limit of the cache directory (0 = unlimited)")
	f.String("integrity", "", "expected digest of every response body (e.g. sha256:...)")
	f.Int("max-concurrent", 0, "maximum number of simultaneous fetches (0 = unlimited)")
	f.StringP("out", "o", "", "write output to this file instead of stdout")
	f.Bool("metrics", false, "print Prometheus metrics to stderr when done")
	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	stderr := &lockedWriter{w: cmd.ErrOrStderr()}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	// ended is closed once the lifecycle callbacks of every locator have
	// returned, failed ones included.
	ended := make(chan struct{})
	var finished atomic.Int32
	mgr := loader.NewManager(nil, func(url string, loaded, total int) {
		logger.Info("item done", slog.String("url", url), slog.Int("loaded", loaded), slog.Int("total", total))
		if int(finished.Add(1)) == len(args) {
			close(ended)
		}
	}, func(url string) {
		logger.Warn("item failed", slog.String("url", url))
	})
	l := loader.New(
		loader.WithManager(mgr),
		loader.WithCache(store),
		loader.WithLogger(logger),
		loader.WithMetrics(metrics.New(reg)),
		loader.WithMaxConcurrent(cfg.MaxConcurrent),
		loader.WithContext(cmd.Context()),
	)
	if err := configure(l, cfg); err != nil {
		return err
	}

	payloads, err := fetchAll(cmd.Context(), l, args, stderr)
	select {
	case <-ended:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Out != "" {
		f, err := os.Create(cfg.Out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	for _, payload := range payloads {
		if err := writePayload(out, payload); err != nil {
			return err
		}
	}

	if cfg.Metrics {
		return writeMetrics(stderr, reg)
	}
	return nil
}

func openStore(cfg *getConfig) (cache.Store, error) {
	if cfg.CacheDir == "" {
		return cache.NewMemory(), nil
	}
	return disk.New(cfg.CacheDir,
		disk.WithCompression(cfg.CompressCache),
		disk.WithMaxBytes(cfg.CacheMaxBytes),
	)
}

func configure(l *loader.Loader, cfg *getConfig) error {
	l.SetPath(cfg.BasePath).
		SetResponseType(loader.ResponseType(cfg.Type)).
		SetMimeType(cfg.Mime).
		SetWithCredentials(cfg.WithCredentials)

	if cfg.Offset >= 0 {
		l.SetRange(cfg.Offset, cfg.Length)
	}
	if cfg.Integrity != "" {
		d, err := digest.Parse(cfg.Integrity)
		if err != nil {
			return fmt.Errorf("invalid --integrity: %w", err)
		}
		l.SetIntegrity(d)
	}
	if len(cfg.Headers) > 0 {
		header := http.Header{}
		for _, kv := range cfg.Headers {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid --header %q: want key=value", kv)
			}
			header.Add(key, value)
		}
		l.SetRequestHeader(header)
	}
	return nil
}

// fetchAll loads every locator through l, reporting progress to w, and
// returns the payloads in locator order.
func fetchAll(ctx context.Context, l *loader.Loader, locators []string, w io.Writer) ([]any, error) {
	type result struct {
		payload any
		err     error
	}
	results := make([]chan result, len(locators))
	for i, locator := range locators {
		ch := make(chan result, 1)
		results[i] = ch
		l.Load(locator,
			func(payload any) { ch <- result{payload: payload} },
			func(p loader.Progress) {
				if p.LengthComputable {
					fmt.Fprintf(w, "%s: %d/%d bytes\n", locator, p.Loaded, p.Total)
				} else {
					fmt.Fprintf(w, "%s: %d bytes\n", locator, p.Loaded)
				}
			},
			func(err error) { ch <- result{err: err} },
		)
	}

	payloads := make([]any, len(locators))
	for i, ch := range results {
		select {
		case r := <-ch:
			if r.err != nil {
				return nil, fmt.Errorf("%s: %w", locators[i], r.err)
			}
			payloads[i] = r.payload
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return payloads, nil
}

func writePayload(w io.Writer, payload any) error {
	switch v := payload.(type) {
	case []byte:
		_, err := w.Write(v)
		return err
	case string:
		_, err := io.WriteString(w, v)
		return err
	case *loader.Blob:
		_, err := w.Write(v.Data)
		return err
	case *loader.Document:
		if v.HTML != nil {
			return html.Render(w, v.HTML)
		}
		_, err := v.XML.WriteTo(w)
		return err
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
}

func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// lockedWriter serializes writes from concurrent fetches and the logger.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
