package file

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/loader/transport"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestTransportReadsWholeFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "data.txt", "hello file")
	resp, err := New().RoundTrip(context.Background(), &transport.Request{Locator: "file://" + filepath.ToSlash(path)})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello file", string(body))
	assert.Equal(t, transport.StatusNone, resp.Status)
	assert.Equal(t, int64(10), resp.ContentLength)
	assert.Contains(t, resp.ContentType, "text/plain")
}

func TestTransportServesRange(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "data.bin", "0123456789")
	tr := New()

	tests := []struct {
		rng  *transport.Range
		want string
	}{
		{rng: transport.NewRange(2, 3), want: "234"},
		{rng: transport.NewRange(7, -1), want: "789"},
		{rng: transport.NewRange(8, 10), want: "89"},
	}
	for _, tt := range tests {
		resp, err := tr.RoundTrip(context.Background(), &transport.Request{Locator: path, Range: tt.rng})
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, tt.want, string(body))
		assert.Equal(t, int64(len(tt.want)), resp.ContentLength)
	}
}

func TestTransportRoot(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "rel.txt", "relative")
	tr := New(WithRoot(filepath.Dir(path)))
	resp, err := tr.RoundTrip(context.Background(), &transport.Request{Locator: "rel.txt"})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "relative", string(body))
}

func TestTransportErrors(t *testing.T) {
	t.Parallel()

	tr := New()
	_, err := tr.RoundTrip(context.Background(), &transport.Request{Locator: filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.ErrorIs(t, err, transport.ErrNotFound)

	_, err = tr.RoundTrip(context.Background(), &transport.Request{Locator: t.TempDir()})
	require.Error(t, err)

	_, err = tr.RoundTrip(context.Background(), &transport.Request{Locator: "file://remote.example/x"})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.RoundTrip(ctx, &transport.Request{Locator: "file:///tmp/x"})
	require.ErrorIs(t, err, context.Canceled)
}
