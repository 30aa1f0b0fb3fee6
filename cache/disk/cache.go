// Package disk provides a disk-backed cache.Store.
//
// Only byte, text and blob payloads can be persisted. Records are written
// atomically and named by the sha256 digest of their request key.
package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/loader"
	"github.com/meigma/loader/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	defaultFilePerm       = 0o600
)

// ErrUnsupportedPayload is returned by Put for payloads that have no on-disk
// representation.
var ErrUnsupportedPayload = errors.New("disk cache: unsupported payload type")

// Cache implements cache.Store using the local filesystem.
//
// Decoded payloads are memoized in memory so repeated hits for a key return
// the same value.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64
	compress       bool

	memo    *cache.Memory
	bytes   atomic.Int64
	pruneMu sync.Mutex
}

// Interface compliance.
var _ cache.Store = (*Cache)(nil)

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes bounds the total size of the cache directory.
// Oldest records are pruned after a Put pushes the size past the limit.
// Use 0 for no limit (the default).
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithCompression enables zstd compression of record payloads.
func WithCompression(enabled bool) Option {
	return func(c *Cache) {
		c.compress = enabled
	}
}

// New creates a disk-backed cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("disk cache: dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		memo:           cache.NewMemory(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("disk cache: shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		return nil, errors.New("disk cache: max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// Get returns the payload stored under key.
func (c *Cache) Get(key string) (any, bool) {
	name := c.name(key)
	if v, ok := c.memo.Get(name); ok {
		return v, true
	}
	data, err := os.ReadFile(c.path(name))
	if err != nil {
		return nil, false
	}
	payload, err := decodeRecord(data)
	if err != nil {
		return nil, false
	}
	_ = c.memo.Put(name, payload)
	return payload, true
}

// Put persists payload under key.
// Payloads other than []byte, string and *loader.Blob return ErrUnsupportedPayload.
func (c *Cache) Put(key string, payload any) error {
	switch payload.(type) {
	case []byte, string, *loader.Blob:
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedPayload, payload)
	}
	record, err := encodeRecord(payload, c.compress)
	if err != nil {
		return err
	}

	name := c.name(key)
	path := c.path(name)
	if err := os.MkdirAll(filepath.Dir(path), c.dirPerm); err != nil {
		return err
	}
	var previous int64
	if info, err := os.Stat(path); err == nil {
		previous = info.Size()
	}
	if err := writeAtomic(path, record); err != nil {
		return err
	}
	_ = c.memo.Put(name, payload)

	size := c.bytes.Add(int64(len(record)) - previous)
	if c.maxBytes > 0 && size > c.maxBytes {
		if _, err := c.Prune(c.maxBytes); err != nil {
			return fmt.Errorf("disk cache: prune: %w", err)
		}
	}
	return nil
}

// Delete removes the record stored under key.
func (c *Cache) Delete(key string) error {
	name := c.name(key)
	_ = c.memo.Delete(name)
	path := c.path(name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	c.bytes.Add(-info.Size())
	return nil
}

// Clear removes every record.
func (c *Cache) Clear() error {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	_ = c.memo.Clear()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	c.bytes.Store(0)
	return nil
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the oldest records until the cache is at or below targetBytes.
// It returns the number of bytes freed.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	if targetBytes < 0 {
		targetBytes = 0
	}
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, targetBytes, func(path string) {
		_ = c.memo.Delete(filepath.Base(path))
	})
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

// name returns the record file name for key.
func (c *Cache) name(key string) string {
	return digest.FromString(key).Encoded()
}

func (c *Cache) path(name string) string {
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, name)
	}
	prefixLen := min(c.shardPrefixLen, len(name))
	return filepath.Join(c.dir, name[:prefixLen], name)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "cache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
