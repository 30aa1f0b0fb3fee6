package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the number of shards used by NewMemory when unset.
const DefaultShards = 32

// Memory is an in-process Store with no expiry, size bound or eviction.
//
// Keys are spread across shards by xxhash so that loads of distinct keys do
// not contend on a single lock.
type Memory struct {
	shards []memoryShard
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]any
}

// Interface compliance.
var _ Store = (*Memory)(nil)

// MemoryOption configures a Memory store.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	shards int
}

// WithShards sets the number of shards. Values < 1 use DefaultShards.
func WithShards(n int) MemoryOption {
	return func(c *memoryConfig) {
		c.shards = n
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	cfg := memoryConfig{shards: DefaultShards}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.shards < 1 {
		cfg.shards = DefaultShards
	}
	m := &Memory{shards: make([]memoryShard, cfg.shards)}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]any)
	}
	return m
}

func (m *Memory) shard(key string) *memoryShard {
	return &m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Get returns the payload stored under key.
func (m *Memory) Get(key string) (any, bool) {
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Put stores payload under key.
func (m *Memory) Put(key string, payload any) error {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = payload
	return nil
}

// Delete removes the payload stored under key.
func (m *Memory) Delete(key string) error {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Clear removes every stored payload.
func (m *Memory) Clear() error {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		clear(s.entries)
		s.mu.Unlock()
	}
	return nil
}

// Len returns the number of stored payloads.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
