// Package testutil provides shared helpers for loader tests.
package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Data returns n bytes where byte i is i modulo 256.
func Data(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

// Server is an httptest server that serves a fixed body, honoring Range
// headers unless told otherwise, and records what it was asked for.
type Server struct {
	*httptest.Server

	hits        atomic.Int32
	ignoreRange atomic.Bool

	mu      sync.Mutex
	ranges  []string
	release chan struct{}
}

// NewServer starts a Server for data. It is closed when the test ends.
func NewServer(tb testing.TB, data []byte) *Server {
	tb.Helper()
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		s.ranges = append(s.ranges, r.Header.Get("Range"))
		release := s.release
		s.mu.Unlock()
		if release != nil {
			<-release
		}
		if s.ignoreRange.Load() {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	tb.Cleanup(s.Close)
	return s
}

// Hits returns the number of requests served.
func (s *Server) Hits() int32 {
	return s.hits.Load()
}

// IgnoreRange makes the server answer every request with the full body and
// status 200, as servers without range support do.
func (s *Server) IgnoreRange(ignore bool) {
	s.ignoreRange.Store(ignore)
}

// Gate holds every subsequent request until the returned channel is closed.
func (s *Server) Gate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release = make(chan struct{})
	return s.release
}

// RangeHeaders returns the Range header of every request, in arrival order.
func (s *Server) RangeHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

// Lifecycle records lifecycle manager calls per URL.
type Lifecycle struct {
	mu     sync.Mutex
	starts map[string]int
	ends   map[string]int
	errs   map[string]int
}

// NewLifecycle returns an empty Lifecycle recorder.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		starts: make(map[string]int),
		ends:   make(map[string]int),
		errs:   make(map[string]int),
	}
}

// ItemStart records a start.
func (m *Lifecycle) ItemStart(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts[url]++
}

// ItemEnd records an end.
func (m *Lifecycle) ItemEnd(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ends[url]++
}

// ItemError records an error.
func (m *Lifecycle) ItemError(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[url]++
}

// ResolveURL returns url unchanged.
func (m *Lifecycle) ResolveURL(url string) string { return url }

// Counts returns the number of starts, ends and errors recorded for url.
func (m *Lifecycle) Counts(url string) (starts, ends, errs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts[url], m.ends[url], m.errs[url]
}
