// Package inflight coordinates deduplication of concurrent identical loads.
//
// The first requester for a key performs the real operation; every other
// requester attaches a [Waiter] to the key's entry and receives the same
// progress notifications and the same terminal outcome. A Registry is plain
// shared state: construct one and hand it to every loader that should
// deduplicate against the others.
package inflight

import (
	"errors"
	"sync"
)

// ErrNotInFlight is returned by Resolve when no entry exists for the key,
// which means the operation's outcome was already delivered.
var ErrNotInFlight = errors.New("inflight: no pending entry for key")

// Progress reports how much of a resource has been transferred.
type Progress struct {
	// Loaded is the number of bytes received so far.
	Loaded int64

	// Total is the expected number of bytes, valid when LengthComputable is set.
	Total int64

	// LengthComputable reports whether Total is known.
	LengthComputable bool
}

// Waiter holds the callbacks of one requester. Any callback may be nil.
type Waiter struct {
	OnLoad     func(payload any)
	OnProgress func(p Progress)
	OnError    func(err error)
}

// Registry maps keys to the waiters of their pending operation.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	pending map[string][]Waiter
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{pending: make(map[string][]Waiter)}
}

// Begin creates an empty entry for key if none exists.
// It reports whether the caller is the first requester and must therefore
// run the operation.
func (r *Registry) Begin(key string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.beginLocked(key)
}

// Attach appends w to the entry for key, creating the entry if needed so a
// waiter is never dropped.
func (r *Registry) Attach(key string, w Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = append(r.pending[key], w)
}

// Join performs Begin and Attach as one critical section.
// It reports whether the caller is the first requester.
func (r *Registry) Join(key string, w Waiter) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	first = r.beginLocked(key)
	r.pending[key] = append(r.pending[key], w)
	return first
}

func (r *Registry) beginLocked(key string) bool {
	if _, ok := r.pending[key]; ok {
		return false
	}
	r.pending[key] = nil
	return true
}

// Resolve removes the entry for key and delivers the outcome to every waiter
// attached at that instant, in attachment order: OnError when err is non-nil,
// OnLoad otherwise. It returns the number of waiters notified, or
// ErrNotInFlight if there was no entry.
//
// Callbacks run on the calling goroutine after the lock is released.
func (r *Registry) Resolve(key string, payload any, err error) (int, error) {
	r.mu.Lock()
	waiters, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !ok {
		return 0, ErrNotInFlight
	}
	for _, w := range waiters {
		if err != nil {
			if w.OnError != nil {
				w.OnError(err)
			}
			continue
		}
		if w.OnLoad != nil {
			w.OnLoad(payload)
		}
	}
	return len(waiters), nil
}

// NotifyProgress delivers p to the waiters currently attached to key.
// It returns false if there is no entry for key.
func (r *Registry) NotifyProgress(key string, p Progress) bool {
	r.mu.Lock()
	waiters, ok := r.pending[key]
	// Attach may append to the backing array; iterate over a stable view.
	waiters = waiters[:len(waiters):len(waiters)]
	r.mu.Unlock()

	for _, w := range waiters {
		if w.OnProgress != nil {
			w.OnProgress(p)
		}
	}
	return ok
}

// Pending reports whether an operation is in flight for key.
func (r *Registry) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Len returns the number of keys with an operation in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
