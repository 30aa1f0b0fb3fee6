// Package cache provides stores for decoded resource payloads.
//
// A store is a plain key → payload lookup table owned by the application and
// shared by every loader that should reuse results. Keys are request keys
// (resolved locator plus optional byte range). Stores only ever receive
// payloads of fully successful loads.
package cache

// Store holds decoded payloads by request key.
//
// Implementations must be safe for concurrent use. Concurrent writes to the
// same key are last-write-wins.
type Store interface {
	// Get returns the payload stored under key.
	// Returns nil, false if nothing is stored.
	Get(key string) (any, bool)

	// Put stores payload under key, replacing any previous value.
	Put(key string, payload any) error

	// Delete removes the payload stored under key.
	// Missing keys are a no-op.
	Delete(key string) error

	// Clear removes every stored payload.
	Clear() error
}

// Nop is a Store that never retains anything.
type Nop struct{}

// Interface compliance.
var _ Store = Nop{}

// Get always reports a miss.
func (Nop) Get(string) (any, bool) { return nil, false }

// Put discards payload.
func (Nop) Put(string, any) error { return nil }

// Delete is a no-op.
func (Nop) Delete(string) error { return nil }

// Clear is a no-op.
func (Nop) Clear() error { return nil }
