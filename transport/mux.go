package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Mux routes requests to transports by locator scheme.
// Scheme matching is case-insensitive. Locators without a scheme, or with a
// scheme nobody registered, go to the fallback transport if one is set.
type Mux struct {
	mu       sync.RWMutex
	schemes  map[string]Transport
	fallback Transport
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{schemes: make(map[string]Transport)}
}

// Handle registers t for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, t Transport) *Mux {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemes[strings.ToLower(scheme)] = t
	return m
}

// Fallback sets the transport used when no scheme matches.
func (m *Mux) Fallback(t Transport) *Mux {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = t
	return m
}

// RoundTrip dispatches req to the transport registered for its scheme.
func (m *Mux) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	t := m.lookup(Scheme(req.Locator))
	if t == nil {
		return nil, fmt.Errorf("transport: no transport for %q", req.Locator)
	}
	return t.RoundTrip(ctx, req)
}

func (m *Mux) lookup(scheme string) Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.schemes[scheme]; ok {
		return t
	}
	return m.fallback
}

// Scheme returns the lower-cased scheme of locator, or "" if it has none.
func Scheme(locator string) string {
	u, err := url.Parse(locator)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
