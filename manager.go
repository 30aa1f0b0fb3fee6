package loader

import "sync"

// LifecycleManager observes the start and end of every Load call and
// resolves locators before they are fetched.
//
// ItemStart is called once per Load. ItemEnd follows once the call's outcome
// was delivered; ItemError precedes it when the load failed.
// Implementations must be safe for concurrent use.
type LifecycleManager interface {
	ItemStart(url string)
	ItemEnd(url string)
	ItemError(url string)
	ResolveURL(url string) string
}

// Manager is the default LifecycleManager. It tracks how many items have
// been started and finished and reports through optional callbacks.
//
// Callbacks run on the goroutine that triggered them, outside the
// manager's lock.
type Manager struct {
	// OnStart is called when the first item of a batch starts.
	OnStart func(url string, loaded, total int)

	// OnProgress is called each time an item ends.
	OnProgress func(url string, loaded, total int)

	// OnLoad is called when every started item has ended.
	OnLoad func()

	// OnError is called when an item fails.
	OnError func(url string)

	mu          sync.Mutex
	loading     bool
	itemsLoaded int
	itemsTotal  int
	urlModifier func(string) string
}

// Interface compliance.
var _ LifecycleManager = (*Manager)(nil)

// NewManager returns a Manager with the given callbacks. Any may be nil.
func NewManager(onLoad func(), onProgress func(url string, loaded, total int), onError func(url string)) *Manager {
	return &Manager{
		OnLoad:     onLoad,
		OnProgress: onProgress,
		OnError:    onError,
	}
}

// ItemStart records the start of an item.
func (m *Manager) ItemStart(url string) {
	m.mu.Lock()
	m.itemsTotal++
	first := !m.loading
	m.loading = true
	loaded, total := m.itemsLoaded, m.itemsTotal
	onStart := m.OnStart
	m.mu.Unlock()

	if first && onStart != nil {
		onStart(url, loaded, total)
	}
}

// ItemEnd records the end of an item.
func (m *Manager) ItemEnd(url string) {
	m.mu.Lock()
	m.itemsLoaded++
	loaded, total := m.itemsLoaded, m.itemsTotal
	done := loaded == total
	if done {
		m.loading = false
	}
	onProgress, onLoad := m.OnProgress, m.OnLoad
	m.mu.Unlock()

	if onProgress != nil {
		onProgress(url, loaded, total)
	}
	if done && onLoad != nil {
		onLoad()
	}
}

// ItemError reports a failed item.
func (m *Manager) ItemError(url string) {
	m.mu.Lock()
	onError := m.OnError
	m.mu.Unlock()

	if onError != nil {
		onError(url)
	}
}

// ResolveURL applies the URL modifier, if any.
func (m *Manager) ResolveURL(url string) string {
	m.mu.Lock()
	modifier := m.urlModifier
	m.mu.Unlock()

	if modifier != nil {
		return modifier(url)
	}
	return url
}

// SetURLModifier installs a function applied to every locator before it is
// fetched. Pass nil to remove it.
func (m *Manager) SetURLModifier(fn func(string) string) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urlModifier = fn
	return m
}

// Progress returns the number of ended and started items.
func (m *Manager) Progress() (loaded, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itemsLoaded, m.itemsTotal
}
