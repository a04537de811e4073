package requestlog

import (
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/getmockd/mockcore/internal/id"
)

// DefaultMaxEntries is the capacity of a Memory created with a non-positive size.
const DefaultMaxEntries = 1000

// Subscriber receives new entries.
type Subscriber chan *Entry

// Memory is an in-memory FIFO Store.
type Memory struct {
	mu         sync.RWMutex
	entries    []*Entry
	maxEntries int

	subMu       sync.RWMutex
	subscribers map[Subscriber]struct{}
}

// NewMemory creates a Memory holding at most maxEntries entries.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		entries:     make([]*Entry, 0, maxEntries),
		maxEntries:  maxEntries,
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Log records entry, evicting the oldest entry at capacity.
func (m *Memory) Log(entry *Entry) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = id.ULID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	m.mu.Lock()
	if len(m.entries) >= m.maxEntries {
		copy(m.entries, m.entries[1:])
		m.entries = m.entries[:len(m.entries)-1]
	}
	m.entries = append(m.entries, entry)
	m.mu.Unlock()

	m.subMu.RLock()
	for sub := range m.subscribers {
		select {
		case sub <- entry:
		default:
			// slow subscriber
		}
	}
	m.subMu.RUnlock()
}

// Get returns the entry with entryID, or nil.
func (m *Memory) Get(entryID string) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ID == entryID {
			return e
		}
	}
	return nil
}

// List returns entries newest first.
func (m *Memory) List(filter *Filter) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Entry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		if filter == nil || filter.matches(m.entries[i]) {
			result = append(result, m.entries[i])
		}
	}
	if filter == nil {
		return result
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*Entry{}
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result
}

// Clear removes every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make([]*Entry, 0, m.maxEntries)
}

// Count returns the number of entries held.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Subscribe registers a buffered channel receiving new entries. Entries are
// dropped for a subscriber that falls behind. Call the returned function to
// unsubscribe.
func (m *Memory) Subscribe() (Subscriber, func()) {
	sub := make(Subscriber, 64)
	m.subMu.Lock()
	m.subscribers[sub] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subscribers, sub)
			m.subMu.Unlock()
			close(sub)
		})
	}
}

func (f *Filter) matches(e *Entry) bool {
	if f.Method != "" && !strings.EqualFold(e.Method, f.Method) {
		return false
	}
	if f.Path != "" && !matchPath(f.Path, e.Path) {
		return false
	}
	if f.Route != "" && e.Route != f.Route {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Status != 0 && e.Status != f.Status {
		return false
	}
	if f.HasError != nil && *f.HasError != (e.Error != "") {
		return false
	}
	return true
}

func matchPath(pattern, path string) bool {
	if strings.ContainsAny(pattern, "*?[{") {
		ok, err := doublestar.Match(pattern, path)
		return err == nil && ok
	}
	return strings.HasPrefix(path, pattern)
}
