package relay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agsys/relay-controller/internal/fault"
)

// Map indexes every relay of the device by ID
type Map struct {
	mu       sync.RWMutex
	relays   map[ID]*Relay
	observer Observer
}

// NewMap builds a map from relays; duplicate IDs keep the first relay
func NewMap(relays ...*Relay) *Map {
	m := &Map{relays: make(map[ID]*Relay, len(relays))}
	for _, r := range relays {
		if _, dup := m.relays[r.id]; !dup {
			m.relays[r.id] = r
		}
	}
	return m
}

// Add registers a relay
func (m *Map) Add(r *Relay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.relays[r.id]; dup {
		return fmt.Errorf("relay %s already registered", r.id)
	}
	r.setObserver(m.observer)
	m.relays[r.id] = r
	return nil
}

// Remove unregisters a relay and returns it, or nil when absent
func (m *Map) Remove(id ID) *Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.relays[id]
	if !ok {
		return nil
	}
	delete(m.relays, id)
	r.setObserver(nil)
	return r
}

// Get returns the relay for id
func (m *Map) Get(id ID) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[id]
	return r, ok
}

// Has reports whether id is registered
func (m *Map) Has(id ID) bool {
	_, ok := m.Get(id)
	return ok
}

// Lookup parses a raw identifier and resolves it. Malformed ids yield a
// ValidationError, unknown ones a NotFoundError.
func (m *Map) Lookup(raw string) (*Relay, error) {
	id, err := ParseID(raw)
	if err != nil {
		return nil, err
	}
	r, ok := m.Get(id)
	if !ok {
		return nil, &fault.NotFoundError{Kind: "relay", ID: id.String()}
	}
	return r, nil
}

// IDs returns all relay IDs: named outputs first, then pins ascending
func (m *Map) IDs() []ID {
	m.mu.RLock()
	ids := make([]ID, 0, len(m.relays))
	for id := range m.relays {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.kind != b.kind {
			return a.kind == kindNamed
		}
		if a.kind == kindNamed {
			return a.name < b.name
		}
		return a.pin < b.pin
	})
	return ids
}

// Snapshot returns the cached state of every relay keyed by ID string
func (m *Map) Snapshot() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.relays))
	for id, r := range m.relays {
		out[id.String()] = r.Status()
	}
	return out
}

// SetObserver installs o on every current and future relay
func (m *Map) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
	for _, r := range m.relays {
		r.setObserver(o)
	}
}

// Close releases every pin, returning the first error
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, r := range m.relays {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
