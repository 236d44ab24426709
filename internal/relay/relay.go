// Package relay models the controllable outputs of the device: relay
// identifiers, cached on/off state, the pin drivers behind them and the
// Relay Map shared by the scheduler and the HTTP surface.
package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// State is the on/off state of a relay
type State bool

const (
	Off State = false
	On  State = true
)

func (s State) String() string {
	if s {
		return "On"
	}
	return "Off"
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "on":
		*s = On
	case "off":
		*s = Off
	default:
		return fmt.Errorf("invalid relay state %q", string(b))
	}
	return nil
}

// Source records who issued an actuation
type Source string

const (
	SourceManual   Source = "manual"
	SourceSchedule Source = "schedule"
)

// Change describes a state transition of one relay
type Change struct {
	ID     ID
	From   State
	To     State
	Source Source
	At     time.Time
}

// Observer is notified after every state transition
type Observer interface {
	RelayChanged(Change)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Change)

func (f ObserverFunc) RelayChanged(c Change) { f(c) }

// Relay is one controllable output
type Relay struct {
	id  ID
	pin Pin

	mu       sync.Mutex
	state    State
	observer Observer
}

// New creates a relay in the Off state. The pin is not driven until the
// first actuation.
func New(id ID, pin Pin) *Relay {
	return &Relay{id: id, pin: pin}
}

// ID returns the relay identifier
func (r *Relay) ID() ID { return r.id }

// TurnOn drives the relay on. Calling it while already on is not an error.
func (r *Relay) TurnOn(src Source) error { return r.set(On, src) }

// TurnOff drives the relay off
func (r *Relay) TurnOff(src Source) error { return r.set(Off, src) }

// Status returns the cached state without touching hardware
func (r *Relay) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) setObserver(o Observer) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// set records the commanded state before driving the pin so that Status
// always reflects the last command, even when the driver fails.
func (r *Relay) set(to State, src Source) error {
	r.mu.Lock()
	from := r.state
	r.state = to
	err := r.pin.Set(bool(to))
	obs := r.observer
	r.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("relay %s: drive pin: %w", r.id, err)
	}
	if from != to && obs != nil {
		obs.RelayChanged(Change{ID: r.id, From: from, To: to, Source: src, At: time.Now()})
	}
	return err
}

// Close releases the underlying pin
func (r *Relay) Close() error {
	return r.pin.Close()
}
