// Package events fans relay and schedule changes out to the journal, the
// WebSocket stream and the MQTT broker.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/agsys/relay-controller/internal/relay"
	"github.com/agsys/relay-controller/internal/schedule"
)

// Type defines the type of an event
type Type string

const (
	TypeRelayChanged    Type = "relay_changed"
	TypeScheduleChanged Type = "schedule_changed"
)

// Event is one change, as delivered to every sink
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RelayPayload is the payload of TypeRelayChanged
type RelayPayload struct {
	RelayID string       `json:"relay_id"`
	From    relay.State  `json:"from"`
	To      relay.State  `json:"to"`
	Source  relay.Source `json:"source"`
}

// SchedulePayload is the payload of TypeScheduleChanged
type SchedulePayload struct {
	RelayID string         `json:"relay_id"`
	Action  string         `json:"action"`
	Rule    *schedule.Rule `json:"rule,omitempty"`
}

// Sink consumes events
type Sink interface {
	HandleEvent(Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event) error

// HandleEvent calls f
func (f SinkFunc) HandleEvent(ev Event) error { return f(ev) }

type namedSink struct {
	name string
	sink Sink
}

// Bus queues events and delivers them to sinks on its own goroutine, so
// publishers never wait on a slow sink.
type Bus struct {
	queue    chan Event
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.RWMutex
	sinks []namedSink
}

// NewBus creates a bus with the given queue depth
func NewBus(depth int) *Bus {
	if depth <= 0 {
		depth = 256
	}
	return &Bus{
		queue:    make(chan Event, depth),
		stopChan: make(chan struct{}),
	}
}

// AddSink registers a sink under name
func (b *Bus) AddSink(name string, s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: s})
	b.mu.Unlock()
}

// Start begins delivery
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.dispatchLoop(ctx)
}

// Stop delivers everything already queued and returns
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
}

// Publish wraps payload in an event and queues it. The event is dropped when
// the queue is full.
func (b *Bus) Publish(t Type, payload interface{}) {
	ev := Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	select {
	case b.queue <- ev:
	default:
		log.WithField("type", t).Warn("Event queue full, dropping event")
	}
}

// RelayChanged implements relay.Observer
func (b *Bus) RelayChanged(c relay.Change) {
	b.Publish(TypeRelayChanged, &RelayPayload{
		RelayID: c.ID.String(),
		From:    c.From,
		To:      c.To,
		Source:  c.Source,
	})
}

// ScheduleChanged implements schedule.Observer
func (b *Bus) ScheduleChanged(m schedule.Mutation) {
	b.Publish(TypeScheduleChanged, &SchedulePayload{
		RelayID: m.RelayID,
		Action:  m.Action,
		Rule:    m.Rule,
	})
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-ctx.Done():
			b.drain()
			return
		case <-b.stopChan:
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.HandleEvent(ev); err != nil {
			log.WithFields(log.Fields{"sink": s.name, "type": ev.Type}).WithError(err).Warn("Failed to deliver event")
		}
	}
}
