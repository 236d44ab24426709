package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agsys/relay-controller/internal/relay"
	"github.com/agsys/relay-controller/internal/schedule"
	"github.com/agsys/relay-controller/internal/storage"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) HandleEvent(ev Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func relayChange(id relay.ID, to relay.State) relay.Change {
	return relay.Change{ID: id, From: !to, To: to, Source: relay.SourceManual, At: time.Now()}
}

func TestBusDeliversInOrderAndDrainsOnStop(t *testing.T) {
	bus := NewBus(16)
	var got collector
	bus.AddSink("failing", SinkFunc(func(Event) error { return errors.New("boom") }))
	bus.AddSink("collector", &got)
	bus.Start(context.Background())

	bus.RelayChanged(relayChange(relay.PinID(21), relay.On))
	rule := schedule.Rule{TurnOnTime: "06:00", TurnOffTime: "18:00", Days: []string{"Mon"}}
	bus.ScheduleChanged(schedule.Mutation{RelayID: "21", Action: schedule.ActionAdd, Rule: &rule})
	bus.Stop()

	events := got.all()
	require.Len(t, events, 2)
	assert.Equal(t, TypeRelayChanged, events[0].Type)
	assert.Equal(t, &RelayPayload{RelayID: "21", From: relay.Off, To: relay.On, Source: relay.SourceManual}, events[0].Payload)
	assert.Equal(t, TypeScheduleChanged, events[1].Type)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Len(t, events[0].ID, 36)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	bus.Publish(TypeRelayChanged, nil)
	bus.Publish(TypeRelayChanged, nil)

	var got collector
	bus.AddSink("collector", &got)
	bus.Start(context.Background())
	bus.Stop()
	assert.Len(t, got.all(), 1)
}

func TestEventJSON(t *testing.T) {
	ev := Event{
		ID:        "id",
		Type:      TypeRelayChanged,
		Timestamp: "2024-03-04T06:00:00Z",
		Payload:   &RelayPayload{RelayID: "LED", From: relay.Off, To: relay.On, Source: relay.SourceSchedule},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id","type":"relay_changed","timestamp":"2024-03-04T06:00:00Z",
		"payload":{"relay_id":"LED","from":"Off","to":"On","source":"schedule"}}`, string(data))
}

func TestHubStreamsEvents(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.HandleEvent(Event{ID: "1", Type: TypeRelayChanged, Payload: &RelayPayload{RelayID: "21", To: relay.On}}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "relay_changed", got["type"])
	assert.Equal(t, "21", got["payload"].(map[string]interface{})["relay_id"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }

func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeMQTT struct {
	mqtt.Client
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s string
	switch p := payload.(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	}
	f.msgs = append(f.msgs, published{topic: topic, retained: retained, payload: s})
	return &doneToken{err: f.err}
}

func (f *fakeMQTT) Disconnect(uint) {}

func TestPublisherRelayEvent(t *testing.T) {
	client := &fakeMQTT{}
	p := NewPublisher(client, DefaultMQTTConfig())

	err := p.HandleEvent(Event{ID: "1", Type: TypeRelayChanged, Payload: &RelayPayload{RelayID: "21", From: relay.Off, To: relay.On}})
	require.NoError(t, err)

	require.Len(t, client.msgs, 2)
	assert.Equal(t, published{topic: "relayctl/21/state", retained: true, payload: "On"}, client.msgs[0])
	assert.Equal(t, "relayctl/events", client.msgs[1].topic)
	assert.False(t, client.msgs[1].retained)
	assert.Contains(t, client.msgs[1].payload, `"relay_changed"`)
}

func TestPublisherStatesAndErrors(t *testing.T) {
	client := &fakeMQTT{}
	p := NewPublisher(client, DefaultMQTTConfig())
	require.NoError(t, p.PublishStates(map[string]relay.State{"LED": relay.Off}))
	assert.Equal(t, published{topic: "relayctl/LED/state", retained: true, payload: "Off"}, client.msgs[0])

	client.err = errors.New("not connected")
	err := p.HandleEvent(Event{Type: TypeScheduleChanged, Payload: &SchedulePayload{RelayID: "21", Action: schedule.ActionDelete}})
	assert.ErrorContains(t, err, "relayctl/events")
}

func TestRecorderJournalsEvents(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "relayctl-test-*.db")
	require.NoError(t, err)
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	db, err := storage.Open(tmpFile.Name())
	require.NoError(t, err)
	defer db.Close()

	rec := NewRecorder(db, 0)
	require.NoError(t, rec.HandleEvent(Event{
		Type:      TypeRelayChanged,
		Timestamp: "2024-03-04T06:00:00Z",
		Payload:   &RelayPayload{RelayID: "21", From: relay.Off, To: relay.On, Source: relay.SourceSchedule},
	}))
	rule := schedule.Rule{TurnOnTime: "06:00", TurnOffTime: "18:00", Days: []string{"Mon"}}
	require.NoError(t, rec.HandleEvent(Event{
		Type:      TypeScheduleChanged,
		Timestamp: "2024-03-04T05:00:00Z",
		Payload:   &SchedulePayload{RelayID: "21", Action: schedule.ActionAdd, Rule: &rule},
	}))

	events, err := db.GetRelayEvents("21", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Off", events[0].PrevState)
	assert.Equal(t, "On", events[0].NewState)
	assert.Equal(t, "schedule", events[0].Source)

	changes, err := db.GetScheduleChanges("21", 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.JSONEq(t, `{"turn_on_time":"06:00","turn_off_time":"18:00","days":["Mon"],"last_triggered_date":""}`, changes[0].RuleJSON)

	// Retention disabled: Start and Stop are no-ops
	rec.Start(context.Background())
	rec.Stop()
}
