package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agsys/relay-controller/internal/document"
	"github.com/agsys/relay-controller/internal/relay"
	"github.com/agsys/relay-controller/internal/schedule"
	"github.com/agsys/relay-controller/internal/storage"
)

type fakeHistory struct {
	gotID    string
	gotLimit int
	err      error
}

func (f *fakeHistory) GetRelayEvents(relayID string, limit int) ([]*storage.RelayEvent, error) {
	f.gotID, f.gotLimit = relayID, limit
	if f.err != nil {
		return nil, f.err
	}
	return []*storage.RelayEvent{{ID: 1, RelayID: relayID, PrevState: "Off", NewState: "On", Source: "manual", Timestamp: time.Unix(0, 0).UTC()}}, nil
}

type fakeCredentials struct {
	ssid, password string
}

func (f *fakeCredentials) SaveCredentials(ssid, password string) error {
	f.ssid, f.password = ssid, password
	return nil
}

type fixture struct {
	relays  *relay.Map
	store   *schedule.Store
	history *fakeHistory
	creds   *fakeCredentials
	handler http.Handler
}

func newFixture(t *testing.T, fs afero.Fs) *fixture {
	t.Helper()
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	f := &fixture{
		relays: relay.NewMap(
			relay.New(relay.NamedID(relay.IndicatorTag), &relay.MemoryPin{}),
			relay.New(relay.PinID(21), &relay.MemoryPin{}),
		),
		history: &fakeHistory{},
		creds:   &fakeCredentials{},
	}
	f.store = schedule.NewStore(document.NewFile(fs, "/schedules.json"), f.relays)
	srv := NewServer(f.relays, f.store, Options{
		Version:     "test",
		History:     f.history,
		Credentials: f.creds,
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("# metrics")) }),
	})
	f.handler = srv.Handler(nil)
	return f
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestActivateDeactivateStatus(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/activate_pin/21", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Successfully activated pin 21", rec.Body.String())

	rec = f.do(http.MethodGet, "/status/21", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "On", rec.Body.String())

	rec = f.do(http.MethodGet, "/activate_pin/LED", nil)
	assert.Equal(t, "Successfully activated pin LED", rec.Body.String())

	rec = f.do(http.MethodGet, "/deactivate_pin/21", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Successfully deactivated pin 21", rec.Body.String())

	rec = f.do(http.MethodGet, "/status/21", nil)
	assert.Equal(t, "Off", rec.Body.String())
}

func TestUnknownAndMalformedRelay(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/activate_pin/99", "/deactivate_pin/99", "/status/99"} {
		rec := f.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "Error: 99 does not exist", rec.Body.String(), path)
	}

	rec := f.do(http.MethodGet, "/activate_pin/-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodGet, "/status/bad%20id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/schedule_pin/21", map[string]interface{}{
		"action":        "add_schedule",
		"turn_on_time":  "06:00",
		"turn_off_time": "18:00",
		"days":          []string{"Mon", "wednesday", "Fri"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get(PersistenceWarningHeader))

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "21", resp.RelayID)
	assert.Equal(t, []string{"Mon", "Wed", "Fri"}, resp.Schedule.Days)

	rec = f.do(http.MethodGet, "/get_schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"21":{"turn_on_time":"06:00","turn_off_time":"18:00","days":["Mon","Wed","Fri"],"last_triggered_date":""}}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/schedule_pin/21", map[string]string{"action": "delete_schedule"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/schedule_pin/21", map[string]string{"action": "delete_schedule"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/get_schedules", nil)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestScheduleRejections(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		path string
		body interface{}
		want int
	}{
		{"bad json", "/schedule_pin/21", "{", http.StatusBadRequest},
		{"unknown action", "/schedule_pin/21", map[string]string{"action": "pause"}, http.StatusBadRequest},
		{"missing action", "/schedule_pin/21", map[string]string{}, http.StatusBadRequest},
		{"missing days", "/schedule_pin/21", map[string]string{"action": "add_schedule", "turn_on_time": "06:00", "turn_off_time": "18:00"}, http.StatusBadRequest},
		{"missing on time", "/schedule_pin/21", map[string]interface{}{"action": "add_schedule", "turn_off_time": "18:00", "days": []string{"Mon"}}, http.StatusBadRequest},
		{"bad time", "/schedule_pin/21", map[string]interface{}{"action": "add_schedule", "turn_on_time": "25:00", "turn_off_time": "18:00", "days": []string{"Mon"}}, http.StatusBadRequest},
		{"unknown relay", "/schedule_pin/7", map[string]interface{}{"action": "add_schedule", "turn_on_time": "06:00", "turn_off_time": "18:00", "days": []string{"Mon"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestScheduleWriteFailureWarns(t *testing.T) {
	f := newFixture(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))

	rec := f.do(http.MethodPost, "/schedule_pin/LED", map[string]interface{}{
		"action":        "add_schedule",
		"turn_on_time":  "22:00",
		"turn_off_time": "06:00",
		"days":          []string{"Sat"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(PersistenceWarningHeader))
	assert.Equal(t, 1, f.store.Len())
}

func TestUnmatchedRouteAndMethod(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"resource not found"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/schedule_pin/21", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSupplementaryRoutes(t *testing.T) {
	f := newFixture(t, nil)
	f.do(http.MethodGet, "/activate_pin/LED", nil)

	rec := f.do(http.MethodGet, "/health", nil)
	assert.JSONEq(t, `{"status":"ok","version":"test","relays":2,"schedules":0}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/relays", nil)
	assert.JSONEq(t, `{"LED":"On","21":"Off"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, "# metrics", rec.Body.String())

	rec = f.do(http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryRoute(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/history/21?limit=5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "21", f.history.gotID)
	assert.Equal(t, maxHistoryLimit, f.history.gotLimit)

	var events []storage.RelayEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "On", events[0].NewState)

	rec = f.do(http.MethodGet, "/history/21?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.history.err = errors.New("disk I/O error")
	rec = f.do(http.MethodGet, "/history/21", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, defaultHistoryLimit, f.history.gotLimit)
}

func TestWifiRoute(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/wifi", map[string]string{"ssid": "garden", "password": "hunter2"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "garden", f.creds.ssid)
	assert.Equal(t, "hunter2", f.creds.password)

	rec = f.do(http.MethodPost, "/wifi", map[string]string{"password": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation: ssid: required","field":"ssid"}`, rec.Body.String())
}

func TestPanicRecovered(t *testing.T) {
	f := newFixture(t, nil)
	srv := NewServer(f.relays, f.store, Options{})
	srv.Router().HandleFunc("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	srv.Handler(&bytes.Buffer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
