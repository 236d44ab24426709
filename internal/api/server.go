// Package api serves the HTTP control surface of the relay controller.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/agsys/relay-controller/internal/relay"
	"github.com/agsys/relay-controller/internal/schedule"
	"github.com/agsys/relay-controller/internal/storage"
)

// PersistenceWarningHeader is set on write responses whose change is in
// effect but could not be saved.
const PersistenceWarningHeader = "X-Persistence-Warning"

// HistoryReader reads the relay journal
type HistoryReader interface {
	GetRelayEvents(relayID string, limit int) ([]*storage.RelayEvent, error)
}

// CredentialSaver stores station credentials for the next boot
type CredentialSaver interface {
	SaveCredentials(ssid, password string) error
}

// Options carries the optional collaborators of the server
type Options struct {
	Version     string
	History     HistoryReader   // nil disables /history
	Credentials CredentialSaver // nil disables /wifi
	Metrics     http.Handler    // nil disables /metrics
	Stream      http.Handler    // nil disables /ws
}

// Server routes HTTP requests to the relays and the schedule store
type Server struct {
	relays *relay.Map
	store  *schedule.Store
	opts   Options
	router *mux.Router
}

// NewServer builds the router
func NewServer(relays *relay.Map, store *schedule.Store, opts Options) *Server {
	s := &Server{
		relays: relays,
		store:  store,
		opts:   opts,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/activate_pin/{id}", s.activatePin).Methods(http.MethodGet)
	r.HandleFunc("/deactivate_pin/{id}", s.deactivatePin).Methods(http.MethodGet)
	r.HandleFunc("/status/{id}", s.status).Methods(http.MethodGet)
	r.HandleFunc("/schedule_pin/{id}", s.schedulePin).Methods(http.MethodPost)
	r.HandleFunc("/get_schedules", s.getSchedules).Methods(http.MethodGet)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/relays", s.listRelays).Methods(http.MethodGet)
	if s.opts.History != nil {
		r.HandleFunc("/history/{id}", s.history).Methods(http.MethodGet)
	}
	if s.opts.Credentials != nil {
		r.HandleFunc("/wifi", s.saveWifi).Methods(http.MethodPost)
	}
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	if s.opts.Stream != nil {
		r.Handle("/ws", s.opts.Stream).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "resource not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
}

// Router returns the bare router
func (s *Server) Router() *mux.Router { return s.router }

// Handler returns the router wrapped with access logging to accessLog and
// panic recovery.
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(log.StandardLogger()),
		handlers.PrintRecoveryStack(true),
	)(s.router)
	if accessLog == nil {
		return recovered
	}
	return handlers.CombinedLoggingHandler(accessLog, recovered)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}
