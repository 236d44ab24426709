package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/agsys/relay-controller/internal/fault"
	"github.com/agsys/relay-controller/internal/relay"
	"github.com/agsys/relay-controller/internal/schedule"
	"github.com/agsys/relay-controller/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// statusOf maps an error class to an HTTP status
func statusOf(err error) int {
	switch {
	case fault.IsValidation(err):
		return http.StatusBadRequest
	case fault.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// lookupText resolves the {id} var for the plain-text actuation routes
func (s *Server) lookupText(w http.ResponseWriter, r *http.Request) (*relay.Relay, bool) {
	raw := mux.Vars(r)["id"]
	rl, err := s.relays.Lookup(raw)
	switch {
	case err == nil:
		return rl, true
	case fault.IsNotFound(err):
		writeText(w, http.StatusNotFound, fmt.Sprintf("Error: %s does not exist", raw))
	default:
		writeText(w, statusOf(err), "Error: "+err.Error())
	}
	log.WithField("relay", raw).WithError(err).Info("Relay lookup failed")
	return nil, false
}

func (s *Server) activatePin(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.lookupText(w, r)
	if !ok {
		return
	}
	if err := rl.TurnOn(relay.SourceManual); err != nil {
		log.WithError(err).Error("Failed to activate relay")
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Successfully activated pin %s", rl.ID()))
}

func (s *Server) deactivatePin(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.lookupText(w, r)
	if !ok {
		return
	}
	if err := rl.TurnOff(relay.SourceManual); err != nil {
		log.WithError(err).Error("Failed to deactivate relay")
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Successfully deactivated pin %s", rl.ID()))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	rl, ok := s.lookupText(w, r)
	if !ok {
		return
	}
	writeText(w, http.StatusOK, rl.Status().String())
}

// scheduleRequest is the body of POST /schedule_pin/{id}
type scheduleRequest struct {
	Action      string   `json:"action"`
	TurnOnTime  string   `json:"turn_on_time"`
	TurnOffTime string   `json:"turn_off_time"`
	Days        []string `json:"days"`
}

type scheduleResponse struct {
	RelayID  string         `json:"relay_id"`
	Action   string         `json:"action"`
	Schedule *schedule.Rule `json:"schedule,omitempty"`
}

func (s *Server) schedulePin(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}

	rl, err := s.relays.Lookup(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := rl.ID()

	switch req.Action {
	case schedule.ActionAdd:
		stored, err := s.store.Upsert(id, schedule.Rule{
			TurnOnTime:  req.TurnOnTime,
			TurnOffTime: req.TurnOffTime,
			Days:        req.Days,
		})
		if err != nil && !fault.IsPersistence(err) {
			s.writeError(w, err)
			return
		}
		warnPersistence(w, err)
		writeJSON(w, http.StatusOK, scheduleResponse{RelayID: id.String(), Action: req.Action, Schedule: &stored})

	case schedule.ActionDelete:
		err := s.store.Delete(id)
		if err != nil && !fault.IsPersistence(err) {
			s.writeError(w, err)
			return
		}
		warnPersistence(w, err)
		writeJSON(w, http.StatusOK, scheduleResponse{RelayID: id.String(), Action: req.Action})

	case "":
		s.writeError(w, fault.Invalid("action", "required"))
	default:
		s.writeError(w, fault.Invalid("action", "unknown action %q", req.Action))
	}
}

func warnPersistence(w http.ResponseWriter, err error) {
	if err != nil {
		w.Header().Set(PersistenceWarningHeader, err.Error())
	}
}

func (s *Server) getSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.All())
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Relays    int    `json:"relays"`
	Schedules int    `json:"schedules"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Version:   s.opts.Version,
		Relays:    len(s.relays.IDs()),
		Schedules: s.store.Len(),
	})
}

func (s *Server) listRelays(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.relays.Snapshot())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, err := relay.ParseID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, fault.Invalid("limit", "%q is not a positive integer", v))
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	events, err := s.opts.History.GetRelayEvents(id.String(), limit)
	if err != nil {
		log.WithError(err).Error("Failed to read history")
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []*storage.RelayEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type wifiRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

func (s *Server) saveWifi(w http.ResponseWriter, r *http.Request) {
	var req wifiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if req.SSID == "" {
		s.writeError(w, fault.Invalid("ssid", "required"))
		return
	}
	if err := s.opts.Credentials.SaveCredentials(req.SSID, req.Password); err != nil {
		log.WithError(err).Error("Failed to save network credentials")
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "ssid": req.SSID})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var verr *fault.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	writeJSON(w, statusOf(err), body)
}
