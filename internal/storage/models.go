// Package storage provides the SQLite history journal of the relay controller.
package storage

import "time"

// RelayEvent represents a relay state change
type RelayEvent struct {
	ID        int64     `json:"id"`
	RelayID   string    `json:"relay_id"`
	PrevState string    `json:"prev_state"` // "On" or "Off"
	NewState  string    `json:"new_state"`
	Source    string    `json:"source"` // "schedule" or "manual"
	Timestamp time.Time `json:"timestamp"`
}

// ScheduleChange represents an add, delete or purge of a schedule rule
type ScheduleChange struct {
	ID        int64     `json:"id"`
	RelayID   string    `json:"relay_id"`
	Action    string    `json:"action"`              // "add_schedule", "delete_schedule", "purge"
	RuleJSON  string    `json:"rule_json,omitempty"` // Rule as stored, empty for removals
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes the journal
type Stats struct {
	RelayEvents     int64     `json:"relay_events"`
	ScheduleChanges int64     `json:"schedule_changes"`
	FirstEvent      time.Time `json:"first_event,omitempty"`
	LastEvent       time.Time `json:"last_event,omitempty"`
}
