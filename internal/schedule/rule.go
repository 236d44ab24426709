// Package schedule holds the weekly on/off rules of every relay and their
// durable JSON persistence.
package schedule

import (
	"time"

	"github.com/agsys/relay-controller/internal/fault"
)

// Event is one of the two transitions a rule schedules
type Event string

const (
	EventOn  Event = "on"
	EventOff Event = "off"
)

// Rule is the weekly schedule of one relay. Times stay as strings so that a
// corrupt stored value survives a reload and is reported at evaluation.
type Rule struct {
	TurnOnTime  string   `json:"turn_on_time"`
	TurnOffTime string   `json:"turn_off_time"`
	Days        []string `json:"days"`

	// LastTriggeredDate is the trigger gate: the most recent date on which
	// either event fired, or empty once the day's cycle completed.
	LastTriggeredDate string `json:"last_triggered_date"`
	// LastTriggeredEvent is the event recorded with LastTriggeredDate
	LastTriggeredEvent Event `json:"last_triggered_event,omitempty"`
}

// Clone returns a deep copy
func (r Rule) Clone() Rule {
	if r.Days != nil {
		r.Days = append([]string(nil), r.Days...)
	}
	return r
}

// Window parses the on and off times. key names the rule in the error.
func (r Rule) Window(key string) (on, off TimeOfDay, err error) {
	on, err = ParseTimeOfDay(r.TurnOnTime)
	if err != nil {
		return on, off, &fault.MalformedRuleError{RelayID: key, Field: "turn_on_time", Value: r.TurnOnTime, Err: err}
	}
	off, err = ParseTimeOfDay(r.TurnOffTime)
	if err != nil {
		return on, off, &fault.MalformedRuleError{RelayID: key, Field: "turn_off_time", Value: r.TurnOffTime, Err: err}
	}
	return on, off, nil
}

// ActiveOn reports whether d is one of the rule's days. Unknown day names
// never match.
func (r Rule) ActiveOn(d time.Weekday) bool {
	for _, s := range r.Days {
		if wd, err := ParseWeekday(s); err == nil && wd == d {
			return true
		}
	}
	return false
}

// Gated reports whether ev already fired on date
func (r Rule) Gated(date string, ev Event) bool {
	return r.LastTriggeredDate == date && r.LastTriggeredEvent == ev
}

// Normalize validates a rule submitted for storage and returns it with
// canonical times and days.
func Normalize(r Rule) (Rule, error) {
	if r.TurnOnTime == "" {
		return Rule{}, fault.Invalid("turn_on_time", "required")
	}
	on, err := ParseTimeOfDay(r.TurnOnTime)
	if err != nil {
		return Rule{}, fault.Invalid("turn_on_time", "%v", err)
	}
	if r.TurnOffTime == "" {
		return Rule{}, fault.Invalid("turn_off_time", "required")
	}
	off, err := ParseTimeOfDay(r.TurnOffTime)
	if err != nil {
		return Rule{}, fault.Invalid("turn_off_time", "%v", err)
	}
	if len(r.Days) == 0 {
		return Rule{}, fault.Invalid("days", "at least one day is required")
	}

	var seen [7]bool
	for _, s := range r.Days {
		d, err := ParseWeekday(s)
		if err != nil {
			return Rule{}, fault.Invalid("days", "%v", err)
		}
		seen[d] = true
	}
	days := make([]string, 0, len(r.Days))
	for _, d := range weekOrder {
		if seen[d] {
			days = append(days, Abbrev(d))
		}
	}

	if r.LastTriggeredDate != "" {
		if _, err := time.Parse(DateLayout, r.LastTriggeredDate); err != nil {
			return Rule{}, fault.Invalid("last_triggered_date", "%q is not YYYY-MM-DD", r.LastTriggeredDate)
		}
	}
	switch r.LastTriggeredEvent {
	case "", EventOn, EventOff:
	default:
		return Rule{}, fault.Invalid("last_triggered_event", "unknown event %q", r.LastTriggeredEvent)
	}

	return Rule{
		TurnOnTime:         on.String(),
		TurnOffTime:        off.String(),
		Days:               days,
		LastTriggeredDate:  r.LastTriggeredDate,
		LastTriggeredEvent: r.LastTriggeredEvent,
	}, nil
}
