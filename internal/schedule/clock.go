package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of last_triggered_date
const DateLayout = "2006-01-02"

// MinutesPerDay is the length of the daily cycle
const MinutesPerDay = 24 * 60

// TimeOfDay is a local wall-clock time with minute resolution
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (a single-digit hour is accepted)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return TimeOfDay{}, fmt.Errorf("%q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("hour in %q out of range", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("minute in %q out of range", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Minutes returns minutes since midnight
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

var weekdayAbbrev = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// canonical order for persisted day lists
var weekOrder = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// Abbrev returns the three-letter weekday name used in rules
func Abbrev(d time.Weekday) string {
	return weekdayAbbrev[d]
}

// ParseWeekday accepts abbreviations or full names in any case
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for d, abbr := range weekdayAbbrev {
			full := strings.ToLower(time.Weekday(d).String())
			if s == strings.ToLower(abbr) || s == full {
				return time.Weekday(d), nil
			}
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// Moment is a wall-clock reading decomposed for rule evaluation
type Moment struct {
	Date    string // YYYY-MM-DD
	Time    TimeOfDay
	Weekday time.Weekday
	// Yesterday is the weekday before Weekday, used for cycles that cross midnight
	Yesterday time.Weekday
}

// MomentOf decomposes t in its own location
func MomentOf(t time.Time) Moment {
	wd := t.Weekday()
	return Moment{
		Date:      t.Format(DateLayout),
		Time:      TimeOfDay{Hour: t.Hour(), Minute: t.Minute()},
		Weekday:   wd,
		Yesterday: (wd + 6) % 7,
	}
}
