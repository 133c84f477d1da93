// Package schedule resolves configured time-of-day points against the clock:
// the next occurrence of a point, whether "now" falls inside a (possibly
// midnight-crossing) window, and the clamping of sun-based instants into a
// configured early/late window.
package schedule

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeOfDay is a bare wall-clock time ("HH:MM" or "HH:MM:SS").
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
	valid  bool
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	var t TimeOfDay
	var err error
	switch n, _ := fmt.Sscanf(value, "%d:%d:%d", &t.Hour, &t.Minute, &t.Second); n {
	case 2, 3:
	default:
		err = fmt.Errorf("invalid time of day %q", value)
	}
	if err == nil && (t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59) {
		err = fmt.Errorf("time of day %q out of range", value)
	}
	if err != nil {
		return TimeOfDay{}, err
	}
	t.valid = true
	return t, nil
}

// MustTimeOfDay is ParseTimeOfDay for compile-time constants; it panics on error.
func MustTimeOfDay(value string) TimeOfDay {
	t, err := ParseTimeOfDay(value)
	if err != nil {
		panic(err)
	}
	return t
}

// IsSet reports whether the TimeOfDay holds a parsed value.
func (t TimeOfDay) IsSet() bool { return t.valid }

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// UnmarshalYAML decodes a TimeOfDay from a "HH:MM[:SS]" scalar.
func (t *TimeOfDay) UnmarshalYAML(node *yaml.Node) error {
	var value string
	if err := node.Decode(&value); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML encodes the TimeOfDay as a "HH:MM[:SS]" scalar.
func (t TimeOfDay) MarshalYAML() (any, error) {
	return t.String(), nil
}

// On returns the TimeOfDay on the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, t.Second, 0, ref.Location())
}

// Next returns the next future occurrence of the TimeOfDay after now,
// in now's location. The zero TimeOfDay has no next occurrence.
func (t TimeOfDay) Next(now time.Time) (time.Time, bool) {
	if !t.valid {
		return time.Time{}, false
	}
	candidate := t.On(now)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, true
}

// WithinWindow reports whether now falls inside [start, end). A window whose
// end does not lie after its start crosses midnight. Both today's and
// yesterday's window are considered, so a crossing window that started
// yesterday evening still matches this morning.
func WithinWindow(now time.Time, start, end TimeOfDay) bool {
	if !start.valid || !end.valid {
		return false
	}
	startAt := start.On(now)
	endAt := end.On(now)
	if !endAt.After(startAt) {
		endAt = endAt.AddDate(0, 0, 1)
	}
	for _, offset := range []int{0, -1} {
		windowStart := startAt.AddDate(0, 0, offset)
		windowEnd := endAt.AddDate(0, 0, offset)
		if !now.Before(windowStart) && now.Before(windowEnd) {
			return true
		}
	}
	return false
}

// Clamp forces a candidate instant into [earliest, latest]. When no candidate
// is available it falls back to the earliest configured instant, then the
// latest. A zero result means no instant could be determined.
func Clamp(candidate, earliest, latest time.Time) time.Time {
	base := candidate
	if !earliest.IsZero() && !base.IsZero() && base.Before(earliest) {
		base = earliest
	}
	if !latest.IsZero() && !base.IsZero() && base.After(latest) {
		base = latest
	}
	if !base.IsZero() {
		return base
	}
	if !earliest.IsZero() {
		return earliest
	}
	return latest
}
