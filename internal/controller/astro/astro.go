// Package astro computes sun geometry for a configured location: the current
// solar azimuth/elevation and the next instant the sun crosses a given
// elevation while rising or setting.
package astro

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

// Direction selects which limb of the sun's daily arc a crossing refers to.
type Direction int

const (
	Rising Direction = iota
	Setting
)

func (d Direction) String() string {
	if d == Rising {
		return "rising"
	}
	return "setting"
}

// crossingLookaheadDays bounds the scan for an elevation crossing. Beyond polar
// latitudes a requested elevation may not be reached for months; three days is
// enough for every practical schedule.
const crossingLookaheadDays = 3

// Location is an observer position with its local timezone.
type Location struct {
	Latitude  float64
	Longitude float64
	TZ        *time.Location
}

// IsSet reports whether the location is usable for sun calculations.
func (l Location) IsSet() bool {
	return l.TZ != nil && (l.Latitude != 0 || l.Longitude != 0)
}

// Position returns the solar azimuth (degrees, 0 = north, clockwise) and
// elevation (degrees above the horizon) at t.
func (l Location) Position(t time.Time) (azimuth, elevation float64) {
	pos := suncalc.GetPosition(t, l.Latitude, l.Longitude)
	// suncalc measures azimuth from south, westward positive.
	azimuth = math.Mod(pos.Azimuth*180/math.Pi+180+360, 360)
	elevation = pos.Altitude * 180 / math.Pi
	return azimuth, elevation
}

// NextElevationCrossing returns the first instant strictly after now at which
// the sun crosses elevation in the given direction, scanning up to three
// consecutive local calendar days at minute resolution. It returns false when
// the location is unset or no crossing occurs within the lookahead.
func (l Location) NextElevationCrossing(elevation float64, direction Direction, now time.Time) (time.Time, bool) {
	if !l.IsSet() {
		return time.Time{}, false
	}
	local := now.In(l.TZ)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.TZ)
	end := start.AddDate(0, 0, crossingLookaheadDays)

	_, prev := l.Position(start)
	for t := start.Add(time.Minute); !t.After(end); t = t.Add(time.Minute) {
		_, current := l.Position(t)
		crossed := false
		switch direction {
		case Rising:
			crossed = prev < elevation && current >= elevation
		case Setting:
			crossed = prev > elevation && current <= elevation
		}
		if crossed && t.After(now) {
			return t, true
		}
		prev = current
	}
	return time.Time{}, false
}

// Sunrise returns the next sunrise after now, if one can be determined.
func (l Location) Sunrise(now time.Time) (time.Time, bool) {
	return l.nextDayTime(suncalc.Sunrise, now)
}

// Sunset returns the next sunset after now, if one can be determined.
func (l Location) Sunset(now time.Time) (time.Time, bool) {
	return l.nextDayTime(suncalc.Sunset, now)
}

func (l Location) nextDayTime(name suncalc.DayTimeName, now time.Time) (time.Time, bool) {
	if !l.IsSet() {
		return time.Time{}, false
	}
	local := now.In(l.TZ)
	for offset := 0; offset < crossingLookaheadDays; offset++ {
		times := suncalc.GetTimes(local.AddDate(0, 0, offset), l.Latitude, l.Longitude)
		event, ok := times[name]
		if !ok || event.Value.IsZero() {
			continue
		}
		if event.Value.After(now) {
			return event.Value, true
		}
	}
	return time.Time{}, false
}
