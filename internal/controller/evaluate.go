package controller

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/clambin/go-common/set"

	"github.com/covercontrol/covercontrol/internal/controller/astro"
	"github.com/covercontrol/covercontrol/internal/controller/schedule"
	"github.com/covercontrol/covercontrol/internal/platform"
)

// candidate is a prospective open or close action with the instant it became
// (or becomes) due.
type candidate struct {
	at       time.Time
	reason   string
	position float64
}

// evaluate runs one decision pass. The order is significant: manual override
// and the master switch veto everything, the global condition gates the rest,
// a sleeping resident forces closed, ventilation contacts outrank shading, and
// shading outranks the scheduled/sun/brightness candidates.
func (e *Engine) evaluate(ctx context.Context, trigger string) {
	now := e.now()
	e.metrics.countEvaluation(e.cover, trigger)
	e.expireOverride(now)
	e.ensureExpiryTimer(now)
	e.refreshNextEvents(now)
	e.fireEvent(platform.Event{Kind: "evaluate", Trigger: trigger})

	if e.manual.active {
		if e.manual.scopeAll ||
			(e.blocksAction(ActionOpen) && e.blocksAction(ActionClose) &&
				e.blocksAction(ActionVentilate) && e.blocksAction(ActionShading)) {
			e.publishState()
			return
		}
	}

	if !e.masterEnabled() {
		e.publishState()
		return
	}

	upDue := !e.nextOpen.IsZero() && !now.Before(e.nextOpen)
	downDue := !e.nextClose.IsZero() && !now.Before(e.nextClose)

	brightness := e.floatSensor(e.cfg.Brightness.Sensor)
	sunAzimuth, sunElevation := e.sunPosition(now)

	if !e.gateway.Allows(e.cfg.Conditions.Global) {
		e.publishState()
		return
	}

	openCondition := e.gateway.Allows(e.cfg.Conditions.Open)
	closeCondition := e.gateway.Allows(e.cfg.Conditions.Close)
	ventilationCondition := e.gateway.Allows(e.cfg.Conditions.VentilateStart)
	ventilationEndCondition := e.gateway.Allows(e.cfg.Conditions.VentilateEnd)
	shadingCondition := e.gateway.Allows(e.cfg.Conditions.ShadingStart)
	shadingTiltCondition := e.gateway.Allows(e.cfg.Conditions.ShadingTilt)
	shadingEndCondition := e.gateway.Allows(e.cfg.Conditions.ShadingEnd)

	if e.residentAsleep() {
		if closeCondition {
			e.setPosition(ctx, e.cfg.Positions.Close, ReasonResidentAsleep, trigger)
		} else {
			e.publishState()
		}
		return
	}

	autoVentilate := e.autoEnabled(e.cfg.Automation.Ventilate)
	fullContactActive := autoVentilate && e.contactsActive(e.cfg.Contacts.FullOpenSensors, now)
	tiltContactActive := autoVentilate && e.tiltContactActive(now)
	ventilationContactActive := fullContactActive || tiltContactActive
	tiltLockClose := tiltContactActive && e.cfg.Contacts.LockoutTiltClose
	tiltLockShadingStart := tiltContactActive && e.cfg.Contacts.LockoutShadingStart
	tiltLockShadingEnd := tiltContactActive && e.cfg.Contacts.LockoutShadingEnd

	timeWindowOpen := e.withinOpenWindow(now)

	// A fully opened window always wins: the cover must stay clear of it.
	if fullContactActive && ventilationCondition {
		if !e.blocksAction(ActionVentilate) {
			e.setPosition(ctx, e.cfg.Positions.Ventilate, ReasonVentilationFull, trigger)
		}
		return
	}

	current := e.currentPosition()

	if tiltContactActive && ventilationCondition {
		if !e.blocksAction(ActionVentilate) {
			target := e.cfg.Positions.Ventilate
			allowHigher := e.cfg.Contacts.AllowHigherPosition
			ready := allowHigher || current == nil ||
				*current <= e.cfg.Positions.Close+e.cfg.Positions.Tolerance
			if ready {
				if current == nil || *current < target || (allowHigher && *current > target) {
					e.setPosition(ctx, target, ReasonVentilation, trigger)
				} else {
					e.reason = ReasonVentilation
					e.publishState()
				}
			}
		}
		return
	}

	// All contacts are shut again but the cover still sits at the ventilation
	// position. Hold it there until the end condition allows closing or an
	// open event takes over.
	postVentilation := autoVentilate && !ventilationContactActive && ventilationReason(e.reason)

	var pendingOpenDue bool
	if openCondition && !e.blocksAction(ActionOpen) {
		pendingOpenDue = (e.autoEnabled(e.cfg.Automation.Up) && (upDue || timeWindowOpen)) ||
			(e.autoEnabled(e.cfg.Automation.Sun) && e.sunAllowsOpen(sunElevation)) ||
			(e.autoEnabled(e.cfg.Automation.Brightness) && brightness != nil && e.brightnessAllowsOpen(brightness))
	}

	if postVentilation && !ventilationEndCondition && !pendingOpenDue {
		e.publishState()
		return
	}

	if e.autoEnabled(e.cfg.Automation.Shading) && !e.blocksAction(ActionShading) {
		shadingActive := shadingReason(e.reason)
		shadingAllowed := e.shadingConditions(sunAzimuth, sunElevation, brightness) && shadingCondition
		if tiltContactActive {
			shadingAllowed = shadingAllowed && shadingTiltCondition
		}
		if tiltLockShadingStart && !shadingActive {
			shadingAllowed = false
		}
		if shadingActive && !shadingAllowed {
			if !shadingEndCondition {
				e.publishState()
				return
			}
			if autoVentilate && ventilationCondition &&
				(tiltLockShadingEnd || e.cfg.Contacts.UseAfterShading) &&
				!e.blocksAction(ActionVentilate) {
				e.setPosition(ctx, e.cfg.Positions.Ventilate, ReasonShadingEndVentilation, trigger)
				return
			}
			if e.autoEnabled(e.cfg.Automation.Down) &&
				e.sunAllowsClose(sunElevation) && e.brightnessAllowsClose(brightness) {
				if closeCondition && !e.blocksAction(ActionClose) && !tiltLockClose {
					e.setPosition(ctx, e.cfg.Positions.Close, ReasonShadingEndClose, trigger)
					return
				}
			}
			if e.autoEnabled(e.cfg.Automation.Up) &&
				e.sunAllowsOpen(sunElevation) && e.brightnessAllowsOpen(brightness) {
				if openCondition && !e.blocksAction(ActionOpen) {
					e.setPosition(ctx, e.cfg.Positions.Open, ReasonShadingEndOpen, trigger)
					return
				}
			}
		}
		if shadingAllowed {
			e.setPosition(ctx, e.cfg.Positions.Shading, ReasonShading, trigger)
			return
		}
	}

	var closeEvents, openEvents []candidate

	if postVentilation && ventilationEndCondition {
		closeEvents = append(closeEvents, candidate{
			at:       now.Add(time.Second),
			reason:   ReasonVentilationEndClose,
			position: e.cfg.Positions.Close,
		})
	}

	if closeCondition && !e.blocksAction(ActionClose) {
		if e.autoEnabled(e.cfg.Automation.Sun) && e.sunAllowsClose(sunElevation) {
			closeEvents = append(closeEvents, candidate{now, ReasonSunClose, e.cfg.Positions.Close})
		}
		if e.autoEnabled(e.cfg.Automation.Brightness) && brightness != nil && e.brightnessAllowsClose(brightness) {
			closeEvents = append(closeEvents, candidate{now, ReasonBrightnessClose, e.cfg.Positions.Close})
		}
		if e.autoEnabled(e.cfg.Automation.Down) && downDue {
			at := e.nextClose
			if at.IsZero() {
				at = now
			}
			closeEvents = append(closeEvents, candidate{at, ReasonScheduledClose, e.cfg.Positions.Close})
		}
	}

	if tiltLockClose {
		closeEvents = nil
	}

	if openCondition && !e.blocksAction(ActionOpen) {
		if e.autoEnabled(e.cfg.Automation.Sun) && e.sunAllowsOpen(sunElevation) {
			openEvents = append(openEvents, candidate{now, ReasonSunOpen, e.cfg.Positions.Open})
		}
		if e.autoEnabled(e.cfg.Automation.Brightness) && brightness != nil && e.brightnessAllowsOpen(brightness) {
			openEvents = append(openEvents, candidate{now, ReasonBrightnessOpen, e.cfg.Positions.Open})
		}
		if e.autoEnabled(e.cfg.Automation.Up) && (upDue || timeWindowOpen) {
			at := e.nextOpen
			if at.IsZero() {
				at = now
			}
			openEvents = append(openEvents, candidate{at, ReasonScheduledOpen, e.cfg.Positions.Open})
		}
	}

	nextClose := pickCandidate(closeEvents)
	nextOpen := pickCandidate(openEvents)

	var selected *candidate
	switch {
	case nextClose != nil && nextOpen != nil:
		// On a tie, closing wins.
		if !nextClose.at.After(nextOpen.at) {
			selected = nextClose
		} else {
			selected = nextOpen
		}
	case nextClose != nil:
		selected = nextClose
	default:
		selected = nextOpen
	}

	if selected != nil {
		if strings.Contains(selected.reason, "close") {
			if closeCondition && !e.blocksAction(ActionClose) {
				e.setPosition(ctx, selected.position, selected.reason, trigger)
				return
			}
		} else if openCondition && !e.blocksAction(ActionOpen) {
			e.setPosition(ctx, selected.position, selected.reason, trigger)
			return
		}
	}

	e.publishState()
}

func pickCandidate(candidates []candidate) *candidate {
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })
	return &candidates[0]
}

// sunPosition reads the sun's azimuth/elevation from the sun entity, falling
// back to local computation when the platform does not publish them.
func (e *Engine) sunPosition(now time.Time) (azimuth, elevation *float64) {
	if state, ok := e.platform.GetState(e.cfg.Sun.Entity); ok {
		if v, ok := state.FloatAttribute("azimuth"); ok {
			azimuth = &v
		}
		if v, ok := state.FloatAttribute("elevation"); ok {
			elevation = &v
		}
	}
	if (azimuth == nil || elevation == nil) && e.location.IsSet() {
		az, el := e.location.Position(now)
		if azimuth == nil {
			azimuth = &az
		}
		if elevation == nil {
			elevation = &el
		}
	}
	return azimuth, elevation
}

func (e *Engine) sunAllowsOpen(elevation *float64) bool {
	if !e.autoEnabled(e.cfg.Automation.Sun) {
		return true
	}
	return elevation != nil && *elevation >= e.cfg.Sun.ElevationOpen
}

func (e *Engine) sunAllowsClose(elevation *float64) bool {
	if !e.autoEnabled(e.cfg.Automation.Sun) {
		return true
	}
	return elevation != nil && *elevation <= e.cfg.Sun.ElevationClose
}

func (e *Engine) brightnessAllowsOpen(brightness *float64) bool {
	if !e.autoEnabled(e.cfg.Automation.Brightness) || brightness == nil {
		return true
	}
	return *brightness >= e.cfg.Brightness.OpenAbove
}

func (e *Engine) brightnessAllowsClose(brightness *float64) bool {
	if !e.autoEnabled(e.cfg.Automation.Brightness) || brightness == nil {
		return true
	}
	return *brightness <= e.cfg.Brightness.CloseBelow
}

// shadingConditions checks the geometric, brightness, weather and temperature
// gates for shading. The brightness band is hysteretic: shading starts above
// BrightnessStart but, once active, only releases below BrightnessEnd.
func (e *Engine) shadingConditions(azimuth, elevation, brightness *float64) bool {
	if azimuth == nil || elevation == nil || brightness == nil {
		return false
	}
	if !e.weatherAllowsShading() {
		return false
	}
	shading := e.cfg.Shading
	if *azimuth < shading.AzimuthStart || *azimuth > shading.AzimuthEnd {
		return false
	}
	if *elevation < shading.ElevationMin || *elevation > shading.ElevationMax {
		return false
	}
	if *brightness < shading.BrightnessStart {
		return false
	}
	if e.reason == ReasonShading && *brightness <= shading.BrightnessEnd {
		return false
	}
	return e.temperatureAllowsShading() || *brightness >= shading.BrightnessStart
}

func (e *Engine) temperatureAllowsShading() bool {
	indoor := e.floatSensor(e.cfg.Temperature.IndoorSensor)
	outdoor := e.floatSensor(e.cfg.Temperature.OutdoorSensor)
	threshold := e.cfg.Temperature.Threshold
	if indoor != nil && *indoor >= threshold {
		return true
	}
	if outdoor != nil && *outdoor >= threshold {
		return true
	}
	return e.cfg.Temperature.ForecastThreshold > 0
}

// weatherAllowsShading checks the current (or forecast) weather condition
// against the configured allow-list. An unconfigured filter always allows.
func (e *Engine) weatherAllowsShading() bool {
	entity := e.cfg.Shading.ForecastSensor
	allowed := e.cfg.Shading.WeatherConditions
	if entity == "" || len(allowed) == 0 {
		return true
	}
	state, ok := e.platform.GetState(entity)
	if !ok {
		return false
	}
	if !strings.HasPrefix(entity, "weather.") {
		return false
	}
	var value string
	if e.cfg.Shading.ForecastType == "" || e.cfg.Shading.ForecastType == "weather_attributes" {
		value = state.Value
	} else {
		forecast, ok := state.Attributes["forecast"].([]any)
		if ok && len(forecast) > 0 {
			if entry, ok := forecast[0].(map[string]any); ok {
				value, _ = entry["condition"].(string)
			}
		}
	}
	return set.New(allowed...).Contains(value)
}

func (e *Engine) isWorkday() bool {
	if e.cfg.WorkdaySensor == "" {
		return true
	}
	return platform.IsOn(e.platform, e.cfg.WorkdaySensor)
}

func (e *Engine) residentAsleep() bool {
	if e.cfg.ResidentSensor == "" {
		return false
	}
	return platform.IsOn(e.platform, e.cfg.ResidentSensor)
}

func (e *Engine) withinOpenWindow(now time.Time) bool {
	early, late := e.cfg.Schedule.Times(e.isWorkday(), true)
	return schedule.WithinWindow(e.localNow(now), early, late)
}

// singleContactActive reports whether a contact is on and has been so for at
// least the configured debounce delay.
func (e *Engine) singleContactActive(entityID string, now time.Time) bool {
	state, ok := e.platform.GetState(entityID)
	if !ok || state.Value != platform.StateOn {
		return false
	}
	lastChanged := state.LastChanged
	if lastChanged.IsZero() {
		lastChanged = now
	}
	required := max(e.cfg.Contacts.TriggerDelaySeconds, e.cfg.Contacts.StatusDelaySeconds)
	if required > 0 && now.Sub(lastChanged) < time.Duration(required)*time.Second {
		return false
	}
	return true
}

func (e *Engine) contactsActive(entityIDs []string, now time.Time) bool {
	for _, entityID := range entityIDs {
		if e.singleContactActive(entityID, now) {
			return true
		}
	}
	return false
}

// tiltContactActive also covers the holdover after a tilt contact closes: for
// DelayAfterClose seconds the window still counts as tilted, so the cover does
// not slam shut while the handle is being turned.
func (e *Engine) tiltContactActive(now time.Time) bool {
	sensors := e.cfg.Contacts.TiltSensors
	if len(sensors) == 0 {
		return false
	}
	if e.contactsActive(sensors, now) {
		return true
	}
	delayAfterClose := e.cfg.Contacts.DelayAfterClose
	if delayAfterClose <= 0 {
		return false
	}
	for _, sensor := range sensors {
		state, ok := e.platform.GetState(sensor)
		if !ok {
			continue
		}
		lastChanged := state.LastChanged
		if lastChanged.IsZero() {
			lastChanged = now
		}
		if now.Sub(lastChanged) < time.Duration(delayAfterClose)*time.Second {
			return true
		}
	}
	return false
}

// refreshNextEvents recomputes the next scheduled open and close instants: a
// sun-based candidate (elevation crossing, then the sun entity's own
// prediction, then plain sunrise/sunset) clamped into the configured
// early/late window, or the window bounds themselves when the sun automation
// is off.
func (e *Engine) refreshNextEvents(now time.Time) {
	local := e.localNow(now)
	sunEnabled := e.autoEnabled(e.cfg.Automation.Sun)

	var openBase, closeBase time.Time
	if sunEnabled {
		openBase = e.sunCandidate(e.cfg.Sun.ElevationOpen, astro.Rising, now)
		closeBase = e.sunCandidate(e.cfg.Sun.ElevationClose, astro.Setting, now)
	}

	workday := e.isWorkday()
	upEarly, upLate := e.cfg.Schedule.Times(workday, true)
	downEarly, downLate := e.cfg.Schedule.Times(workday, false)
	nextUpEarly, _ := upEarly.Next(local)
	nextUpLate, _ := upLate.Next(local)
	nextDownEarly, _ := downEarly.Next(local)
	nextDownLate, _ := downLate.Next(local)

	e.nextOpen = schedule.Clamp(openBase, nextUpEarly, nextUpLate)
	e.nextClose = schedule.Clamp(closeBase, nextDownEarly, nextDownLate)

	// Inside the open window "next open" is now, not tomorrow's window start.
	if e.withinOpenWindow(now) {
		if e.nextOpen.IsZero() || e.nextOpen.After(now) {
			e.nextOpen = now
		}
	}

	// When the clamped open and close instants coincide, advance the close to
	// the next distinct down point so the pair stays meaningful.
	if !e.nextOpen.IsZero() && e.nextOpen.Equal(e.nextClose) {
		var later []time.Time
		for _, point := range []time.Time{nextDownEarly, nextDownLate} {
			if !point.IsZero() && point.After(e.nextOpen) {
				later = append(later, point)
			}
		}
		if len(later) > 0 {
			sort.Slice(later, func(i, j int) bool { return later[i].Before(later[j]) })
			e.nextClose = later[0]
		}
	}
}

// sunCandidate finds the next instant the sun crosses the given elevation, in
// order of preference: local computation, the sun entity's next_rising /
// next_setting attributes, plain sunrise/sunset.
func (e *Engine) sunCandidate(elevation float64, direction astro.Direction, now time.Time) time.Time {
	if crossing, ok := e.location.NextElevationCrossing(elevation, direction, now); ok {
		return crossing
	}
	if state, ok := e.platform.GetState(e.cfg.Sun.Entity); ok {
		attr := "next_rising"
		if direction == astro.Setting {
			attr = "next_setting"
		}
		if t, ok := state.TimeAttribute(attr); ok {
			return t
		}
	}
	if direction == astro.Rising {
		if t, ok := e.location.Sunrise(now); ok {
			return t
		}
	} else if t, ok := e.location.Sunset(now); ok {
		return t
	}
	return time.Time{}
}
