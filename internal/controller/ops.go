package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/covercontrol/covercontrol/internal/configuration"
)

// The operations below are the engine's external control surface. Each runs on
// the engine goroutine via do, so they can freely touch engine state.

// SetManualOverride suspends the automation for the given number of minutes
// (0 uses the configured duration).
func (e *Engine) SetManualOverride(ctx context.Context, minutes int) error {
	return e.do(ctx, func(context.Context) {
		duration := minutes
		if duration <= 0 {
			duration = e.cfg.ManualOverride.Minutes
		}
		e.activateOverride(&duration, true, ReasonManualOverride)
	})
}

// ClearManualOverride lifts the manual override immediately.
func (e *Engine) ClearManualOverride(ctx context.Context) error {
	return e.do(ctx, func(context.Context) {
		e.manual.until = time.Time{}
		e.manual.active = false
		e.manual.scopeAll = false
		e.clearExpiry()
		if manualReason(e.reason) {
			e.reason = ""
		}
		e.refreshNextEvents(e.now())
		e.publishState()
	})
}

// ActivateShading forces the cover to the shading position under a manual
// override for the given number of minutes (0 uses the configured duration).
func (e *Engine) ActivateShading(ctx context.Context, minutes int) error {
	return e.do(ctx, func(opCtx context.Context) {
		duration := minutes
		if duration <= 0 {
			duration = e.cfg.ManualOverride.Minutes
		}
		e.manual.until = e.now().Add(time.Duration(duration) * time.Minute)
		e.manual.active = true
		e.manual.scopeAll = true
		e.scheduleExpiry()
		e.setPosition(opCtx, e.cfg.Positions.Shading, ReasonManualShading, "service")
	})
}

// Recalibrate drives the cover fully open and back to its previous position so
// covers that track position by travel time can re-zero. The automation is
// suspended for the duration and the prior override state is restored
// afterwards.
func (e *Engine) Recalibrate(ctx context.Context, fullOpen *float64) error {
	return e.do(ctx, func(opCtx context.Context) {
		tolerance := e.cfg.Positions.Tolerance
		targetOpen := e.cfg.Positions.Open
		if fullOpen != nil {
			targetOpen = min(100, max(0, *fullOpen))
		}
		current := e.currentPosition()

		savedUntil, savedActive, savedScopeAll, savedReason := e.manual.until, e.manual.active, e.manual.scopeAll, e.reason
		minutes := e.cfg.ManualOverride.Minutes
		e.activateOverride(&minutes, true, ReasonManualOverride)

		defer func() {
			e.manual.until, e.manual.active, e.manual.scopeAll, e.reason = savedUntil, savedActive, savedScopeAll, savedReason
			if savedActive && !savedUntil.IsZero() {
				e.scheduleExpiry()
			} else {
				e.clearExpiry()
			}
			e.refreshNextEvents(e.now())
			e.publishState()
		}()

		e.openCover(opCtx, &targetOpen, ReasonRecalibrateOpen)
		e.waitForPosition(opCtx, targetOpen, tolerance)

		if current != nil {
			e.commandPosition(opCtx, *current, ReasonRecalibrateRestore, "service")
			e.waitForPosition(opCtx, *current, tolerance)
		}
	})
}

// ForceMove opens or closes the cover under a manual override.
func (e *Engine) ForceMove(ctx context.Context, action string) error {
	var target float64
	var reason string
	switch action {
	case ActionOpen:
		target, reason = e.cfg.Positions.Open, ReasonForceOpen
	case ActionClose:
		target, reason = e.cfg.Positions.Close, ReasonForceClose
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return e.do(ctx, func(opCtx context.Context) {
		e.activateOverride(nil, true, reason)
		e.commandPosition(opCtx, target, reason, "service")
		e.target = &target
		e.reason = reason
		e.refreshNextEvents(e.now())
		e.publishState()
	})
}

// ForceVentilation starts or stops ventilation under a manual override.
func (e *Engine) ForceVentilation(ctx context.Context, action string) error {
	if action != "start" && action != "stop" {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return e.do(ctx, func(opCtx context.Context) {
		e.activateOverride(nil, true, ReasonVentilation)
		if action == "start" {
			target := e.cfg.Positions.Ventilate
			e.commandPosition(opCtx, target, ReasonVentilationStart, "service")
			e.target = &target
			e.reason = ReasonVentilation
		} else {
			target := e.cfg.Positions.Open
			e.commandPosition(opCtx, target, ReasonVentilationStop, "service")
			e.target = &target
			if e.reason == ReasonVentilation {
				e.reason = ""
			}
		}
		e.refreshNextEvents(e.now())
		e.publishState()
	})
}

// ForceShading activates or deactivates shading under a manual override.
func (e *Engine) ForceShading(ctx context.Context, action string) error {
	if action != "activate" && action != "deactivate" {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return e.do(ctx, func(opCtx context.Context) {
		e.activateOverride(nil, true, ReasonManualShading)
		if action == "activate" {
			target := e.cfg.Positions.Shading
			e.commandPosition(opCtx, target, ReasonManualShading, "service")
			e.target = &target
			e.reason = ReasonManualShading
		} else {
			target := e.cfg.Positions.Open
			e.commandPosition(opCtx, target, ReasonManualShadingEnd, "service")
			e.target = &target
			if shadingReason(e.reason) {
				e.reason = ""
			}
		}
		e.refreshNextEvents(e.now())
		e.publishState()
	})
}

// UpdateConfig replaces the cover's configuration and restarts automation from
// a clean slate: any manual override is dropped and the target re-seeded from
// the live position.
func (e *Engine) UpdateConfig(ctx context.Context, cfg configuration.CoverConfiguration) error {
	return e.do(ctx, func(opCtx context.Context) {
		e.cfg = cfg
		e.manual.until = time.Time{}
		e.manual.active = false
		e.manual.scopeAll = false
		e.clearExpiry()
		e.target = e.currentPosition()
		e.lastPosition = e.target
		e.watched = e.watchedEntities()
		e.refreshNextEvents(e.now())
		e.evaluate(opCtx, "config")
		e.publishState()
	})
}
