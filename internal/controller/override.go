package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/covercontrol/covercontrol/internal/configuration"
	"github.com/covercontrol/covercontrol/pkg/scheduler"
)

// manualOverride tracks a user-initiated suspension of the automation. A full
// override (scopeAll) blocks every action; a detected partial override only
// blocks the actions flagged in the configuration. A zero until means the
// override never expires on its own.
type manualOverride struct {
	active   bool
	scopeAll bool
	until    time.Time
	alarm    *scheduler.Job
}

// activateOverride raises (or extends) the manual override. minutes overrides
// the configured reset policy when non-nil.
func (e *Engine) activateOverride(minutes *int, scopeAll bool, reason string) {
	now := e.now()
	e.manual.active = true
	e.manual.scopeAll = e.manual.scopeAll || scopeAll
	e.manual.until = e.manualResetAt(now, minutes)
	if reason != "" {
		e.reason = reason
	} else if e.manual.scopeAll {
		e.reason = ReasonManualOverride
	}
	e.scheduleExpiry()
	e.refreshNextEvents(now)
	e.publishState()
}

// manualResetAt computes when the override should lift. A zero time means it
// stays until cleared explicitly.
func (e *Engine) manualResetAt(now time.Time, minutes *int) time.Time {
	if minutes != nil {
		return now.Add(time.Duration(*minutes) * time.Minute)
	}
	switch e.cfg.ManualOverride.ResetMode {
	case configuration.ResetNone:
		return time.Time{}
	case configuration.ResetTime:
		next, ok := e.cfg.ManualOverride.ResetTime.Next(e.localNow(now))
		if !ok {
			return time.Time{}
		}
		return next
	default:
		duration := e.cfg.ManualOverride.Minutes
		if duration <= 0 {
			duration = configuration.DefaultManualOverrideMinutes
		}
		return now.Add(time.Duration(duration) * time.Minute)
	}
}

func (e *Engine) blocksAction(action string) bool {
	if !e.manual.active {
		return false
	}
	if e.manual.scopeAll {
		return true
	}
	switch action {
	case ActionOpen:
		return e.cfg.ManualOverride.BlockOpen
	case ActionClose:
		return e.cfg.ManualOverride.BlockClose
	case ActionVentilate:
		return e.cfg.ManualOverride.BlockVentilate
	case ActionShading:
		return e.cfg.ManualOverride.BlockShading
	default:
		return false
	}
}

// expireOverride lifts an override whose deadline has passed. Called lazily on
// every trigger so the engine never acts on a stale override even if the alarm
// was lost.
func (e *Engine) expireOverride(now time.Time) {
	if e.manual.until.IsZero() || now.Before(e.manual.until) {
		return
	}
	e.manual.until = time.Time{}
	e.manual.active = false
	e.manual.scopeAll = false
	e.clearExpiry()
	if manualReason(e.reason) {
		e.reason = ""
	}
}

// ensureExpiryTimer re-arms the expiry alarm if an override is active but no
// alarm is pending.
func (e *Engine) ensureExpiryTimer(now time.Time) {
	if !e.manual.active || e.manual.until.IsZero() || e.manual.alarm != nil {
		return
	}
	if !e.manual.until.After(now) {
		e.onManualExpired(e.runCtx)
		return
	}
	e.armExpiry(e.manual.until.Sub(now))
}

func (e *Engine) clearExpiry() {
	if e.manual.alarm != nil {
		e.manual.alarm.Cancel()
		e.manual.alarm = nil
	}
}

func (e *Engine) scheduleExpiry() {
	e.clearExpiry()
	if e.manual.until.IsZero() {
		return
	}
	now := e.now()
	if !e.manual.until.After(now) {
		e.onManualExpired(e.runCtx)
		return
	}
	e.armExpiry(e.manual.until.Sub(now))
}

func (e *Engine) armExpiry(wait time.Duration) {
	if e.runCtx == nil {
		return
	}
	e.manual.alarm = scheduler.Schedule(e.runCtx, scheduler.RunFunc(func(_ context.Context) error {
		e.enqueue(func(ctx context.Context) {
			e.manual.alarm = nil
			e.onManualExpired(ctx)
		})
		return nil
	}), wait)
}

// onManualExpired lifts the override and re-evaluates. Safe to call more than
// once: a second call finds the override already inactive.
func (e *Engine) onManualExpired(ctx context.Context) {
	if !e.manual.active && e.manual.until.IsZero() {
		return
	}
	e.logger.Info("manual override expired")
	e.manual.until = time.Time{}
	e.manual.active = false
	e.manual.scopeAll = false
	e.clearExpiry()
	if manualReason(e.reason) {
		e.reason = ""
	}
	now := e.now()
	e.refreshNextEvents(now)
	e.publishState()
	if ctx != nil {
		e.evaluate(ctx, "manual_expired")
	}
}

// detectManualMovement classifies a cover position change as manual when it
// cannot be explained by a recent command still in flight. A command is "in
// flight" for 90 seconds; during that window any movement that closes in on
// the target (within tolerance) is ours.
func (e *Engine) detectManualMovement(now time.Time) {
	previous := e.lastPosition
	tolerance := e.cfg.Positions.Tolerance
	current := e.currentPosition()
	if e.target == nil && current != nil {
		e.target = current
	}

	commandRecent := !e.lastCommandAt.IsZero() && now.Sub(e.lastCommandAt) < commandGraceWindow
	var movingTowardTarget bool
	if commandRecent && previous != nil && current != nil && e.target != nil {
		prevDelta := abs(*previous - *e.target)
		currDelta := abs(*current - *e.target)
		movingTowardTarget = currDelta <= prevDelta+tolerance
	}

	if current != nil && !e.manual.active {
		deviationFromTarget := e.target != nil &&
			abs(*current-*e.target) > tolerance &&
			!movingTowardTarget
		unexplainedMove := e.target == nil &&
			previous != nil &&
			abs(*current-*previous) > tolerance
		if (deviationFromTarget || unexplainedMove) && (!commandRecent || !movingTowardTarget) {
			e.logger.Info("manual movement detected",
				slog.Float64("position", *current))
			e.target = current
			e.activateOverride(nil, true, ReasonManualOverride)
		}
	}

	if current != nil {
		e.lastPosition = current
	}
}
