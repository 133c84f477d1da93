package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/covercontrol/covercontrol/internal/platform"
)

// setPosition moves the cover to position unless it is already there (within
// tolerance). In the already-there case only an empty reason is updated, so an
// active reason like "shading" is not clobbered by a no-op.
func (e *Engine) setPosition(ctx context.Context, position float64, reason, trigger string) {
	current := e.currentPosition()
	if current != nil && abs(*current-position) <= e.cfg.Positions.Tolerance {
		if e.reason == "" {
			e.reason = reason
			e.publishState()
		}
		return
	}
	e.commandPosition(ctx, position, reason, trigger)
	e.target = &position
	e.reason = reason
	e.refreshNextEvents(e.now())
	e.publishState()
}

// coverStateOrWarn returns the cover's state, or emits a skip event and
// returns false when the cover is missing or unavailable.
func (e *Engine) coverStateOrWarn(service, reason, trigger string, target *float64) (platform.EntityState, bool) {
	state, ok := e.platform.GetState(e.cover)
	if !ok || state.Unavailable() {
		e.logger.Warn("skipping command: cover is missing or unavailable",
			slog.String("service", service))
		e.metrics.countSkipped(e.cover, "unavailable")
		e.fireEvent(platform.Event{
			Kind:           "command",
			Service:        service,
			Reason:         reason,
			Trigger:        trigger,
			TargetPosition: target,
			Skipped:        "unavailable",
		})
		return platform.EntityState{}, false
	}
	return state, true
}

// commandPosition issues the platform command to move the cover to position.
// Covers without absolute positioning get open/close commands for the extreme
// positions; mid-range targets are skipped since the cover cannot honor them.
func (e *Engine) commandPosition(ctx context.Context, position float64, reason, trigger string) {
	state, ok := e.coverStateOrWarn(platform.ServiceSetPosition, reason, trigger, &position)
	if !ok {
		return
	}

	cmd := platform.Command{
		Service:  platform.ServiceSetPosition,
		EntityID: e.cover,
		Position: position,
	}
	if !state.SupportsPosition() {
		switch {
		case position >= 99.5:
			cmd.Service = platform.ServiceOpenCover
		case position <= 0.5:
			cmd.Service = platform.ServiceCloseCover
		default:
			e.logger.Warn("skipping command: cover does not support partial positions",
				slog.Float64("position", position))
			e.metrics.countSkipped(e.cover, "unsupported")
			e.fireEvent(platform.Event{
				Kind:           "command",
				Service:        platform.ServiceSetPosition,
				Reason:         reason,
				Trigger:        trigger,
				TargetPosition: &position,
				Skipped:        "unsupported",
			})
			return
		}
	}

	cmd.Correlation = uuid.NewString()
	e.lastCorrelation = cmd.Correlation
	e.lastCommandAt = e.now()
	e.logger.Info("moving cover",
		slog.String("service", cmd.Service),
		slog.Float64("position", position),
		slog.String("reason", reason),
		slog.String("trigger", trigger),
	)
	e.metrics.countCommand(e.cover, cmd.Service)
	e.fireEvent(platform.Event{
		Kind:           "command",
		Service:        cmd.Service,
		Reason:         reason,
		Trigger:        trigger,
		TargetPosition: &position,
	})
	if err := e.platform.Call(ctx, cmd); err != nil {
		e.logger.Error("cover command failed", "err", err,
			slog.String("service", cmd.Service))
	}
}

// openCover issues a plain open command, used by recalibration to drive the
// cover to its reference point.
func (e *Engine) openCover(ctx context.Context, target *float64, reason string) {
	if _, ok := e.coverStateOrWarn(platform.ServiceOpenCover, reason, "", target); !ok {
		return
	}
	cmd := platform.Command{
		Service:     platform.ServiceOpenCover,
		EntityID:    e.cover,
		Correlation: uuid.NewString(),
	}
	e.lastCorrelation = cmd.Correlation
	e.lastCommandAt = e.now()
	e.logger.Info("opening cover", slog.String("reason", reason))
	e.metrics.countCommand(e.cover, cmd.Service)
	e.fireEvent(platform.Event{
		Kind:           "command",
		Service:        cmd.Service,
		Reason:         reason,
		TargetPosition: target,
	})
	if err := e.platform.Call(ctx, cmd); err != nil {
		e.logger.Error("cover command failed", "err", err,
			slog.String("service", cmd.Service))
	}
}

// waitForPosition polls until the cover reports a position within tolerance of
// target, the settle timeout expires, or ctx is canceled. Covers that report
// no position at all are not waited for.
func (e *Engine) waitForPosition(ctx context.Context, target, tolerance float64) {
	if e.currentPosition() == nil {
		return
	}
	deadline := e.now().Add(e.settleTimeout)
	for e.now().Before(deadline) {
		if current := e.currentPosition(); current != nil && abs(*current-target) <= tolerance {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.settleInterval):
		}
	}
}
