package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/clambin/go-common/set"

	"github.com/covercontrol/covercontrol/internal/configuration"
	"github.com/covercontrol/covercontrol/internal/controller/astro"
	"github.com/covercontrol/covercontrol/internal/controller/condition"
	"github.com/covercontrol/covercontrol/internal/platform"
)

const (
	evaluationInterval = time.Minute
	commandGraceWindow = 90 * time.Second
	settleInterval     = time.Second
	settleTimeout      = 30 * time.Second
)

// Engine runs the decision loop for a single cover. All mutable state is owned
// by the goroutine running Run; external calls are funneled through the ops
// channel and executed there, so no locking is needed.
type Engine struct {
	cover    string
	cfg      configuration.CoverConfiguration
	platform platform.Platform
	gateway  *condition.Gateway
	location astro.Location
	metrics  *Metrics
	logger   *slog.Logger
	publish  func(Snapshot)

	interval       time.Duration
	settleInterval time.Duration
	settleTimeout  time.Duration
	now            func() time.Time

	ops    chan func(context.Context)
	runCtx context.Context

	target          *float64
	lastPosition    *float64
	lastCommandAt   time.Time
	lastCorrelation string
	reason          string
	manual          manualOverride
	nextOpen        time.Time
	nextClose       time.Time
	watched         set.Set[string]
}

func newEngine(
	cfg configuration.CoverConfiguration,
	p platform.Platform,
	location astro.Location,
	metrics *Metrics,
	publish func(Snapshot),
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		cover:          cfg.Cover,
		cfg:            cfg,
		platform:       p,
		gateway:        condition.NewGateway(p, logger.With(slog.String("component", "conditions"))),
		location:       location,
		metrics:        metrics,
		logger:         logger,
		publish:        publish,
		interval:       evaluationInterval,
		settleInterval: settleInterval,
		settleTimeout:  settleTimeout,
		now:            time.Now,
		ops:            make(chan func(context.Context), 16),
	}
	e.watched = e.watchedEntities()
	return e
}

// watchedEntities is the set of entity ids whose state changes trigger an
// evaluation for this cover.
func (e *Engine) watchedEntities() set.Set[string] {
	watched := set.New(e.cover)
	for _, entity := range []string{
		e.cfg.Brightness.Sensor,
		e.cfg.WorkdaySensor,
		e.cfg.ResidentSensor,
		e.cfg.Temperature.IndoorSensor,
		e.cfg.Temperature.OutdoorSensor,
		e.cfg.Shading.ForecastSensor,
		e.cfg.Sun.Entity,
		e.cfg.Automation.Master.Entity,
		e.cfg.Automation.Up.Entity,
		e.cfg.Automation.Down.Entity,
		e.cfg.Automation.Sun.Entity,
		e.cfg.Automation.Brightness.Entity,
		e.cfg.Automation.Ventilate.Entity,
		e.cfg.Automation.Shading.Entity,
	} {
		if entity != "" {
			watched.Add(entity)
		}
	}
	for _, entity := range e.cfg.Contacts.FullOpenSensors {
		watched.Add(entity)
	}
	for _, entity := range e.cfg.Contacts.TiltSensors {
		watched.Add(entity)
	}
	return watched
}

// Run processes state changes, external command events, the periodic tick and
// queued operations until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	e.logger.Debug("engine starting")
	defer e.logger.Debug("engine stopped")

	states := e.platform.SubscribeStates()
	defer e.platform.UnsubscribeStates(states)
	commands := e.platform.SubscribeCommands()
	defer e.platform.UnsubscribeCommands(commands)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	defer e.clearExpiry()

	e.target = e.currentPosition()
	e.lastPosition = e.target
	e.refreshNextEvents(e.now())
	e.publishState()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-states:
			e.onStateChange(ctx, change)
		case cmd := <-commands:
			e.onCommandEvent(ctx, cmd)
		case <-ticker.C:
			e.evaluate(ctx, "time")
		case op := <-e.ops:
			op(ctx)
		}
	}
}

// do runs f on the engine goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, f func(context.Context)) error {
	done := make(chan struct{})
	op := func(opCtx context.Context) {
		defer close(done)
		f(opCtx)
	}
	select {
	case e.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue submits f without waiting for it. Used by the expiry alarm, which
// runs on the scheduler's goroutine.
func (e *Engine) enqueue(f func(context.Context)) {
	select {
	case e.ops <- f:
	case <-e.runCtx.Done():
	}
}

func (e *Engine) onStateChange(ctx context.Context, change platform.StateChange) {
	if !e.watched.Contains(change.EntityID) {
		return
	}
	now := e.now()
	e.expireOverride(now)
	e.ensureExpiryTimer(now)
	if change.EntityID == e.cover {
		e.detectManualMovement(now)
	}
	e.evaluate(ctx, "state")
}

// onCommandEvent reacts to cover commands issued by third parties: anything
// not carrying our own correlation id pins the target and raises a full
// manual override.
func (e *Engine) onCommandEvent(ctx context.Context, cmd platform.Command) {
	if cmd.EntityID != e.cover {
		return
	}
	if cmd.Correlation != "" && cmd.Correlation == e.lastCorrelation {
		return
	}
	switch cmd.Service {
	case platform.ServiceSetPosition:
		position := cmd.Position
		e.target = &position
	case platform.ServiceOpenCover:
		position := 100.0
		e.target = &position
	case platform.ServiceCloseCover:
		position := 0.0
		e.target = &position
	default:
		return
	}
	e.logger.Info("external command detected, raising manual override",
		slog.String("service", cmd.Service))
	e.activateOverride(nil, true, ReasonManualOverride)
	e.evaluate(ctx, "manual_service")
}

func (e *Engine) currentPosition() *float64 {
	state, ok := e.platform.GetState(e.cover)
	if !ok {
		return nil
	}
	position, ok := state.Position()
	if !ok {
		return nil
	}
	return &position
}

func (e *Engine) floatSensor(entityID string) *float64 {
	value, ok := platform.FloatState(e.platform, entityID)
	if !ok {
		return nil
	}
	return &value
}

// localNow converts now to the configured timezone so that time-of-day points
// resolve on the right calendar day.
func (e *Engine) localNow(now time.Time) time.Time {
	if e.location.TZ != nil {
		return now.In(e.location.TZ)
	}
	return now
}

func (e *Engine) fireEvent(ev platform.Event) {
	ev.Cover = e.cover
	ev.Time = e.now()
	if ev.Reason == "" {
		ev.Reason = e.reason
	}
	e.platform.Emit(ev)
}

func (e *Engine) snapshot() Snapshot {
	current := e.currentPosition()
	reason := e.reason
	if reason == "" {
		reason = ReasonIdle
	}
	s := Snapshot{
		Cover:             e.cover,
		TargetPosition:    e.target,
		Reason:            reason,
		ManualActive:      e.manual.active,
		CurrentPosition:   current,
		ShadingEnabled:    e.autoEnabled(e.cfg.Automation.Shading),
		ShadingActive:     e.shadingIsActive(current),
		VentilationActive: e.ventilationIsActive(current),
	}
	if !e.manual.until.IsZero() {
		until := e.manual.until
		s.ManualUntil = &until
	}
	if !e.nextOpen.IsZero() {
		next := e.nextOpen
		s.NextOpen = &next
	}
	if !e.nextClose.IsZero() {
		next := e.nextClose
		s.NextClose = &next
	}
	return s
}

func (e *Engine) publishState() {
	if e.publish != nil {
		e.publish(e.snapshot())
	}
}

func (e *Engine) positionMatches(target, current *float64) bool {
	if target == nil || current == nil {
		return false
	}
	return abs(*current-*target) <= e.cfg.Positions.Tolerance
}

func (e *Engine) shadingIsActive(current *float64) bool {
	if !e.autoEnabled(e.cfg.Automation.Shading) || !shadingReason(e.reason) {
		return false
	}
	target := e.cfg.Positions.Shading
	return e.positionMatches(&target, current)
}

func (e *Engine) ventilationIsActive(current *float64) bool {
	if !ventilationReason(e.reason) {
		return false
	}
	target := e.cfg.Positions.Ventilate
	return e.positionMatches(&target, current)
}

// flagEnabled resolves an automation toggle: a configured switch entity takes
// precedence over the static value when the entity is known to the platform.
func (e *Engine) flagEnabled(f configuration.Flag) bool {
	if f.Entity != "" {
		if _, ok := e.platform.GetState(f.Entity); ok {
			return platform.IsOn(e.platform, f.Entity)
		}
	}
	return f.Enabled
}

func (e *Engine) masterEnabled() bool {
	return e.flagEnabled(e.cfg.Automation.Master)
}

func (e *Engine) autoEnabled(f configuration.Flag) bool {
	return e.masterEnabled() && e.flagEnabled(f)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
