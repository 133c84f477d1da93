// Package controller implements the rule-based automation for motorized
// covers: one Engine per cover decides when to open, close, ventilate or
// shade, and a Manager runs the engines and exposes their control surface.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/covercontrol/covercontrol/internal/configuration"
	"github.com/covercontrol/covercontrol/internal/controller/astro"
	"github.com/covercontrol/covercontrol/internal/platform"
)

var (
	// ErrNotManaged is returned for operations on a cover without an engine.
	ErrNotManaged = errors.New("cover is not managed")
	// ErrUnknownAction is returned for an unrecognized force action.
	ErrUnknownAction = errors.New("unknown action")
)

// Manager owns one Engine per configured cover and holds their published
// snapshots.
type Manager struct {
	engines map[string]*Engine
	logger  *slog.Logger

	lock      sync.RWMutex
	snapshots map[string]Snapshot
}

// New creates a Manager with an Engine for each configured cover.
func New(
	cfg configuration.Configuration,
	p platform.Platform,
	location astro.Location,
	metrics *Metrics,
	logger *slog.Logger,
) *Manager {
	m := &Manager{
		engines:   make(map[string]*Engine, len(cfg.Covers)),
		logger:    logger,
		snapshots: make(map[string]Snapshot, len(cfg.Covers)),
	}
	for _, cover := range cfg.Covers {
		m.engines[cover.Cover] = newEngine(
			cover,
			p,
			location,
			metrics,
			m.store,
			logger.With(slog.String("cover", cover.Cover)),
		)
	}
	return m
}

// Run runs all engines until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Debug("controller starting", slog.Int("covers", len(m.engines)))
	defer m.logger.Debug("controller stopped")
	var group errgroup.Group
	for _, engine := range m.engines {
		group.Go(func() error { return engine.Run(ctx) })
	}
	return group.Wait()
}

func (m *Manager) engine(cover string) (*Engine, error) {
	engine, ok := m.engines[cover]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotManaged, cover)
	}
	return engine, nil
}

func (m *Manager) store(s Snapshot) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.snapshots[s.Cover] = s
}

// Snapshot returns the last published state of a cover.
func (m *Manager) Snapshot(cover string) (Snapshot, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	s, ok := m.snapshots[cover]
	return s, ok
}

// Snapshots returns the last published state of all covers, sorted by cover id.
func (m *Manager) Snapshots() []Snapshot {
	m.lock.RLock()
	defer m.lock.RUnlock()
	snapshots := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		snapshots = append(snapshots, s)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Cover < snapshots[j].Cover })
	return snapshots
}

// Covers returns the managed cover ids, sorted.
func (m *Manager) Covers() []string {
	covers := make([]string, 0, len(m.engines))
	for cover := range m.engines {
		covers = append(covers, cover)
	}
	sort.Strings(covers)
	return covers
}

// SetManualOverride suspends the automation of a cover.
func (m *Manager) SetManualOverride(ctx context.Context, cover string, minutes int) error {
	engine, err := m.engine(cover)
	if err != nil {
		return err
	}
	return engine.SetManualOverride(ctx, minutes)
}

// ClearManualOverride lifts the manual override of a cover.
func (m *Manager) ClearManualOverride(ctx context.Context, cover string) error {
	engine, err := m.engine(cover)
	if err != nil {
		return err
	}
	return engine.ClearManualOverride(ctx)
}

// ActivateShading forces a cover to its shading position.
func (m *Manager) ActivateShading(ctx context.Context, cover string, minutes int) error {
	engine, err := m.engine(cover)
	if err != nil {
		return err
	}
	return engine.ActivateShading(ctx, minutes)
}

// Recalibrate re-zeroes a cover's position tracking.
func (m *Manager) Recalibrate(ctx context.Context, cover string, fullOpen *float64) error {
	engine, err := m.engine(cover)
	if err != nil {
		return err
	}
	return engine.Recalibrate(ctx, fullOpen)
}

// ForceAction executes one of the force actions on a cover: open, close,
// ventilate_start, ventilate_stop, shading_activate or shading_deactivate.
func (m *Manager) ForceAction(ctx context.Context, cover, action string) error {
	engine, err := m.engine(cover)
	if err != nil {
		return err
	}
	switch action {
	case ActionOpen, ActionClose:
		return engine.ForceMove(ctx, action)
	case "ventilate_start":
		return engine.ForceVentilation(ctx, "start")
	case "ventilate_stop":
		return engine.ForceVentilation(ctx, "stop")
	case "shading_activate":
		return engine.ForceShading(ctx, "activate")
	case "shading_deactivate":
		return engine.ForceShading(ctx, "deactivate")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// UpdateConfig pushes a new configuration to the engines of all covers it
// mentions. Covers added or removed by the new configuration require a
// restart.
func (m *Manager) UpdateConfig(ctx context.Context, cfg configuration.Configuration) error {
	var errs error
	for _, cover := range cfg.Covers {
		engine, ok := m.engines[cover.Cover]
		if !ok {
			m.logger.Warn("ignoring configuration for unmanaged cover", slog.String("cover", cover.Cover))
			continue
		}
		errs = errors.Join(errs, engine.UpdateConfig(ctx, cover))
	}
	return errs
}
