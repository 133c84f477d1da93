package controller

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercontrol/covercontrol/internal/configuration"
	"github.com/covercontrol/covercontrol/internal/controller/astro"
	"github.com/covercontrol/covercontrol/internal/platform"
)

// snapshotRecorder captures the engine's published snapshots.
type snapshotRecorder struct {
	lock sync.Mutex
	last Snapshot
}

func (r *snapshotRecorder) store(s Snapshot) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.last = s
}

func (r *snapshotRecorder) snapshot() Snapshot {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.last
}

func TestEngine_ExternalCommandRaisesOverride(t *testing.T) {
	p := newFakePlatform()
	p.setCover(0, 15)
	clock := &testClock{now: midday()}
	e := testEngine(testConfig(), p, clock)
	ctx := context.Background()

	// our own command echoing back is not an override
	e.lastCorrelation = "ours"
	e.onCommandEvent(ctx, platform.Command{
		Service: platform.ServiceOpenCover, EntityID: testCover, Correlation: "ours",
	})
	assert.False(t, e.manual.active)

	// neither is a command for another cover
	e.onCommandEvent(ctx, platform.Command{
		Service: platform.ServiceOpenCover, EntityID: "cover.other", Correlation: "theirs",
	})
	assert.False(t, e.manual.active)

	// a third party moving our cover is
	e.onCommandEvent(ctx, platform.Command{
		Service: platform.ServiceSetPosition, EntityID: testCover, Position: 60, Correlation: "theirs",
	})
	assert.True(t, e.manual.active)
	assert.Equal(t, ReasonManualOverride, e.reason)
	require.NotNil(t, e.target)
	assert.Equal(t, 60.0, *e.target)
}

func TestEngine_Operations(t *testing.T) {
	p := newFakePlatform()
	p.setCover(50, 15)
	clock := &testClock{now: midday()}
	e := testEngine(testConfig(), p, clock)
	recorder := &snapshotRecorder{}
	e.publish = recorder.store

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- e.Run(ctx) }()

	require.NoError(t, e.SetManualOverride(ctx, 15))
	s := recorder.snapshot()
	assert.True(t, s.ManualActive)
	require.NotNil(t, s.ManualUntil)
	assert.Equal(t, midday().Add(15*time.Minute), *s.ManualUntil)

	require.NoError(t, e.ClearManualOverride(ctx))
	assert.False(t, recorder.snapshot().ManualActive)

	require.NoError(t, e.ForceVentilation(ctx, "start"))
	s = recorder.snapshot()
	assert.Equal(t, ReasonVentilation, s.Reason)
	assert.True(t, s.VentilationActive)
	assert.ErrorIs(t, e.ForceVentilation(ctx, "sideways"), ErrUnknownAction)

	require.NoError(t, e.ForceShading(ctx, "activate"))
	assert.Equal(t, ReasonManualShading, recorder.snapshot().Reason)

	require.NoError(t, e.ForceShading(ctx, "deactivate"))
	s = recorder.snapshot()
	assert.Equal(t, ReasonIdle, s.Reason)
	assert.True(t, s.ManualActive)

	require.NoError(t, e.ForceMove(ctx, ActionClose))
	s = recorder.snapshot()
	assert.Equal(t, ReasonForceClose, s.Reason)
	require.NotNil(t, s.TargetPosition)
	assert.Equal(t, 0.0, *s.TargetPosition)
	assert.ErrorIs(t, e.ForceMove(ctx, "sideways"), ErrUnknownAction)

	cancel()
	assert.NoError(t, <-errCh)

	// the force actions moved the cover through vent, shading, open and close
	var positions []float64
	for _, cmd := range p.calls() {
		positions = append(positions, cmd.Position)
	}
	assert.Equal(t, []float64{50, 25, 100, 0}, positions)
}

func TestEngine_Recalibrate(t *testing.T) {
	p := newFakePlatform()
	p.setCover(40, 15)
	clock := &testClock{now: midday()}
	e := testEngine(testConfig(), p, clock)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- e.Run(ctx) }()

	require.NoError(t, e.Recalibrate(ctx, nil))

	cancel()
	assert.NoError(t, <-errCh)

	calls := p.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, platform.ServiceOpenCover, calls[0].Service)
	assert.Equal(t, platform.ServiceSetPosition, calls[1].Service)
	assert.Equal(t, 40.0, calls[1].Position)
	// the prior (inactive) override state is restored
	assert.False(t, e.manual.active)
	assert.Empty(t, e.reason)
}

func TestEngine_UpdateConfig(t *testing.T) {
	p := newFakePlatform()
	p.setCover(50, 15)
	clock := &testClock{now: midday()}
	e := testEngine(testConfig(), p, clock)
	recorder := &snapshotRecorder{}
	e.publish = recorder.store

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- e.Run(ctx) }()

	require.NoError(t, e.SetManualOverride(ctx, 30))
	assert.True(t, recorder.snapshot().ManualActive)

	// a configuration update starts from a clean slate
	cfg := testConfig()
	cfg.Positions.Ventilate = 60
	require.NoError(t, e.UpdateConfig(ctx, cfg))
	assert.False(t, recorder.snapshot().ManualActive)

	cancel()
	assert.NoError(t, <-errCh)
	assert.Equal(t, 60.0, e.cfg.Positions.Ventilate)
}

func TestManager(t *testing.T) {
	coverCfg := func(cover string) configuration.CoverConfiguration {
		cfg := configuration.DefaultCoverConfiguration()
		cfg.Cover = cover
		return cfg
	}
	cfg := configuration.Configuration{Covers: []configuration.CoverConfiguration{
		coverCfg("cover.a"),
		coverCfg("cover.b"),
	}}
	p := newFakePlatform()
	p.setState("cover.a", platform.EntityState{Value: "open", Attributes: map[string]any{
		"current_position": 100.0, "supported_features": 15.0,
	}})
	p.setState("cover.b", platform.EntityState{Value: "closed", Attributes: map[string]any{
		"current_position": 0.0, "supported_features": 15.0,
	}})

	m := New(cfg, p, astro.Location{TZ: time.UTC}, NewMetrics(), slog.Default())
	assert.Equal(t, []string{"cover.a", "cover.b"}, m.Covers())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(m.Snapshots()) == 2 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, m.SetManualOverride(ctx, "cover.a", 30))
	s, ok := m.Snapshot("cover.a")
	require.True(t, ok)
	assert.True(t, s.ManualActive)

	require.NoError(t, m.ForceAction(ctx, "cover.b", ActionOpen))
	s, ok = m.Snapshot("cover.b")
	require.True(t, ok)
	assert.Equal(t, ReasonForceOpen, s.Reason)

	require.NoError(t, m.ClearManualOverride(ctx, "cover.a"))
	s, _ = m.Snapshot("cover.a")
	assert.False(t, s.ManualActive)

	assert.ErrorIs(t, m.SetManualOverride(ctx, "cover.c", 30), ErrNotManaged)
	assert.ErrorIs(t, m.ForceAction(ctx, "cover.a", "wiggle"), ErrUnknownAction)
	_, ok = m.Snapshot("cover.c")
	assert.False(t, ok)

	// configuration for an unmanaged cover is ignored, managed ones apply
	update := configuration.Configuration{Covers: []configuration.CoverConfiguration{
		coverCfg("cover.a"),
		coverCfg("cover.c"),
	}}
	require.NoError(t, m.UpdateConfig(ctx, update))

	cancel()
	assert.NoError(t, <-errCh)
}
