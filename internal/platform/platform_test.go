package platform_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercontrol/covercontrol/internal/platform"
)

func TestEntityState_Position(t *testing.T) {
	tests := []struct {
		name  string
		state platform.EntityState
		want  float64
		ok    bool
	}{
		{
			name:  "current_position attribute",
			state: platform.EntityState{Value: "open", Attributes: map[string]any{"current_position": 75.0}},
			want:  75, ok: true,
		},
		{
			name:  "position attribute",
			state: platform.EntityState{Value: "open", Attributes: map[string]any{"position": 40}},
			want:  40, ok: true,
		},
		{name: "open state", state: platform.EntityState{Value: "open"}, want: 100, ok: true},
		{name: "opening state", state: platform.EntityState{Value: "opening"}, want: 100, ok: true},
		{name: "closed state", state: platform.EntityState{Value: "closed"}, want: 0, ok: true},
		{name: "numeric state", state: platform.EntityState{Value: "33"}, want: 33, ok: true},
		{name: "unknown state", state: platform.EntityState{Value: "unknown"}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			position, ok := tt.state.Position()
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, position)
			}
		})
	}
}

func TestEntityState_Attributes(t *testing.T) {
	state := platform.EntityState{
		Value: "sunny",
		Attributes: map[string]any{
			"elevation":   12.5,
			"temperature": "21.5",
			"count":       3,
			"next_rising": "2024-06-16T04:23:00Z",
			"bogus":       []any{},
		},
	}

	v, ok := state.FloatAttribute("elevation")
	require.True(t, ok)
	assert.Equal(t, 12.5, v)

	v, ok = state.FloatAttribute("temperature")
	require.True(t, ok)
	assert.Equal(t, 21.5, v)

	v, ok = state.FloatAttribute("count")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = state.FloatAttribute("bogus")
	assert.False(t, ok)
	_, ok = state.FloatAttribute("missing")
	assert.False(t, ok)

	ts, ok := state.TimeAttribute("next_rising")
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
	_, ok = state.TimeAttribute("elevation")
	assert.False(t, ok)
}

func TestEntityState_SupportsPosition(t *testing.T) {
	assert.True(t, platform.EntityState{Attributes: map[string]any{"supported_features": 15.0}}.SupportsPosition())
	assert.False(t, platform.EntityState{Attributes: map[string]any{"supported_features": 3.0}}.SupportsPosition())
	assert.False(t, platform.EntityState{}.SupportsPosition())
}

func TestEntityState_Unavailable(t *testing.T) {
	assert.True(t, platform.EntityState{Value: platform.StateUnavailable}.Unavailable())
	assert.True(t, platform.EntityState{Value: platform.StateUnknown}.Unavailable())
	assert.False(t, platform.EntityState{Value: "open"}.Unavailable())
}

type fakeStates map[string]platform.EntityState

func (f fakeStates) GetState(entityID string) (platform.EntityState, bool) {
	state, ok := f[entityID]
	return state, ok
}

func TestStateHelpers(t *testing.T) {
	states := fakeStates{
		"binary_sensor.workday": {Value: "on"},
		"sensor.brightness":     {Value: "450"},
	}

	assert.True(t, platform.IsOn(states, "binary_sensor.workday"))
	assert.False(t, platform.IsOn(states, "binary_sensor.missing"))

	v, ok := platform.FloatState(states, "sensor.brightness")
	require.True(t, ok)
	assert.Equal(t, 450.0, v)
	_, ok = platform.FloatState(states, "")
	assert.False(t, ok)
	_, ok = platform.FloatState(states, "binary_sensor.workday")
	assert.False(t, ok)
}
