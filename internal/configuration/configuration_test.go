package configuration_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercontrol/covercontrol/internal/configuration"
	"github.com/covercontrol/covercontrol/internal/controller/schedule"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := configuration.Load(strings.NewReader(`
covers:
  - cover: cover.living_room
`))
	require.NoError(t, err)
	require.Len(t, cfg.Covers, 1)

	cover := cfg.Covers[0]
	assert.Equal(t, "cover.living_room", cover.Cover)
	assert.Equal(t, 100.0, cover.Positions.Open)
	assert.Equal(t, 0.0, cover.Positions.Close)
	assert.Equal(t, 50.0, cover.Positions.Ventilate)
	assert.Equal(t, 25.0, cover.Positions.Shading)
	assert.Equal(t, 2.0, cover.Positions.Tolerance)
	assert.Equal(t, schedule.MustTimeOfDay("07:00"), cover.Schedule.Workday.UpEarly)
	assert.Equal(t, schedule.MustTimeOfDay("23:00"), cover.Schedule.NonWorkday.DownLate)
	assert.Equal(t, "sun.sun", cover.Sun.Entity)
	assert.Equal(t, -3.0, cover.Sun.ElevationClose)
	assert.Equal(t, configuration.ResetTimeout, cover.ManualOverride.ResetMode)
	assert.Equal(t, 60, cover.ManualOverride.Minutes)
	assert.True(t, cover.Automation.Master.Enabled)
	assert.True(t, cover.Automation.Up.Enabled)
	assert.False(t, cover.Automation.Shading.Enabled)
}

func TestLoad_Full(t *testing.T) {
	cfg, err := configuration.Load(strings.NewReader(`
covers:
  - cover: cover.office
    positions:
      open: 95
      shading: 30
    schedule:
      workday:
        up_early: "06:30"
        up_late: "08:00"
    brightness:
      sensor: sensor.brightness
      open_above: 500
    shading:
      azimuth_start: 120
      azimuth_end: 250
      forecast_sensor: weather.home
      weather_conditions: [sunny, partlycloudy]
    contacts:
      tilt_sensors: [binary_sensor.office_window]
      lockout_tilt_close: true
    manual_override:
      reset_mode: time
      reset_time: "05:30"
    automation:
      shading: true
      ventilate:
        enabled: true
        entity: input_boolean.auto_ventilate
    conditions:
      open: binary_sensor.nobody_asleep
    workday_sensor: binary_sensor.workday
`))
	require.NoError(t, err)
	require.Len(t, cfg.Covers, 1)

	cover := cfg.Covers[0]
	assert.Equal(t, 95.0, cover.Positions.Open)
	assert.Equal(t, 30.0, cover.Positions.Shading)
	// unset values still get defaults
	assert.Equal(t, 50.0, cover.Positions.Ventilate)
	assert.Equal(t, schedule.MustTimeOfDay("06:30"), cover.Schedule.Workday.UpEarly)
	assert.Equal(t, schedule.MustTimeOfDay("22:30"), cover.Schedule.Workday.DownLate)
	assert.Equal(t, 500.0, cover.Brightness.OpenAbove)
	assert.Equal(t, []string{"sunny", "partlycloudy"}, cover.Shading.WeatherConditions)
	assert.True(t, cover.Contacts.LockoutTiltClose)
	assert.Equal(t, configuration.ResetTime, cover.ManualOverride.ResetMode)
	assert.Equal(t, schedule.MustTimeOfDay("05:30"), cover.ManualOverride.ResetTime)
	assert.True(t, cover.Automation.Shading.Enabled)
	assert.True(t, cover.Automation.Ventilate.Enabled)
	assert.Equal(t, "input_boolean.auto_ventilate", cover.Automation.Ventilate.Entity)
	assert.True(t, cover.Conditions.Open.IsSet())
	assert.False(t, cover.Conditions.Close.IsSet())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no covers", body: `covers: []`},
		{name: "missing cover id", body: "covers:\n  - positions:\n      open: 100\n"},
		{name: "position out of range", body: "covers:\n  - cover: cover.a\n    positions:\n      open: 150\n"},
		{name: "negative tolerance", body: "covers:\n  - cover: cover.a\n    positions:\n      tolerance: -1\n"},
		{name: "bad reset mode", body: "covers:\n  - cover: cover.a\n    manual_override:\n      reset_mode: sometimes\n"},
		{name: "bad forecast type", body: "covers:\n  - cover: cover.a\n    shading:\n      forecast_type: tea_leaves\n"},
		{name: "not yaml", body: `covers: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := configuration.Load(strings.NewReader(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestScheduleConfiguration_Times(t *testing.T) {
	cfg := configuration.DefaultCoverConfiguration()

	early, late := cfg.Schedule.Times(true, true)
	assert.Equal(t, schedule.MustTimeOfDay("07:00"), early)
	assert.Equal(t, schedule.MustTimeOfDay("09:00"), late)

	early, late = cfg.Schedule.Times(false, false)
	assert.Equal(t, schedule.MustTimeOfDay("17:00"), early)
	assert.Equal(t, schedule.MustTimeOfDay("23:00"), late)
}
