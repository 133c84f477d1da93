package astro_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercontrol/covercontrol/internal/controller/astro"
)

func deBilt(t *testing.T) astro.Location {
	t.Helper()
	tz, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	return astro.Location{Latitude: 52.1, Longitude: 5.18, TZ: tz}
}

func TestLocation_IsSet(t *testing.T) {
	assert.False(t, astro.Location{}.IsSet())
	assert.False(t, astro.Location{Latitude: 52.1, Longitude: 5.18}.IsSet())
	assert.True(t, deBilt(t).IsSet())
}

func TestLocation_Position(t *testing.T) {
	location := deBilt(t)

	noon := time.Date(2024, time.June, 21, 13, 30, 0, 0, location.TZ)
	azimuth, elevation := location.Position(noon)
	assert.Greater(t, elevation, 50.0)
	assert.GreaterOrEqual(t, azimuth, 0.0)
	assert.Less(t, azimuth, 360.0)
	// around solar noon the sun is roughly due south
	assert.InDelta(t, 180, azimuth, 25)

	midnight := time.Date(2024, time.June, 21, 1, 0, 0, 0, location.TZ)
	_, elevation = location.Position(midnight)
	assert.Less(t, elevation, 0.0)
}

func TestLocation_NextElevationCrossing(t *testing.T) {
	location := deBilt(t)
	now := time.Date(2024, time.June, 21, 1, 0, 0, 0, location.TZ)

	rising, ok := location.NextElevationCrossing(0, astro.Rising, now)
	require.True(t, ok)
	assert.True(t, rising.After(now))
	_, elevation := location.Position(rising)
	assert.InDelta(t, 0, elevation, 1)

	setting, ok := location.NextElevationCrossing(0, astro.Setting, now)
	require.True(t, ok)
	assert.True(t, setting.After(rising))
	_, elevation = location.Position(setting)
	assert.InDelta(t, 0, elevation, 1)

	// unset location cannot compute crossings
	_, ok = astro.Location{}.NextElevationCrossing(0, astro.Rising, now)
	assert.False(t, ok)

	// the sun never reaches 80 degrees at this latitude
	_, ok = location.NextElevationCrossing(80, astro.Rising, now)
	assert.False(t, ok)
}

func TestLocation_SunriseSunset(t *testing.T) {
	location := deBilt(t)
	now := time.Date(2024, time.June, 21, 1, 0, 0, 0, location.TZ)

	sunrise, ok := location.Sunrise(now)
	require.True(t, ok)
	assert.True(t, sunrise.After(now))

	sunset, ok := location.Sunset(now)
	require.True(t, ok)
	assert.True(t, sunset.After(sunrise))

	_, ok = astro.Location{}.Sunrise(now)
	assert.False(t, ok)
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "rising", astro.Rising.String())
	assert.Equal(t, "setting", astro.Setting.String())
}
