package controller

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.countEvaluation("cover.living_room", "time")
	m.countEvaluation("cover.living_room", "time")
	m.countCommand("cover.living_room", "set_cover_position")
	m.countSkipped("cover.living_room", "unavailable")

	expected := `
# HELP covercontrol_engine_evaluations_total Number of decision evaluations per cover and trigger
# TYPE covercontrol_engine_evaluations_total counter
covercontrol_engine_evaluations_total{cover="cover.living_room",trigger="time"} 2
# HELP covercontrol_engine_commands_total Number of movement commands issued per cover and service
# TYPE covercontrol_engine_commands_total counter
covercontrol_engine_commands_total{cover="cover.living_room",service="set_cover_position"} 1
# HELP covercontrol_engine_commands_skipped_total Number of movement commands skipped per cover and cause
# TYPE covercontrol_engine_commands_skipped_total counter
covercontrol_engine_commands_skipped_total{cause="unavailable",cover="cover.living_room"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(expected)))

	// a nil Metrics is a no-op, so engines can run without one
	var none *Metrics
	none.countEvaluation("cover.living_room", "time")
	assert.Zero(t, testutil.CollectAndCount(none))
}
