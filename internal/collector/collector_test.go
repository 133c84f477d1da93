package collector_test

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/covercontrol/covercontrol/internal/collector"
	"github.com/covercontrol/covercontrol/internal/controller"
)

type fakeStore []controller.Snapshot

func (f fakeStore) Snapshots() []controller.Snapshot { return f }

func TestCollector(t *testing.T) {
	target := 25.0
	current := 25.0
	until := time.Unix(1718700000, 0)
	store := fakeStore{
		{
			Cover:           "cover.living_room",
			TargetPosition:  &target,
			CurrentPosition: &current,
			Reason:          "shading",
			ManualActive:    true,
			ManualUntil:     &until,
			ShadingActive:   true,
		},
		{
			Cover:  "cover.office",
			Reason: "idle",
		},
	}
	c := &collector.Collector{Store: store, Logger: slog.Default()}

	expected := `
# HELP covercontrol_cover_target_position Position (0-100) the controller is steering the cover to
# TYPE covercontrol_cover_target_position gauge
covercontrol_cover_target_position{cover="cover.living_room"} 25
# HELP covercontrol_cover_reason Reason for the cover's current target. Always 1. See label 'reason'
# TYPE covercontrol_cover_reason gauge
covercontrol_cover_reason{cover="cover.living_room",reason="shading"} 1
covercontrol_cover_reason{cover="cover.office",reason="idle"} 1
# HELP covercontrol_cover_manual_override 1 if the cover's automation is suspended by a manual override
# TYPE covercontrol_cover_manual_override gauge
covercontrol_cover_manual_override{cover="cover.living_room"} 1
covercontrol_cover_manual_override{cover="cover.office"} 0
# HELP covercontrol_cover_manual_override_until_timestamp_seconds Unix timestamp at which the manual override expires
# TYPE covercontrol_cover_manual_override_until_timestamp_seconds gauge
covercontrol_cover_manual_override_until_timestamp_seconds{cover="cover.living_room"} 1.7187e+09
# HELP covercontrol_cover_shading_active 1 if the cover sits at its shading position for a shading reason
# TYPE covercontrol_cover_shading_active gauge
covercontrol_cover_shading_active{cover="cover.living_room"} 1
covercontrol_cover_shading_active{cover="cover.office"} 0
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"covercontrol_cover_target_position",
		"covercontrol_cover_reason",
		"covercontrol_cover_manual_override",
		"covercontrol_cover_manual_override_until_timestamp_seconds",
		"covercontrol_cover_shading_active",
	))
}

func TestCollector_Empty(t *testing.T) {
	c := &collector.Collector{Store: fakeStore{}, Logger: slog.Default()}
	assert.Zero(t, testutil.CollectAndCount(c))
}
