// Package collector exposes the controller's per-cover state as Prometheus
// metrics.
package collector

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/covercontrol/covercontrol/internal/controller"
)

var (
	coverTargetPosition = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "target_position"),
		"Position (0-100) the controller is steering the cover to",
		[]string{"cover"},
		nil,
	)
	coverCurrentPosition = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "current_position"),
		"Last reported position (0-100) of the cover",
		[]string{"cover"},
		nil,
	)
	coverReason = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "reason"),
		"Reason for the cover's current target. Always 1. See label 'reason'",
		[]string{"cover", "reason"},
		nil,
	)
	coverManualOverride = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "manual_override"),
		"1 if the cover's automation is suspended by a manual override",
		[]string{"cover"},
		nil,
	)
	coverManualOverrideUntil = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "manual_override_until_timestamp_seconds"),
		"Unix timestamp at which the manual override expires",
		[]string{"cover"},
		nil,
	)
	coverNextOpen = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "next_open_timestamp_seconds"),
		"Unix timestamp of the next scheduled opening",
		[]string{"cover"},
		nil,
	)
	coverNextClose = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "next_close_timestamp_seconds"),
		"Unix timestamp of the next scheduled closing",
		[]string{"cover"},
		nil,
	)
	coverShadingActive = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "shading_active"),
		"1 if the cover sits at its shading position for a shading reason",
		[]string{"cover"},
		nil,
	)
	coverVentilationActive = prometheus.NewDesc(
		prometheus.BuildFQName("covercontrol", "cover", "ventilation_active"),
		"1 if the cover sits at its ventilation position for a ventilation reason",
		[]string{"cover"},
		nil,
	)
)

// Store provides the last published state of all covers.
type Store interface {
	Snapshots() []controller.Snapshot
}

var _ prometheus.Collector = &Collector{}

// Collector renders cover snapshots as Prometheus metrics.
type Collector struct {
	Store  Store
	Logger *slog.Logger
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- coverTargetPosition
	ch <- coverCurrentPosition
	ch <- coverReason
	ch <- coverManualOverride
	ch <- coverManualOverrideUntil
	ch <- coverNextOpen
	ch <- coverNextClose
	ch <- coverShadingActive
	ch <- coverVentilationActive
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.Store.Snapshots() {
		if s.TargetPosition != nil {
			ch <- prometheus.MustNewConstMetric(coverTargetPosition, prometheus.GaugeValue, *s.TargetPosition, s.Cover)
		}
		if s.CurrentPosition != nil {
			ch <- prometheus.MustNewConstMetric(coverCurrentPosition, prometheus.GaugeValue, *s.CurrentPosition, s.Cover)
		}
		ch <- prometheus.MustNewConstMetric(coverReason, prometheus.GaugeValue, 1, s.Cover, s.Reason)
		ch <- prometheus.MustNewConstMetric(coverManualOverride, prometheus.GaugeValue, boolValue(s.ManualActive), s.Cover)
		if s.ManualUntil != nil {
			ch <- prometheus.MustNewConstMetric(coverManualOverrideUntil, prometheus.GaugeValue, float64(s.ManualUntil.Unix()), s.Cover)
		}
		if s.NextOpen != nil {
			ch <- prometheus.MustNewConstMetric(coverNextOpen, prometheus.GaugeValue, float64(s.NextOpen.Unix()), s.Cover)
		}
		if s.NextClose != nil {
			ch <- prometheus.MustNewConstMetric(coverNextClose, prometheus.GaugeValue, float64(s.NextClose.Unix()), s.Cover)
		}
		ch <- prometheus.MustNewConstMetric(coverShadingActive, prometheus.GaugeValue, boolValue(s.ShadingActive), s.Cover)
		ch <- prometheus.MustNewConstMetric(coverVentilationActive, prometheus.GaugeValue, boolValue(s.VentilationActive), s.Cover)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
