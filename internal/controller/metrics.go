package controller

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts engine activity. It implements prometheus.Collector so the
// caller can register it alongside the snapshot collector.
type Metrics struct {
	evaluations *prometheus.CounterVec
	commands    *prometheus.CounterVec
	skipped     *prometheus.CounterVec
}

var _ prometheus.Collector = &Metrics{}

// NewMetrics creates the engine activity metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covercontrol",
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Number of decision evaluations per cover and trigger",
		}, []string{"cover", "trigger"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covercontrol",
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Number of movement commands issued per cover and service",
		}, []string{"cover", "service"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covercontrol",
			Subsystem: "engine",
			Name:      "commands_skipped_total",
			Help:      "Number of movement commands skipped per cover and cause",
		}, []string{"cover", "cause"}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil {
		return
	}
	m.evaluations.Describe(ch)
	m.commands.Describe(ch)
	m.skipped.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil {
		return
	}
	m.evaluations.Collect(ch)
	m.commands.Collect(ch)
	m.skipped.Collect(ch)
}

func (m *Metrics) countEvaluation(cover, trigger string) {
	if m != nil {
		m.evaluations.WithLabelValues(cover, trigger).Inc()
	}
}

func (m *Metrics) countCommand(cover, service string) {
	if m != nil {
		m.commands.WithLabelValues(cover, service).Inc()
	}
}

func (m *Metrics) countSkipped(cover, cause string) {
	if m != nil {
		m.skipped.WithLabelValues(cover, cause).Inc()
	}
}
