package controller

import "time"

// Snapshot is the published, read-only state of one cover engine. Snapshots
// are the only cross-engine view of controller state: anything outside the
// engine's own goroutine (collector, health endpoint, other covers) reads
// these, never the engine itself.
type Snapshot struct {
	Cover             string     `json:"cover"`
	TargetPosition    *float64   `json:"target_position,omitempty"`
	Reason            string     `json:"reason"`
	ManualActive      bool       `json:"manual_active"`
	ManualUntil       *time.Time `json:"manual_until,omitempty"`
	NextOpen          *time.Time `json:"next_open,omitempty"`
	NextClose         *time.Time `json:"next_close,omitempty"`
	CurrentPosition   *float64   `json:"current_position,omitempty"`
	ShadingEnabled    bool       `json:"shading_enabled"`
	ShadingActive     bool       `json:"shading_active"`
	VentilationActive bool       `json:"ventilation_active"`
}
