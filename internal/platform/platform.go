// Package platform defines the interfaces the cover controller consumes from
// the host automation platform: entity-state lookup, blocking command
// submission, structured event emission and state-change / command-event
// subscriptions. internal/platform/mqtt provides the MQTT-backed
// implementation; tests provide in-memory fakes.
package platform

import (
	"context"
	"strconv"
	"time"
)

// Well-known entity state values.
const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnavailable = "unavailable"
	StateUnknown     = "unknown"
)

// Cover command services.
const (
	ServiceSetPosition = "set_cover_position"
	ServiceOpenCover   = "open_cover"
	ServiceCloseCover  = "close_cover"
)

// SetPositionFeature is the bit in the "supported_features" attribute indicating
// that a cover accepts absolute position commands.
const SetPositionFeature = 4

// EntityState is the last reported state of an entity.
type EntityState struct {
	Value       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
}

// Unavailable reports whether the entity is in a state that cannot be acted on.
func (s EntityState) Unavailable() bool {
	return s.Value == StateUnavailable || s.Value == StateUnknown
}

// Float returns the state value as a number.
func (s EntityState) Float() (float64, bool) {
	f, err := strconv.ParseFloat(s.Value, 64)
	return f, err == nil
}

// FloatAttribute returns the named attribute as a number.
func (s EntityState) FloatAttribute(name string) (float64, bool) {
	switch v := s.Attributes[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// TimeAttribute returns the named attribute as a timestamp (RFC 3339).
func (s EntityState) TimeAttribute(name string) (time.Time, bool) {
	v, ok := s.Attributes[name].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, err == nil
}

// Position derives a 0-100 cover position from the entity state, preferring the
// position attributes over the textual state.
func (s EntityState) Position() (float64, bool) {
	if p, ok := s.FloatAttribute("current_position"); ok {
		return p, true
	}
	if p, ok := s.FloatAttribute("position"); ok {
		return p, true
	}
	switch s.Value {
	case "open", "opening":
		return 100, true
	case "closed", "closing":
		return 0, true
	}
	return s.Float()
}

// SupportsPosition reports whether the cover accepts absolute position commands.
func (s EntityState) SupportsPosition() bool {
	features, ok := s.FloatAttribute("supported_features")
	return ok && int(features)&SetPositionFeature != 0
}

// States looks up live entity state by id.
type States interface {
	GetState(entityID string) (EntityState, bool)
}

// IsOn reports whether the entity exists and is "on".
func IsOn(s States, entityID string) bool {
	state, ok := s.GetState(entityID)
	return ok && state.Value == StateOn
}

// FloatState returns the numeric state of an entity, if it has one.
func FloatState(s States, entityID string) (float64, bool) {
	if entityID == "" {
		return 0, false
	}
	state, ok := s.GetState(entityID)
	if !ok {
		return 0, false
	}
	return state.Float()
}

// Command is a movement command for a single cover.
type Command struct {
	Service     string  `json:"service"`
	EntityID    string  `json:"entity_id"`
	Position    float64 `json:"position,omitempty"`
	Correlation string  `json:"correlation,omitempty"`
}

// Commander submits a command to the platform, blocking until it is acknowledged.
type Commander interface {
	Call(ctx context.Context, cmd Command) error
}

// StateChange notifies a subscriber that an entity changed state.
type StateChange struct {
	EntityID string
	Old      EntityState
	New      EntityState
}

// Event is a structured diagnostic event emitted by the controller.
type Event struct {
	Kind           string     `json:"kind"`
	Cover          string     `json:"cover"`
	Service        string     `json:"service,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Trigger        string     `json:"trigger,omitempty"`
	TargetPosition *float64   `json:"target_position,omitempty"`
	Skipped        string     `json:"skipped,omitempty"`
	Time           time.Time  `json:"time"`
}

// EventSink receives structured events.
type EventSink interface {
	Emit(Event)
}

// Platform is the full set of capabilities the controller needs from the host.
type Platform interface {
	States
	Commander
	EventSink
	SubscribeStates() chan StateChange
	UnsubscribeStates(chan StateChange)
	SubscribeCommands() chan Command
	UnsubscribeCommands(chan Command)
}
