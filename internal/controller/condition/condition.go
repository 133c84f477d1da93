// Package condition implements the declarative condition gate used by the
// cover controller: a small and/or/not expression tree over entity-state,
// numeric and time-of-day leaves, evaluated against live platform state.
//
// A condition slot in the configuration may be:
//   - absent: the gate is open (always true)
//   - a bare boolean
//   - a bare entity id, meaning "that entity is on"
//   - a full condition tree
//
// Evaluation errors fail closed: a broken condition never allows movement.
package condition

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/covercontrol/covercontrol/internal/controller/schedule"
	"github.com/covercontrol/covercontrol/internal/platform"
)

// Condition node types.
const (
	TypeAnd     = "and"
	TypeOr      = "or"
	TypeNot     = "not"
	TypeState   = "state"
	TypeNumeric = "numeric"
	TypeTime    = "time"
)

// ErrInvalidCondition indicates a malformed condition tree.
var ErrInvalidCondition = errors.New("invalid condition")

// Condition is one node of a condition tree.
type Condition struct {
	Type       string              `yaml:"condition"`
	Conditions []Condition         `yaml:"conditions,omitempty"`
	EntityID   string              `yaml:"entity_id,omitempty"`
	State      string              `yaml:"state,omitempty"`
	Above      *float64            `yaml:"above,omitempty"`
	Below      *float64            `yaml:"below,omitempty"`
	After      schedule.TimeOfDay  `yaml:"after,omitempty"`
	Before     schedule.TimeOfDay  `yaml:"before,omitempty"`
}

// Spec is a configuration slot holding an optional condition in any of its
// shorthand forms.
type Spec struct {
	boolean *bool
	entity  string
	tree    *Condition
}

// Bool returns a Spec holding a fixed boolean.
func Bool(v bool) Spec { return Spec{boolean: &v} }

// Entity returns a Spec meaning "entity is on".
func Entity(id string) Spec { return Spec{entity: id} }

// Tree returns a Spec holding a full condition tree.
func Tree(c Condition) Spec { return Spec{tree: &c} }

// IsSet reports whether the slot holds a condition.
func (s Spec) IsSet() bool {
	return s.boolean != nil || s.entity != "" || s.tree != nil
}

// UnmarshalYAML accepts a bool, an entity id string, a condition mapping, or a
// sequence of conditions (implicit "and").
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := node.Decode(&b); err == nil && (node.Value == "true" || node.Value == "false") {
			s.boolean = &b
			return nil
		}
		var entity string
		if err := node.Decode(&entity); err != nil {
			return err
		}
		s.entity = entity
		return nil
	case yaml.MappingNode:
		var c Condition
		if err := node.Decode(&c); err != nil {
			return err
		}
		s.tree = &c
		return nil
	case yaml.SequenceNode:
		var children []Condition
		if err := node.Decode(&children); err != nil {
			return err
		}
		s.tree = &Condition{Type: TypeAnd, Conditions: children}
		return nil
	default:
		return fmt.Errorf("%w: unsupported YAML node", ErrInvalidCondition)
	}
}

// Gateway evaluates condition Specs against live platform state.
type Gateway struct {
	states platform.States
	logger *slog.Logger
	now    func() time.Time
}

// NewGateway returns a Gateway reading entity state from states.
func NewGateway(states platform.States, logger *slog.Logger) *Gateway {
	return &Gateway{states: states, logger: logger, now: time.Now}
}

// SetClock overrides the Gateway's clock. Used by time-condition tests.
func (g *Gateway) SetClock(now func() time.Time) { g.now = now }

// Allows reports whether the slot permits the gated action. An unset slot is
// an open gate. Evaluation errors are logged and deny the action.
func (g *Gateway) Allows(spec Spec) bool {
	switch {
	case !spec.IsSet():
		return true
	case spec.boolean != nil:
		return *spec.boolean
	case spec.entity != "":
		return platform.IsOn(g.states, spec.entity)
	}
	result, err := g.evaluate(*spec.tree)
	if err != nil {
		g.logger.Error("condition evaluation failed, denying", "err", err)
		return false
	}
	return result
}

func (g *Gateway) evaluate(c Condition) (bool, error) {
	switch c.Type {
	case TypeAnd:
		for _, child := range c.Conditions {
			ok, err := g.evaluate(child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case TypeOr:
		for _, child := range c.Conditions {
			ok, err := g.evaluate(child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case TypeNot:
		if len(c.Conditions) != 1 {
			return false, fmt.Errorf("%w: \"not\" requires exactly one child", ErrInvalidCondition)
		}
		ok, err := g.evaluate(c.Conditions[0])
		return !ok, err
	case TypeState:
		return g.evaluateState(c)
	case TypeNumeric:
		return g.evaluateNumeric(c)
	case TypeTime:
		return g.evaluateTime(c)
	default:
		return false, fmt.Errorf("%w: unknown condition type %q", ErrInvalidCondition, c.Type)
	}
}

func (g *Gateway) evaluateState(c Condition) (bool, error) {
	if c.EntityID == "" {
		return false, fmt.Errorf("%w: state condition without entity_id", ErrInvalidCondition)
	}
	state, ok := g.states.GetState(c.EntityID)
	if !ok {
		return false, nil
	}
	want := c.State
	if want == "" {
		want = platform.StateOn
	}
	return state.Value == want, nil
}

func (g *Gateway) evaluateNumeric(c Condition) (bool, error) {
	if c.EntityID == "" {
		return false, fmt.Errorf("%w: numeric condition without entity_id", ErrInvalidCondition)
	}
	if c.Above == nil && c.Below == nil {
		return false, fmt.Errorf("%w: numeric condition without above/below", ErrInvalidCondition)
	}
	value, ok := platform.FloatState(g.states, c.EntityID)
	if !ok {
		return false, nil
	}
	if c.Above != nil && value <= *c.Above {
		return false, nil
	}
	if c.Below != nil && value >= *c.Below {
		return false, nil
	}
	return true, nil
}

func (g *Gateway) evaluateTime(c Condition) (bool, error) {
	if !c.After.IsSet() && !c.Before.IsSet() {
		return false, fmt.Errorf("%w: time condition without after/before", ErrInvalidCondition)
	}
	now := g.now()
	switch {
	case c.After.IsSet() && c.Before.IsSet():
		return schedule.WithinWindow(now, c.After, c.Before), nil
	case c.After.IsSet():
		return !now.Before(c.After.On(now)), nil
	default:
		return now.Before(c.Before.On(now)), nil
	}
}
