// Package input describes a participant's per-tick control vector and its
// wire encoding. The relay never interprets the fields; it only needs to know
// which ones are edge-triggered so it can clear them after each tick.
package input

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownField = errors.New("unknown input field")
	ErrInvalidValue = errors.New("input field is not a boolean")
)

// Trigger controls how long a pressed field stays set.
type Trigger int

const (
	// Level fields persist until the client reports a new value.
	Level Trigger = iota
	// Edge fields are observed for exactly one tick per press.
	Edge
)

func (t Trigger) String() string {
	if t == Edge {
		return "edge"
	}
	return "level"
}

type Field struct {
	Name    string
	Trigger Trigger
}

// State maps every schema field to its current value.
type State map[string]bool

func (s State) Clone() State {
	c := make(State, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Equal reports whether both states carry the same pressed fields.
func (s State) Equal(o State) bool {
	for k, v := range s {
		if o[k] != v {
			return false
		}
	}
	for k, v := range o {
		if s[k] != v {
			return false
		}
	}
	return true
}

type Schema struct {
	Fields []Field
	index  map[string]Trigger
}

// NewSchema builds a schema from level and edge field names.
func NewSchema(level, edge []string) (Schema, error) {
	s := Schema{index: make(map[string]Trigger, len(level)+len(edge))}
	add := func(name string, t Trigger) error {
		if name == "" {
			return errors.New("empty input field name")
		}
		if _, dup := s.index[name]; dup {
			return fmt.Errorf("input field %q declared twice", name)
		}
		s.index[name] = t
		s.Fields = append(s.Fields, Field{Name: name, Trigger: t})
		return nil
	}
	for _, name := range level {
		if err := add(name, Level); err != nil {
			return Schema{}, err
		}
	}
	for _, name := range edge {
		if err := add(name, Edge); err != nil {
			return Schema{}, err
		}
	}
	return s, nil
}

var (
	DefaultLevelFields = []string{
		"increaseThrust", "decreaseThrust",
		"yawLeft", "yawRight",
		"pitchUp", "pitchDown",
		"rollLeft", "rollRight",
	}
	DefaultEdgeFields = []string{
		"fireWeapon", "toggleViewMode", "reTarget",
		"selectWeapon1", "selectWeapon2", "selectWeapon3", "selectWeapon4",
	}
)

// DefaultSchema matches the flight controls shipped with the game client.
func DefaultSchema() Schema {
	s, err := NewSchema(DefaultLevelFields, DefaultEdgeFields)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s Schema) TriggerOf(name string) (Trigger, bool) {
	t, ok := s.index[name]
	return t, ok
}

// Neutral returns a state with every field released.
func (s Schema) Neutral() State {
	st := make(State, len(s.Fields))
	for _, f := range s.Fields {
		st[f.Name] = false
	}
	return st
}

// ClearEdges releases every edge-triggered field in place.
func (s Schema) ClearEdges(st State) {
	for _, f := range s.Fields {
		if f.Trigger == Edge {
			st[f.Name] = false
		}
	}
}

// Decode parses a control vector. raw may be a JSON object or a JSON string
// holding one. Missing fields are released.
func (s Schema) Decode(raw []byte) (State, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decoding input string: %w", err)
		}
		raw = []byte(inner)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decoding input: %w", ErrInvalidValue)
	}

	st := s.Neutral()
	for name, v := range fields {
		if !s.Has(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidValue, name)
		}
		st[name] = b
	}
	return st, nil
}

// Encode renders st as a JSON object containing every schema field.
func (s Schema) Encode(st State) ([]byte, error) {
	out := s.Neutral()
	for name, v := range st {
		if !s.Has(name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		out[name] = v
	}
	return json.Marshal(out)
}
