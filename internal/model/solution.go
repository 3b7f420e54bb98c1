package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// BoardVariable is the name of the variable selecting the hardware target
const BoardVariable = "BOARD"

// Value is one legal value of a build variable. Integers are carried as their
// decimal text so they can be written straight into a #define.
type Value string

// VariableKind describes how a variable's values should be presented
type VariableKind string

const (
	VariableKindEnum        VariableKind = "enum"
	VariableKindBoolean     VariableKind = "boolean"
	VariableKindPassthrough VariableKind = "passthrough"
)

// Variable is a named build parameter with an ordered domain
type Variable struct {
	Name   string       `json:"name" yaml:"name"`
	Kind   VariableKind `json:"kind" yaml:"kind"`
	Domain []Value      `json:"domain" yaml:"values"`
}

// Assignment binds one variable to one value
type Assignment struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Solution is a full assignment of every variable, kept in declaration order
type Solution []Assignment

// Get returns the value assigned to name
func (s Solution) Get(name string) (Value, bool) {
	for _, a := range s {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Board returns the board value, or "" if the solution has no board
func (s Solution) Board() string {
	v, _ := s.Get(BoardVariable)
	return string(v)
}

// Flags returns every non-board assignment in order
func (s Solution) Flags() []Assignment {
	flags := make([]Assignment, 0, len(s))
	for _, a := range s {
		if a.Name == BoardVariable {
			continue
		}
		flags = append(flags, a)
	}
	return flags
}

// Names returns the variable names in order
func (s Solution) Names() []string {
	names := make([]string, len(s))
	for i, a := range s {
		names[i] = a.Name
	}
	return names
}

// Key returns a canonical string identifying the solution by content
func (s Solution) Key() string {
	var b strings.Builder
	for i, a := range s {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(a.Name)
		b.WriteByte('=')
		b.WriteString(string(a.Value))
	}
	return b.String()
}

// Equal reports whether two solutions carry the same assignments
func (s Solution) Equal(other Solution) bool {
	return s.Key() == other.Key()
}

// Clone returns a copy that shares no backing array with s
func (s Solution) Clone() Solution {
	if s == nil {
		return nil
	}
	out := make(Solution, len(s))
	copy(out, s)
	return out
}

// MarshalJSON renders the solution as an ordered JSON object
func (s Solution) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, a := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		name, err := json.Marshal(a.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(string(a.Value))
		if err != nil {
			return nil, err
		}
		b.Write(name)
		b.WriteByte(':')
		b.Write(value)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON reads an ordered JSON object back into a solution
func (s *Solution) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil {
		return err
	} else if tok != json.Delim('{') {
		return fmt.Errorf("solution must be a JSON object, got %v", tok)
	}

	out := Solution{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode value of %s: %w", name, err)
		}
		out = append(out, Assignment{Name: name, Value: Value(value)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}
