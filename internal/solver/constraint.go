package solver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// Kind tags the predicate a Constraint evaluates
type Kind int

const (
	// KindInSet restricts Vars[0] to Allowed
	KindInSet Kind = iota
	// KindAllEqual forces every variable in Vars to share one value
	KindAllEqual
	// KindBoardSupport restricts Vars[1] to Allowed when Vars[0] equals Board
	KindBoardSupport
	// KindCompatible restricts Vars[0] to Table[value of Vars[1]]
	KindCompatible
)

func (k Kind) String() string {
	switch k {
	case KindInSet:
		return "in-set"
	case KindAllEqual:
		return "all-equal"
	case KindBoardSupport:
		return "board-support"
	case KindCompatible:
		return "compatible"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type valueSet map[model.Value]struct{}

func newValueSet(values []model.Value) valueSet {
	set := make(valueSet, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (s valueSet) has(v model.Value) bool {
	_, ok := s[v]
	return ok
}

func (s valueSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, string(v))
	}
	sort.Strings(out)
	return out
}

// Constraint is a predicate over a fixed tuple of variables. It is a plain
// value: the solver evaluates it by Kind and never calls back into caller code.
type Constraint struct {
	Kind    Kind
	Vars    []string
	Board   model.Value
	Allowed valueSet
	Table   map[model.Value]valueSet
}

// InSet restricts name to values
func InSet(name string, values ...model.Value) Constraint {
	return Constraint{
		Kind:    KindInSet,
		Vars:    []string{name},
		Allowed: newValueSet(values),
	}
}

// AllEqual forces every named variable to take the same value
func AllEqual(names ...string) Constraint {
	return Constraint{
		Kind: KindAllEqual,
		Vars: append([]string(nil), names...),
	}
}

// BoardSupport restricts name to values whenever boardVar is set to board.
// Any other board leaves name unconstrained.
func BoardSupport(boardVar string, board model.Value, name string, values ...model.Value) Constraint {
	return Constraint{
		Kind:    KindBoardSupport,
		Vars:    []string{boardVar, name},
		Board:   board,
		Allowed: newValueSet(values),
	}
}

// Compatible restricts dependent to table[value of key]. A key value missing
// from the table admits no dependent value.
func Compatible(dependent, key string, table map[model.Value][]model.Value) Constraint {
	t := make(map[model.Value]valueSet, len(table))
	for k, values := range table {
		t[k] = newValueSet(values)
	}
	return Constraint{
		Kind:  KindCompatible,
		Vars:  []string{dependent, key},
		Table: t,
	}
}

// Allows reports whether value is admitted by an in-set or board-support constraint
func (c Constraint) Allows(value model.Value) bool {
	return c.Allowed.has(value)
}

func (c Constraint) validate() error {
	switch c.Kind {
	case KindInSet:
		if len(c.Vars) != 1 {
			return fmt.Errorf("%w: %s needs exactly one variable", ErrInvalidConstraint, c.Kind)
		}
	case KindAllEqual:
		if len(c.Vars) < 2 {
			return fmt.Errorf("%w: %s needs at least two variables", ErrInvalidConstraint, c.Kind)
		}
	case KindBoardSupport, KindCompatible:
		if len(c.Vars) != 2 {
			return fmt.Errorf("%w: %s needs exactly two variables", ErrInvalidConstraint, c.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidConstraint, c.Kind)
	}
	return nil
}

// holds evaluates the constraint against a possibly partial assignment.
// Unassigned variables never cause a violation on their own.
func (c Constraint) holds(lookup func(string) (model.Value, bool)) bool {
	switch c.Kind {
	case KindInSet:
		v, ok := lookup(c.Vars[0])
		return !ok || c.Allowed.has(v)

	case KindAllEqual:
		var first model.Value
		seen := false
		for _, name := range c.Vars {
			v, ok := lookup(name)
			if !ok {
				continue
			}
			if !seen {
				first, seen = v, true
				continue
			}
			if v != first {
				return false
			}
		}
		return true

	case KindBoardSupport:
		board, ok := lookup(c.Vars[0])
		if !ok || board != c.Board {
			return true
		}
		v, ok := lookup(c.Vars[1])
		return !ok || c.Allowed.has(v)

	case KindCompatible:
		dep, ok := lookup(c.Vars[0])
		if !ok {
			return true
		}
		key, ok := lookup(c.Vars[1])
		if !ok {
			return true
		}
		return c.Table[key].has(dep)
	}
	return false
}

func (c Constraint) String() string {
	switch c.Kind {
	case KindInSet:
		return fmt.Sprintf("%s in {%s}", c.Vars[0], strings.Join(c.Allowed.sorted(), ","))
	case KindAllEqual:
		return strings.Join(c.Vars, " == ")
	case KindBoardSupport:
		return fmt.Sprintf("%s=%s => %s in {%s}", c.Vars[0], c.Board, c.Vars[1], strings.Join(c.Allowed.sorted(), ","))
	case KindCompatible:
		return fmt.Sprintf("%s compatible with %s", c.Vars[0], c.Vars[1])
	}
	return c.Kind.String()
}
