// Package solver enumerates every assignment of a finite-domain problem that
// satisfies all attached constraints.
package solver

import (
	"fmt"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// Problem holds variables with their domains and the constraints over them
type Problem struct {
	variables   []model.Variable
	index       map[string]int
	constraints []Constraint
}

// NewProblem creates an empty problem
func NewProblem() *Problem {
	return &Problem{
		index: make(map[string]int),
	}
}

// AddVariable declares a variable. Duplicate values in the domain are dropped,
// keeping the first occurrence.
func (p *Problem) AddVariable(v model.Variable) error {
	if _, exists := p.index[v.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVariable, v.Name)
	}
	if len(v.Domain) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyDomain, v.Name)
	}

	seen := make(map[model.Value]struct{}, len(v.Domain))
	domain := make([]model.Value, 0, len(v.Domain))
	for _, value := range v.Domain {
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		domain = append(domain, value)
	}
	v.Domain = domain

	p.index[v.Name] = len(p.variables)
	p.variables = append(p.variables, v)
	return nil
}

// AddConstraint attaches a constraint. Every variable it names must already be declared.
func (p *Problem) AddConstraint(c Constraint) error {
	if err := c.validate(); err != nil {
		return err
	}
	for _, name := range c.Vars {
		if _, ok := p.index[name]; !ok {
			return fmt.Errorf("%w: %s in constraint %s", ErrUnknownVariable, name, c)
		}
	}
	p.constraints = append(p.constraints, c)
	return nil
}

// Variables returns the declared variables in declaration order
func (p *Problem) Variables() []model.Variable {
	out := make([]model.Variable, len(p.variables))
	copy(out, p.variables)
	return out
}

// Variable returns the declared variable with the given name
func (p *Problem) Variable(name string) (model.Variable, bool) {
	i, ok := p.index[name]
	if !ok {
		return model.Variable{}, false
	}
	return p.variables[i], true
}

// Constraints returns the attached constraints in attachment order
func (p *Problem) Constraints() []Constraint {
	out := make([]Constraint, len(p.constraints))
	copy(out, p.constraints)
	return out
}

// Validate checks that s assigns every variable exactly once, from its
// domain, and that every attached constraint holds.
func (p *Problem) Validate(s model.Solution) error {
	if len(s) != len(p.variables) {
		return fmt.Errorf("%w: %d assignments for %d variables", ErrIncompleteSolution, len(s), len(p.variables))
	}

	values := make(map[string]model.Value, len(s))
	for _, a := range s {
		i, ok := p.index[a.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownVariable, a.Name)
		}
		if _, dup := values[a.Name]; dup {
			return fmt.Errorf("%w: %s assigned twice", ErrIncompleteSolution, a.Name)
		}
		if !containsValue(p.variables[i].Domain, a.Value) {
			return fmt.Errorf("%w: %s=%s", ErrValueOutOfDomain, a.Name, a.Value)
		}
		values[a.Name] = a.Value
	}

	lookup := func(name string) (model.Value, bool) {
		v, ok := values[name]
		return v, ok
	}
	for _, c := range p.constraints {
		if !c.holds(lookup) {
			return fmt.Errorf("%w: %s", ErrConstraintViolated, c)
		}
	}
	return nil
}

func containsValue(domain []model.Value, v model.Value) bool {
	for _, d := range domain {
		if d == v {
			return true
		}
	}
	return false
}
