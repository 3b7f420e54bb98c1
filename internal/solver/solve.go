package solver

import (
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

// search carries the state of one Solve call
type search struct {
	problem   *Problem
	byVar     [][]int // constraint indexes per variable
	degree    []int
	assigned  []bool
	values    []model.Value
	solutions []model.Solution
}

// Solve returns every assignment satisfying all constraints. The result is a
// set: callers must not rely on its order. An unsatisfiable problem yields an
// empty slice.
func (p *Problem) Solve() []model.Solution {
	n := len(p.variables)
	s := &search{
		problem:   p,
		byVar:     make([][]int, n),
		degree:    make([]int, n),
		assigned:  make([]bool, n),
		values:    make([]model.Value, n),
		solutions: []model.Solution{},
	}
	if n == 0 {
		return s.solutions
	}

	for ci, c := range p.constraints {
		for _, name := range c.Vars {
			vi := p.index[name]
			s.byVar[vi] = append(s.byVar[vi], ci)
			s.degree[vi] += len(c.Vars) - 1
		}
	}

	domains := make([][]model.Value, n)
	for i, v := range p.variables {
		domains[i] = v.Domain
	}

	// Node consistency: unary constraints prune domains once, up front.
	for _, c := range p.constraints {
		if len(c.Vars) != 1 {
			continue
		}
		vi := p.index[c.Vars[0]]
		domains[vi] = s.filter(vi, domains[vi], c)
		if len(domains[vi]) == 0 {
			return s.solutions
		}
	}

	s.backtrack(domains)
	return s.solutions
}

func (s *search) lookup(name string) (model.Value, bool) {
	i := s.problem.index[name]
	if !s.assigned[i] {
		return "", false
	}
	return s.values[i], true
}

// filter keeps the values of variable vi that do not violate c given the current assignment
func (s *search) filter(vi int, domain []model.Value, c Constraint) []model.Value {
	out := make([]model.Value, 0, len(domain))
	s.assigned[vi] = true
	for _, v := range domain {
		s.values[vi] = v
		if c.holds(s.lookup) {
			out = append(out, v)
		}
	}
	s.assigned[vi] = false
	return out
}

// pick chooses the unassigned variable with the fewest remaining values,
// preferring higher constraint degree and then declaration order.
func (s *search) pick(domains [][]model.Value) int {
	best := -1
	for i := range domains {
		if s.assigned[i] {
			continue
		}
		if best == -1 ||
			len(domains[i]) < len(domains[best]) ||
			(len(domains[i]) == len(domains[best]) && s.degree[i] > s.degree[best]) {
			best = i
		}
	}
	return best
}

func (s *search) backtrack(domains [][]model.Value) {
	vi := s.pick(domains)
	if vi == -1 {
		s.emit()
		return
	}

	for _, value := range domains[vi] {
		s.assigned[vi] = true
		s.values[vi] = value

		if next, ok := s.forwardCheck(vi, domains); ok {
			s.backtrack(next)
		}

		s.assigned[vi] = false
	}
}

// forwardCheck verifies the constraints touching vi and prunes the domains of
// the unassigned variables they share with it. It reports false when a
// constraint is violated or a domain becomes empty.
func (s *search) forwardCheck(vi int, domains [][]model.Value) ([][]model.Value, bool) {
	var next [][]model.Value
	for _, ci := range s.byVar[vi] {
		c := s.problem.constraints[ci]
		if !c.holds(s.lookup) {
			return nil, false
		}
		for _, name := range c.Vars {
			ui := s.problem.index[name]
			if s.assigned[ui] {
				continue
			}
			if next == nil {
				next = make([][]model.Value, len(domains))
				copy(next, domains)
			}
			pruned := s.filter(ui, next[ui], c)
			if len(pruned) == 0 {
				return nil, false
			}
			next[ui] = pruned
		}
	}
	if next == nil {
		return domains, true
	}
	return next, true
}

func (s *search) emit() {
	vars := s.problem.variables
	solution := make(model.Solution, len(vars))
	for i, v := range vars {
		solution[i] = model.Assignment{Name: v.Name, Value: s.values[i]}
	}
	s.solutions = append(s.solutions, solution)
}
