package matrix

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/solver"
)

// Options narrows the configuration space for one run
type Options struct {
	// Boards limits the boards under test; empty means all boards
	Boards []string
	// CISafe restricts the ci_safe variables to their reduced value sets
	CISafe bool
}

// ResolveBoards maps user supplied board names onto catalog boards, ignoring case
func (c *Catalog) ResolveBoards(names []string) ([]model.Value, error) {
	fold := cases.Fold()
	known := make(map[string]model.Value, len(c.Boards))
	for _, b := range c.Boards {
		known[fold.String(string(b))] = b
	}

	var out []model.Value
	seen := make(map[model.Value]bool)
	for _, name := range names {
		board, ok := known[fold.String(strings.TrimSpace(name))]
		if !ok {
			valid := make([]string, len(c.Boards))
			for i, b := range c.Boards {
				valid[i] = string(b)
			}
			return nil, fmt.Errorf("%w: %q (choose from %s)", ErrUnknownBoard, name, strings.Join(valid, ", "))
		}
		if seen[board] {
			continue
		}
		seen[board] = true
		out = append(out, board)
	}
	return out, nil
}

// SupportConstraints derives one board-scoped constraint per (board, variable)
// pair listed in board_support. Pairs that are not listed leave the variable's
// default domain in force for that board.
func (c *Catalog) SupportConstraints() []solver.Constraint {
	var out []solver.Constraint
	for _, board := range c.supportedBoards() {
		vars := c.BoardSupport[board]
		names := make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, solver.BoardSupport(model.BoardVariable, board, name, vars[name]...))
		}
	}
	return out
}

// CompatibilityConstraints derives one constraint per compatibility pair
func (c *Catalog) CompatibilityConstraints() []solver.Constraint {
	var out []solver.Constraint
	for _, table := range c.Compatibility {
		for _, pair := range table.Pairs {
			out = append(out, solver.Compatible(pair.Dependent, pair.Key, table.Table))
		}
	}
	return out
}

// Problem builds the solver problem for the catalog under the given options
func (c *Catalog) Problem(opts Options) (*solver.Problem, error) {
	p := solver.NewProblem()

	board, _ := c.Variable(model.BoardVariable)
	if err := p.AddVariable(board); err != nil {
		return nil, fmt.Errorf("failed to add board variable: %w", err)
	}
	for _, v := range c.Variables {
		if err := p.AddVariable(v); err != nil {
			return nil, fmt.Errorf("failed to add variable: %w", err)
		}
	}

	constraints := c.SupportConstraints()
	constraints = append(constraints, c.CompatibilityConstraints()...)

	if len(opts.Boards) > 0 {
		boards, err := c.ResolveBoards(opts.Boards)
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, solver.InSet(model.BoardVariable, boards...))
	}

	for _, group := range c.Equal {
		constraints = append(constraints, solver.AllEqual(group...))
	}

	if opts.CISafe {
		names := make([]string, 0, len(c.CISafe))
		for name := range c.CISafe {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			constraints = append(constraints, solver.InSet(name, c.CISafe[name]...))
		}
	}

	for _, constraint := range constraints {
		if err := p.AddConstraint(constraint); err != nil {
			return nil, fmt.Errorf("failed to add constraint: %w", err)
		}
	}
	return p, nil
}
