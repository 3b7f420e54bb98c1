package solver

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

func values(vs ...string) []model.Value {
	out := make([]model.Value, len(vs))
	for i, v := range vs {
		out[i] = model.Value(v)
	}
	return out
}

func keys(solutions []model.Solution) []string {
	out := make([]string, len(solutions))
	for i, s := range solutions {
		out[i] = s.Key()
	}
	sort.Strings(out)
	return out
}

func TestSolveBoardSupport(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddVariable(model.Variable{Name: "BOARD", Domain: values("A", "B")}))
	require.NoError(t, p.AddVariable(model.Variable{Name: "FLAG", Domain: values("0", "1")}))
	require.NoError(t, p.AddConstraint(BoardSupport("BOARD", "A", "FLAG", "0")))

	solutions := p.Solve()

	assert.Equal(t, []string{
		"BOARD=A;FLAG=0",
		"BOARD=B;FLAG=0",
		"BOARD=B;FLAG=1",
	}, keys(solutions))
}

func TestSolveAllEqual(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddVariable(model.Variable{Name: "X", Domain: values("p", "q")}))
	require.NoError(t, p.AddVariable(model.Variable{Name: "Y", Domain: values("p", "q")}))
	require.NoError(t, p.AddConstraint(AllEqual("X", "Y")))

	assert.Equal(t, []string{"X=p;Y=p", "X=q;Y=q"}, keys(p.Solve()))
}

func TestSolveCompatible(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddVariable(model.Variable{Name: "STEPPER", Domain: values("NONE", "ENABLED")}))
	require.NoError(t, p.AddVariable(model.Variable{Name: "DRIVER", Domain: values("NONE", "A4988", "TMC2209")}))
	require.NoError(t, p.AddConstraint(Compatible("DRIVER", "STEPPER", map[model.Value][]model.Value{
		"NONE":    values("NONE"),
		"ENABLED": values("A4988", "TMC2209"),
	})))

	assert.Equal(t, []string{
		"STEPPER=ENABLED;DRIVER=A4988",
		"STEPPER=ENABLED;DRIVER=TMC2209",
		"STEPPER=NONE;DRIVER=NONE",
	}, keys(p.Solve()))
}

func TestSolveKeepsDeclarationOrder(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddVariable(model.Variable{Name: "Z", Domain: values("1", "2", "3")}))
	require.NoError(t, p.AddVariable(model.Variable{Name: "A", Domain: values("x")}))
	require.NoError(t, p.AddVariable(model.Variable{Name: "M", Domain: values("y", "z")}))

	solutions := p.Solve()
	require.Len(t, solutions, 6)
	for _, s := range solutions {
		assert.Equal(t, []string{"Z", "A", "M"}, s.Names())
	}
}

func TestSolveUnsatisfiable(t *testing.T) {
	tests := []struct {
		name        string
		constraints []Constraint
	}{
		{
			name:        "unary constraint empties a domain",
			constraints: []Constraint{InSet("X", "r")},
		},
		{
			name: "contradictory pair",
			constraints: []Constraint{
				AllEqual("X", "Y"),
				InSet("X", "p"),
				InSet("Y", "q"),
			},
		},
		{
			name: "compatibility table without entry",
			constraints: []Constraint{
				Compatible("Y", "X", map[model.Value][]model.Value{}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProblem()
			require.NoError(t, p.AddVariable(model.Variable{Name: "X", Domain: values("p", "q")}))
			require.NoError(t, p.AddVariable(model.Variable{Name: "Y", Domain: values("p", "q")}))
			for _, c := range tt.constraints {
				require.NoError(t, p.AddConstraint(c))
			}

			solutions := p.Solve()
			assert.NotNil(t, solutions)
			assert.Empty(t, solutions)
		})
	}
}

func TestSolveEmptyProblem(t *testing.T) {
	solutions := NewProblem().Solve()
	assert.NotNil(t, solutions)
	assert.Empty(t, solutions)
}

func TestAddVariableErrors(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddVariable(model.Variable{Name: "X", Domain: values("a", "a", "b")}))

	v, ok := p.Variable("X")
	require.True(t, ok)
	assert.Equal(t, values("a", "b"), v.Domain)

	err := p.AddVariable(model.Variable{Name: "X", Domain: values("c")})
	assert.ErrorIs(t, err, ErrDuplicateVariable)

	err = p.AddVariable(model.Variable{Name: "Y"})
	assert.ErrorIs(t, err, ErrEmptyDomain)
}

func TestAddConstraintErrors(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddVariable(model.Variable{Name: "X", Domain: values("a")}))

	assert.ErrorIs(t, p.AddConstraint(InSet("MISSING", "a")), ErrUnknownVariable)
	assert.ErrorIs(t, p.AddConstraint(AllEqual("X")), ErrInvalidConstraint)
	assert.ErrorIs(t, p.AddConstraint(Constraint{Kind: Kind(42), Vars: []string{"X"}}), ErrInvalidConstraint)
	assert.Empty(t, p.Constraints())
}

func TestValidate(t *testing.T) {
	p := NewProblem()
	require.NoError(t, p.AddVariable(model.Variable{Name: "BOARD", Domain: values("A", "B")}))
	require.NoError(t, p.AddVariable(model.Variable{Name: "FLAG", Domain: values("0", "1")}))
	require.NoError(t, p.AddConstraint(BoardSupport("BOARD", "A", "FLAG", "0")))

	tests := []struct {
		name     string
		solution model.Solution
		wantErr  error
	}{
		{
			name:     "valid",
			solution: model.Solution{{Name: "BOARD", Value: "B"}, {Name: "FLAG", Value: "1"}},
		},
		{
			name:     "missing variable",
			solution: model.Solution{{Name: "BOARD", Value: "B"}},
			wantErr:  ErrIncompleteSolution,
		},
		{
			name:     "repeated variable",
			solution: model.Solution{{Name: "BOARD", Value: "B"}, {Name: "BOARD", Value: "A"}},
			wantErr:  ErrIncompleteSolution,
		},
		{
			name:     "value outside domain",
			solution: model.Solution{{Name: "BOARD", Value: "C"}, {Name: "FLAG", Value: "1"}},
			wantErr:  ErrValueOutOfDomain,
		},
		{
			name:     "constraint violated",
			solution: model.Solution{{Name: "BOARD", Value: "A"}, {Name: "FLAG", Value: "1"}},
			wantErr:  ErrConstraintViolated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(tt.solution)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConstraintString(t *testing.T) {
	assert.Equal(t, "X in {a,b}", InSet("X", "b", "a").String())
	assert.Equal(t, "X == Y", AllEqual("X", "Y").String())
	assert.Equal(t, "BOARD=esp32 => USE_GPS in {0}", BoardSupport("BOARD", "esp32", "USE_GPS", "0").String())
	assert.Equal(t, "D compatible with S", Compatible("D", "S", nil).String())
}
