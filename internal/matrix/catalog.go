// Package matrix describes the firmware configuration space: the boards, the
// build variables with their default domains, and the support and
// compatibility tables that decide which combinations are valid.
package matrix

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

//go:embed default.yaml
var defaultMatrix []byte

// CompatibilityPair names a dependent variable and the variable keying its table
type CompatibilityPair struct {
	Dependent string `yaml:"dependent"`
	Key       string `yaml:"key"`
}

// CompatibilityTable lists, per key value, the dependent values that may go with it
type CompatibilityTable struct {
	Name  string                        `yaml:"name"`
	Table map[model.Value][]model.Value `yaml:"table"`
	Pairs []CompatibilityPair           `yaml:"pairs"`
}

// Catalog is the declarative description of a build matrix
type Catalog struct {
	Boards        []model.Value                           `yaml:"boards"`
	Variables     []model.Variable                        `yaml:"variables"`
	BoardSupport  map[model.Value]map[string][]model.Value `yaml:"board_support"`
	Compatibility []CompatibilityTable                    `yaml:"compatibility"`
	Equal         [][]string                              `yaml:"equal"`
	CISafe        map[string][]model.Value                `yaml:"ci_safe"`
	ShortNames    map[string]string                       `yaml:"short_names"`

	index map[string]int
}

// Default returns the catalog embedded in the binary
func Default() (*Catalog, error) {
	return Parse(defaultMatrix)
}

// Load reads a catalog from a YAML file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix file: %w", err)
	}
	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse matrix: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Boards) == 0 {
		return fmt.Errorf("%w: no boards declared", ErrInvalidCatalog)
	}

	c.index = make(map[string]int, len(c.Variables))
	for i := range c.Variables {
		v := &c.Variables[i]
		if v.Name == "" || v.Name == model.BoardVariable {
			return fmt.Errorf("%w: invalid variable name %q", ErrInvalidCatalog, v.Name)
		}
		if _, dup := c.index[v.Name]; dup {
			return fmt.Errorf("%w: variable %s declared twice", ErrInvalidCatalog, v.Name)
		}
		if len(v.Domain) == 0 {
			return fmt.Errorf("%w: variable %s has no values", ErrInvalidCatalog, v.Name)
		}
		if v.Kind == "" {
			v.Kind = model.VariableKindEnum
		}
		c.index[v.Name] = i
	}

	boards := make(map[model.Value]bool, len(c.Boards))
	for _, b := range c.Boards {
		boards[b] = true
	}
	for board, vars := range c.BoardSupport {
		if !boards[board] {
			return fmt.Errorf("%w: board_support names unknown board %s", ErrInvalidCatalog, board)
		}
		for name := range vars {
			if _, ok := c.index[name]; !ok {
				return fmt.Errorf("%w: board_support for %s names unknown variable %s", ErrInvalidCatalog, board, name)
			}
		}
	}

	for _, table := range c.Compatibility {
		for _, pair := range table.Pairs {
			for _, name := range []string{pair.Dependent, pair.Key} {
				if _, ok := c.index[name]; !ok {
					return fmt.Errorf("%w: compatibility %s names unknown variable %s", ErrInvalidCatalog, table.Name, name)
				}
			}
		}
	}

	for _, group := range c.Equal {
		if len(group) < 2 {
			return fmt.Errorf("%w: equal group %v needs two variables", ErrInvalidCatalog, group)
		}
		for _, name := range group {
			if _, ok := c.index[name]; !ok {
				return fmt.Errorf("%w: equal group names unknown variable %s", ErrInvalidCatalog, name)
			}
		}
	}

	for name := range c.CISafe {
		if _, ok := c.index[name]; !ok {
			return fmt.Errorf("%w: ci_safe names unknown variable %s", ErrInvalidCatalog, name)
		}
	}
	return nil
}

// Variable returns the named variable; BOARD is synthesised from the board list
func (c *Catalog) Variable(name string) (model.Variable, bool) {
	if name == model.BoardVariable {
		return model.Variable{
			Name:   model.BoardVariable,
			Kind:   model.VariableKindEnum,
			Domain: append([]model.Value(nil), c.Boards...),
		}, true
	}
	i, ok := c.index[name]
	if !ok {
		return model.Variable{}, false
	}
	return c.Variables[i], true
}

// Domain returns the default values of a variable
func (c *Catalog) Domain(name string) []model.Value {
	v, _ := c.Variable(name)
	return v.Domain
}

// ShortName returns the abbreviated label of a variable
func (c *Catalog) ShortName(name string) string {
	if short, ok := c.ShortNames[name]; ok {
		return short
	}
	return name
}

// ShortValue returns the abbreviated label of a value of the given variable
func (c *Catalog) ShortValue(name string, value model.Value) string {
	if v, ok := c.Variable(name); ok && v.Kind == model.VariableKindBoolean {
		switch value {
		case "0":
			return "DISABLED"
		case "1":
			return "ENABLED"
		}
	}
	if short, ok := c.ShortNames[string(value)]; ok {
		return short
	}
	return string(value)
}

// supportedBoards returns the board_support keys in a stable order
func (c *Catalog) supportedBoards() []model.Value {
	out := make([]model.Value, 0, len(c.BoardSupport))
	for board := range c.BoardSupport {
		out = append(out, board)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
