package solver

import "errors"

var (
	// ErrDuplicateVariable is returned when a variable is declared twice
	ErrDuplicateVariable = errors.New("duplicate variable")

	// ErrUnknownVariable is returned when a constraint names an undeclared variable
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrEmptyDomain is returned when a variable is declared without values
	ErrEmptyDomain = errors.New("empty domain")

	// ErrInvalidConstraint is returned when a constraint is malformed
	ErrInvalidConstraint = errors.New("invalid constraint")

	// ErrIncompleteSolution is returned when a solution misses or repeats a variable
	ErrIncompleteSolution = errors.New("incomplete solution")

	// ErrValueOutOfDomain is returned when a solution uses a value outside a variable's domain
	ErrValueOutOfDomain = errors.New("value out of domain")

	// ErrConstraintViolated is returned when a solution breaks an attached constraint
	ErrConstraintViolated = errors.New("constraint violated")
)
