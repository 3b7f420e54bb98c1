package matrix

import "errors"

var (
	// ErrInvalidCatalog is returned when a matrix definition is inconsistent
	ErrInvalidCatalog = errors.New("invalid matrix definition")

	// ErrUnknownBoard is returned when a board filter names a board the matrix does not have
	ErrUnknownBoard = errors.New("unknown board")
)
