package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDegenerateCorpus   = errors.New("degenerate corpus")
	ErrNumericInstability = errors.New("numeric instability")
	ErrInvalidConfig      = errors.New("invalid configuration")
)
