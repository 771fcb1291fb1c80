package token

import (
	"fmt"
	"math"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
)

// Sequence is an ordered list of per-token vector representations.
// Every token shares the same dimension. A Sequence handed to an engine
// is treated as read-only for the lifetime of that engine; callers that
// need to keep mutating their buffers should pass a Clone.
type Sequence [][]float64

// Len returns the number of tokens in the sequence.
func (s Sequence) Len() int {
	return len(s)
}

// Dim returns the per-token vector dimension, or 0 for an empty sequence.
func (s Sequence) Dim() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

// Validate checks that the sequence is non-empty, rectangular and finite.
func (s Sequence) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty token sequence", internalerr.ErrInvalidInput)
	}
	d := len(s[0])
	if d == 0 {
		return fmt.Errorf("%w: zero-dimensional token representation", internalerr.ErrInvalidInput)
	}
	for i, vec := range s {
		if len(vec) != d {
			return fmt.Errorf("%w: token %d has dimension %d, expected %d",
				internalerr.ErrInvalidInput, i, len(vec), d)
		}
		for j, v := range vec {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: token %d component %d is not finite",
					internalerr.ErrInvalidInput, i, j)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the sequence.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	for i, vec := range s {
		out[i] = make([]float64, len(vec))
		copy(out[i], vec)
	}
	return out
}
