package linear

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

// Mapping is a fixed-weight linear combination of token vectors:
//
//	Φ(x) = Σ_i w_i · x_i
//
// It is the reference implementation of phi.Mapping: simple enough that the
// learned noise tolerances have a known shape (σ_i inversely proportional to
// |w_i|), which makes it the workhorse of the test suite and the CLI demos.
type Mapping struct {
	weights *mat.VecDense
}

// New creates a linear mapping with one weight per token.
func New(weights []float64) (*Mapping, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no weights", internalerr.ErrInvalidInput)
	}
	w := make([]float64, len(weights))
	copy(w, weights)
	return &Mapping{weights: mat.NewVecDense(len(w), w)}, nil
}

// Weights returns a copy of the per-token weights.
func (m *Mapping) Weights() []float64 {
	out := make([]float64, m.weights.Len())
	copy(out, m.weights.RawVector().Data)
	return out
}

// Forward implements phi.Mapping.
func (m *Mapping) Forward(x token.Sequence) ([]float64, error) {
	if x.Len() != m.weights.Len() {
		return nil, fmt.Errorf("%w: sequence has %d tokens, mapping expects %d",
			internalerr.ErrInvalidInput, x.Len(), m.weights.Len())
	}
	d := x.Dim()
	out := mat.NewVecDense(d, nil)
	for i := 0; i < x.Len(); i++ {
		out.AddScaledVec(out, m.weights.AtVec(i), mat.NewVecDense(d, x[i]))
	}
	res := make([]float64, d)
	copy(res, out.RawVector().Data)
	return res, nil
}

// VJP implements phi.Mapping. The Jacobian of a linear map is the map
// itself, so the gradient of <ct, Φ(x)> with respect to token i is w_i·ct.
func (m *Mapping) VJP(x token.Sequence, cotangent []float64) (token.Sequence, error) {
	if x.Len() != m.weights.Len() {
		return nil, fmt.Errorf("%w: sequence has %d tokens, mapping expects %d",
			internalerr.ErrInvalidInput, x.Len(), m.weights.Len())
	}
	if len(cotangent) != x.Dim() {
		return nil, fmt.Errorf("%w: cotangent has length %d, output has length %d",
			internalerr.ErrInvalidInput, len(cotangent), x.Dim())
	}
	grads := make(token.Sequence, x.Len())
	for i := 0; i < x.Len(); i++ {
		g := mat.NewVecDense(len(cotangent), nil)
		g.ScaleVec(m.weights.AtVec(i), mat.NewVecDense(len(cotangent), cotangent))
		grads[i] = g.RawVector().Data
	}
	return grads, nil
}
