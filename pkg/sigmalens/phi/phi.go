package phi

import "github.com/cognicore/sigmalens/pkg/sigmalens/token"

// Mapping is the model-internal function under interpretation.
// This interface allows swapping implementations (a linear probe, a frozen
// attention head exported from a host model, a remote evaluation bridge, etc.)
// without the optimization core ever inspecting their internals.
//
// Go has no reverse-mode autodiff, so the gradient path is part of the
// contract: a Mapping carries its own vector-Jacobian product. The core
// only ever needs VJP at the points it evaluates Forward on.
type Mapping interface {
	// Forward evaluates the mapping on one token sequence and returns the
	// hidden state flattened to a plain vector. Must be deterministic and
	// side-effect free; it may be called many times per optimization step.
	Forward(x token.Sequence) ([]float64, error)

	// VJP returns the gradient of <cotangent, Forward(x)> with respect to x,
	// shaped exactly like x. The cotangent has the same length as the
	// Forward output.
	VJP(x token.Sequence, cotangent []float64) (token.Sequence, error)
}
