package objective

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/noise"
	"github.com/cognicore/sigmalens/pkg/sigmalens/phi"
	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

// Evaluator computes the noise-tolerance trade-off loss
//
//	L(σ) = (1/r) · E‖Φ(x′) − Φ(x)‖²  −  Σ_i log σ_i
//
// together with its exact gradient with respect to σ. The fidelity term
// penalizes noise scales that let Φ's output drift from its clean value;
// the information term rewards larger per-token noise. Because Φ only
// enters through its forward value and its vector-Jacobian product, the
// evaluator never needs to see inside it.
type Evaluator struct {
	x       token.Sequence
	mapping phi.Mapping
	clean   []float64 // Φ(x), cached at construction
	reg     float64
	scale   float64
}

// Result holds one evaluation of the objective.
type Result struct {
	Loss        float64
	Fidelity    float64   // (1/r)·E‖Φ(x′)−Φ(x)‖², Monte-Carlo estimate
	Information float64   // Σ log σ_i
	GradSigma   []float64 // ∂Loss/∂σ, one entry per token
}

// New creates an evaluator for a fixed input sequence. Φ is evaluated once
// on the clean sequence and the output cached for every later step.
func New(x token.Sequence, m phi.Mapping, reg, scale float64) (*Evaluator, error) {
	if err := x.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: nil mapping", internalerr.ErrInvalidInput)
	}
	if reg <= 0 {
		return nil, fmt.Errorf("%w: regularization must be positive, got %g",
			internalerr.ErrInvalidInput, reg)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: noise scale must be positive, got %g",
			internalerr.ErrInvalidInput, scale)
	}
	clean, err := m.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("phi forward on clean sequence: %w", err)
	}
	return &Evaluator{x: x, mapping: m, clean: clean, reg: reg, scale: scale}, nil
}

// Evaluate computes the loss and its σ-gradient for the given noise draws.
// Each draw contributes one Monte-Carlo sample to the fidelity expectation;
// samples are evaluated concurrently and reduced sum-then-divide, so the
// result is deterministic for fixed draws regardless of scheduling.
//
// The gradient path: with x′_i = x_i + scale·σ_i·z_i, the chain rule gives
// ∂L/∂σ_i = scale·⟨∂L/∂x′_i, z_i⟩, where ∂L/∂x′ comes from the mapping's
// VJP with cotangent (2/(r·S))·(Φ(x′)−Φ(x)).
func (e *Evaluator) Evaluate(ctx context.Context, sigma []float64, draws []token.Sequence) (Result, error) {
	n := e.x.Len()
	if len(sigma) != n {
		return Result{}, fmt.Errorf("%w: sigma has %d entries, sequence has %d tokens",
			internalerr.ErrInvalidInput, len(sigma), n)
	}
	if len(draws) == 0 {
		return Result{}, fmt.Errorf("%w: no noise draws", internalerr.ErrInvalidInput)
	}

	samples := float64(len(draws))
	fidParts := make([]float64, len(draws))
	gradParts := make([][]float64, len(draws))

	g, gctx := errgroup.WithContext(ctx)
	for s := range draws {
		s := s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			z := draws[s]
			perturbed := noise.Perturb(e.x, sigma, e.scale, z)

			y, err := e.mapping.Forward(perturbed)
			if err != nil {
				return fmt.Errorf("phi forward on perturbed sequence: %w", err)
			}
			if len(y) != len(e.clean) {
				return fmt.Errorf("%w: phi output length changed from %d to %d",
					internalerr.ErrInvalidInput, len(e.clean), len(y))
			}

			diff := make([]float64, len(y))
			floats.SubTo(diff, y, e.clean)
			fidParts[s] = floats.Dot(diff, diff) / (e.reg * samples)

			cotangent := floats.ScaleTo(make([]float64, len(diff)), 2/(e.reg*samples), diff)
			gx, err := e.mapping.VJP(perturbed, cotangent)
			if err != nil {
				return fmt.Errorf("phi vjp on perturbed sequence: %w", err)
			}

			grad := make([]float64, n)
			for i := 0; i < n; i++ {
				grad[i] = e.scale * floats.Dot(gx[i], z[i])
			}
			gradParts[s] = grad
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{GradSigma: make([]float64, n)}
	for s := range draws {
		res.Fidelity += fidParts[s]
		floats.Add(res.GradSigma, gradParts[s])
	}
	for i, s := range sigma {
		res.Information += math.Log(s)
		res.GradSigma[i] -= 1 / s
	}
	res.Loss = res.Fidelity - res.Information
	return res, nil
}
