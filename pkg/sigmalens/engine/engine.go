package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/noise"
	"github.com/cognicore/sigmalens/pkg/sigmalens/objective"
	"github.com/cognicore/sigmalens/pkg/sigmalens/phi"
	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

// State tracks where an Interpreter is in its lifecycle.
type State int

const (
	// StateConstructed means σ still holds its initial value.
	StateConstructed State = iota
	// StateTraining means at least one optimization step has been committed.
	StateTraining
	// StateConverged means the last requested Optimize call ran to completion.
	// Optimize may be called again; training resumes from the current σ.
	StateConverged
)

// Adam moment decay rates and epsilon, the usual defaults.
const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// σ is kept inside [sigmaFloor, sigmaCeil] by clamping ρ = log σ after
// every step. The floor keeps the information term's logarithm away from
// its singularity; the ceiling keeps exp(ρ) finite.
const (
	sigmaFloor = 1e-6
	sigmaCeil  = 1e6
)

const defaultSigmaInit = 0.5

// Interpreter owns the per-token noise-scale parameters σ and runs the
// stochastic gradient procedure that learns them. Tokens whose
// representation tolerates a lot of additive noise before Φ's output moves
// end up with large σ (uninformative); tokens that tolerate little end up
// with small σ (critical).
//
// Internally the trainable parameter is ρ = log σ, so positivity is
// structural rather than enforced by projection; the clamp on ρ is purely
// a finiteness safeguard.
type Interpreter struct {
	x       token.Sequence
	mapping phi.Mapping
	reg     float64
	scale   float64
	words   []string

	rho []float64 // log σ, the sole trainable state

	// Adam accumulators, persistent across Optimize calls so training
	// resumes rather than restarts.
	adamM []float64
	adamV []float64
	adamT int

	reparam  *noise.Reparameterizer
	eval     *objective.Evaluator
	state    State
	lastLoss float64
}

// Option configures an Interpreter at construction.
type Option func(*Interpreter) error

// WithWords attaches human-readable labels, one per token, for reporting.
// Purely presentational; the engine only preserves index alignment with σ.
func WithWords(words []string) Option {
	return func(it *Interpreter) error {
		it.words = words
		return nil
	}
}

// WithSeed fixes the noise stream. Two interpreters built with the same
// seed, inputs and hyperparameters produce identical σ trajectories.
func WithSeed(seed uint64) Option {
	return func(it *Interpreter) error {
		it.reparam = noise.New(seed)
		return nil
	}
}

// WithInitialSigma overrides the starting σ, one strictly positive entry
// per token.
func WithInitialSigma(sigma []float64) Option {
	return func(it *Interpreter) error {
		it.rho = make([]float64, len(sigma))
		for i, s := range sigma {
			if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
				return fmt.Errorf("%w: initial sigma[%d] = %g must be strictly positive and finite",
					internalerr.ErrInvalidInput, i, s)
			}
			it.rho[i] = math.Log(s)
		}
		return nil
	}
}

// New constructs an interpreter for one input sequence. The sequence and
// mapping are held by reference and never modified; reg is the data-derived
// regularization scalar from regularize.Calculate (or a manual fallback);
// scale is the external noise-amplitude multiplier reflecting the natural
// spread of the representation space.
func New(x token.Sequence, m phi.Mapping, reg, scale float64, opts ...Option) (*Interpreter, error) {
	it := &Interpreter{
		x:       x,
		mapping: m,
		reg:     reg,
		scale:   scale,
		state:   StateConstructed,
	}

	eval, err := objective.New(x, m, reg, scale)
	if err != nil {
		return nil, err
	}
	it.eval = eval

	for _, opt := range opts {
		if err := opt(it); err != nil {
			return nil, err
		}
	}

	if it.rho == nil {
		it.rho = make([]float64, x.Len())
		for i := range it.rho {
			it.rho[i] = math.Log(defaultSigmaInit)
		}
	}
	if len(it.rho) != x.Len() {
		return nil, fmt.Errorf("%w: initial sigma has %d entries, sequence has %d tokens",
			internalerr.ErrInvalidInput, len(it.rho), x.Len())
	}
	if it.words != nil && len(it.words) != x.Len() {
		return nil, fmt.Errorf("%w: %d words for %d tokens",
			internalerr.ErrInvalidInput, len(it.words), x.Len())
	}
	if it.reparam == nil {
		it.reparam = noise.New(0)
	}

	it.adamM = make([]float64, x.Len())
	it.adamV = make([]float64, x.Len())
	return it, nil
}

// OptimizeConfig holds the hyperparameters of one Optimize call.
type OptimizeConfig struct {
	// Iterations is the number of gradient steps to run. Zero is a no-op.
	Iterations int
	// LearningRate is the Adam step size on ρ = log σ.
	LearningRate float64
	// Samples is the Monte-Carlo sample count per step. More samples mean
	// lower gradient variance at the cost of more Φ evaluations.
	Samples int
	// Progress, when non-nil, is called after each committed step.
	Progress func(step int, loss float64)
}

// DefaultOptimizeConfig returns sensible defaults.
func DefaultOptimizeConfig() OptimizeConfig {
	return OptimizeConfig{
		Iterations:   1000,
		LearningRate: 0.05,
		Samples:      1,
	}
}

// Optimize runs the configured number of sequential gradient steps. Each
// step draws fresh noise from the current σ, evaluates Φ on every
// Monte-Carlo copy, computes the trade-off loss and applies one Adam update
// to ρ. Steps are strictly sequential; only the Φ evaluations within one
// step run concurrently.
//
// Optimize may be called repeatedly to continue training. A failed step
// (a Φ error, or a gradient that cannot be recovered to a finite value)
// returns without committing anything, so σ is never left partially
// updated.
func (it *Interpreter) Optimize(ctx context.Context, cfg OptimizeConfig) error {
	if cfg.Iterations < 0 {
		return fmt.Errorf("%w: negative iteration count %d", internalerr.ErrInvalidInput, cfg.Iterations)
	}
	if cfg.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g",
			internalerr.ErrInvalidInput, cfg.LearningRate)
	}
	if cfg.Samples < 1 {
		return fmt.Errorf("%w: monte-carlo sample count must be at least 1, got %d",
			internalerr.ErrInvalidInput, cfg.Samples)
	}

	n := it.x.Len()
	d := it.x.Dim()

	for step := 0; step < cfg.Iterations; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sigma := it.Sigma()
		draws := it.reparam.Draw(n, d, cfg.Samples)
		res, err := it.eval.Evaluate(ctx, sigma, draws)
		if err != nil {
			return err
		}

		if err := it.commitStep(sigma, res.GradSigma, cfg.LearningRate); err != nil {
			return err
		}
		it.state = StateTraining
		it.lastLoss = res.Loss

		if cfg.Progress != nil {
			cfg.Progress(step, res.Loss)
		}
	}

	it.state = StateConverged
	return nil
}

// commitStep applies one Adam update to ρ, staging everything and writing
// back only once the whole candidate is finite. ∂L/∂ρ_i = ∂L/∂σ_i · σ_i.
func (it *Interpreter) commitStep(sigma, gradSigma []float64, lr float64) error {
	n := len(it.rho)
	gradRho := make([]float64, n)
	for i := 0; i < n; i++ {
		g := gradSigma[i] * sigma[i]
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: non-finite gradient for token %d",
				internalerr.ErrNumericInstability, i)
		}
		gradRho[i] = g
	}

	t := it.adamT + 1
	newM := make([]float64, n)
	newV := make([]float64, n)
	newRho := make([]float64, n)
	corr1 := 1 - math.Pow(adamBeta1, float64(t))
	corr2 := 1 - math.Pow(adamBeta2, float64(t))

	for i := 0; i < n; i++ {
		newM[i] = adamBeta1*it.adamM[i] + (1-adamBeta1)*gradRho[i]
		newV[i] = adamBeta2*it.adamV[i] + (1-adamBeta2)*gradRho[i]*gradRho[i]
		mHat := newM[i] / corr1
		vHat := newV[i] / corr2
		rho := it.rho[i] - lr*mHat/(math.Sqrt(vHat)+adamEps)

		// Finiteness safeguard: clamp ρ back into the admissible band.
		rho = math.Max(rho, math.Log(sigmaFloor))
		rho = math.Min(rho, math.Log(sigmaCeil))
		if math.IsNaN(rho) {
			return fmt.Errorf("%w: token %d noise scale is not recoverable",
				internalerr.ErrNumericInstability, i)
		}
		newRho[i] = rho
	}

	copy(it.adamM, newM)
	copy(it.adamV, newV)
	copy(it.rho, newRho)
	it.adamT = t
	return nil
}

// Sigma returns the current per-token noise scales as a fresh slice,
// index-aligned with the input sequence. Every entry is strictly positive.
// Valid in any state; before training it returns the initial value.
func (it *Interpreter) Sigma() []float64 {
	out := make([]float64, len(it.rho))
	for i, r := range it.rho {
		out[i] = math.Exp(r)
	}
	return out
}

// Words returns the token labels supplied at construction, or nil.
func (it *Interpreter) Words() []string {
	return it.words
}

// State returns the lifecycle state.
func (it *Interpreter) State() State {
	return it.state
}

// LastLoss returns the loss of the most recently committed step, or 0 if
// no step has run.
func (it *Interpreter) LastLoss() float64 {
	return it.lastLoss
}
