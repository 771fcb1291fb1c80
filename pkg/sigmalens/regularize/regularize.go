package regularize

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/phi"
	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

// Config controls regularization estimation.
type Config struct {
	// Parallelism bounds the number of concurrent Φ evaluations.
	// Zero means one worker per CPU.
	Parallelism int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Parallelism: 0}
}

// Calculate evaluates Φ once per corpus sample and returns the mean squared
// distance of its output from the corpus-mean output:
//
//	r = (1/N) · Σ_k ‖Φ(x_k) − ȳ‖²,  ȳ = (1/N) · Σ_k Φ(x_k)
//
// This is the output variance of Φ over the reference distribution, summed
// over output components. It is zero exactly when Φ is constant on the
// corpus, and it exists purely to rescale the fidelity term of the
// objective so that a one-unit change corresponds to a typical change in
// Φ's output for realistic inputs.
//
// Samples are evaluated in parallel; Φ is only read, never modified.
func Calculate(ctx context.Context, corpus []token.Sequence, m phi.Mapping, cfg ...Config) (float64, error) {
	c := DefaultConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if len(corpus) == 0 {
		return 0, fmt.Errorf("%w: empty reference corpus", internalerr.ErrInvalidInput)
	}
	if m == nil {
		return 0, fmt.Errorf("%w: nil mapping", internalerr.ErrInvalidInput)
	}

	workers := c.Parallelism
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	outputs := make([][]float64, len(corpus))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k := range corpus {
		k := k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			y, err := m.Forward(corpus[k])
			if err != nil {
				return fmt.Errorf("phi forward on corpus sample %d: %w", k, err)
			}
			outputs[k] = y
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	dim := len(outputs[0])
	for k, y := range outputs {
		if len(y) != dim {
			return 0, fmt.Errorf("%w: phi output length %d for sample %d, expected %d",
				internalerr.ErrInvalidInput, len(y), k, dim)
		}
	}

	mean := make([]float64, dim)
	for _, y := range outputs {
		floats.Add(mean, y)
	}
	floats.Scale(1/float64(len(outputs)), mean)

	var total float64
	diff := make([]float64, dim)
	for _, y := range outputs {
		floats.SubTo(diff, y, mean)
		total += floats.Dot(diff, diff)
	}
	r := total / float64(len(outputs))

	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("%w: non-finite regularization", internalerr.ErrNumericInstability)
	}
	if r == 0 {
		return 0, fmt.Errorf("%w: phi is constant over the corpus, supply a manual regularization",
			internalerr.ErrDegenerateCorpus)
	}
	return r, nil
}
