package noise

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

// Reparameterizer owns the randomness of the optimization. It draws the
// standard-normal tensors z and applies the deterministic perturbation
//
//	x'_i = x_i + scale · σ_i · z_i
//
// Keeping the randomness isolated in z is the reparameterization trick:
// gradients of a downstream loss reach σ through the deterministic multiply,
// never through the sampling step itself.
type Reparameterizer struct {
	normal distuv.Normal
}

// New creates a reparameterizer with its own seeded noise stream. Two
// reparameterizers constructed with the same seed produce identical draws.
func New(seed uint64) *Reparameterizer {
	return &Reparameterizer{
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)},
	}
}

// Draw returns count independent standard-normal tensors, each shaped like
// an n-token sequence of dimension d. Fresh randomness on every call; no
// state persists beyond the advancing stream position.
func (r *Reparameterizer) Draw(n, d, count int) []token.Sequence {
	draws := make([]token.Sequence, count)
	for s := 0; s < count; s++ {
		z := make(token.Sequence, n)
		for i := 0; i < n; i++ {
			vec := make([]float64, d)
			for j := 0; j < d; j++ {
				vec[j] = r.normal.Rand()
			}
			z[i] = vec
		}
		draws[s] = z
	}
	return draws
}

// Perturb applies the reparameterized noise to a sequence. The inputs are
// read-only; the result is freshly allocated. Given fixed z this is a pure
// function of σ, which is what lets the objective differentiate through it.
func Perturb(x token.Sequence, sigma []float64, scale float64, z token.Sequence) token.Sequence {
	out := make(token.Sequence, x.Len())
	for i := range x {
		vec := make([]float64, len(x[i]))
		amp := scale * sigma[i]
		for j := range vec {
			vec[j] = x[i][j] + amp*z[i][j]
		}
		out[i] = vec
	}
	return out
}
