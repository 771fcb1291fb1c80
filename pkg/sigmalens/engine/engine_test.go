package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/phi/linear"
	"github.com/cognicore/sigmalens/pkg/sigmalens/regularize"
	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

func randomSequence(rng *rand.Rand, n, d int) token.Sequence {
	seq := make(token.Sequence, n)
	for i := range seq {
		vec := make([]float64, d)
		for j := range vec {
			vec[j] = rng.Float64()*0.2 - 0.1
		}
		seq[i] = vec
	}
	return seq
}

func newTestInterpreter(t *testing.T, opts ...Option) *Interpreter {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	m, err := linear.New([]float64{1, -2, 3})
	if err != nil {
		t.Fatal(err)
	}
	it, err := New(randomSequence(rng, 3, 4), m, 2.5, 1.0, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return it
}

func TestNew_Validation(t *testing.T) {
	m, _ := linear.New([]float64{1})
	x := token.Sequence{{0.1, 0.2}}

	if _, err := New(token.Sequence{}, m, 1, 1); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("empty sequence: expected ErrInvalidInput, got %v", err)
	}
	if _, err := New(x, m, -1, 1); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("negative regularization: expected ErrInvalidInput, got %v", err)
	}
	if _, err := New(x, m, 1, 0); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("zero scale: expected ErrInvalidInput, got %v", err)
	}
	if _, err := New(x, m, 1, 1, WithWords([]string{"a", "b"})); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("word count mismatch: expected ErrInvalidInput, got %v", err)
	}
	if _, err := New(x, m, 1, 1, WithInitialSigma([]float64{-0.5})); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("negative initial sigma: expected ErrInvalidInput, got %v", err)
	}
	if _, err := New(x, m, 1, 1, WithInitialSigma([]float64{1, 1})); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("initial sigma length mismatch: expected ErrInvalidInput, got %v", err)
	}
}

func TestSigma_InitialValue(t *testing.T) {
	it := newTestInterpreter(t)

	sigma := it.Sigma()
	if len(sigma) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(sigma))
	}
	for i, s := range sigma {
		if math.Abs(s-0.5) > 1e-12 {
			t.Errorf("sigma[%d]: expected default 0.5, got %g", i, s)
		}
	}
	if it.State() != StateConstructed {
		t.Errorf("expected StateConstructed, got %v", it.State())
	}
}

func TestSigma_ReadIsIdempotentAndDetached(t *testing.T) {
	it := newTestInterpreter(t)

	a := it.Sigma()
	b := it.Sigma()
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("two reads differ at %d: %g vs %g", i, a[i], b[i])
		}
	}

	a[0] = 1e9
	if it.Sigma()[0] == 1e9 {
		t.Error("mutating the returned slice changed engine state")
	}
}

func TestOptimize_HyperparameterValidation(t *testing.T) {
	it := newTestInterpreter(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cfg  OptimizeConfig
	}{
		{"negative iterations", OptimizeConfig{Iterations: -1, LearningRate: 0.1, Samples: 1}},
		{"zero learning rate", OptimizeConfig{Iterations: 10, LearningRate: 0, Samples: 1}},
		{"zero samples", OptimizeConfig{Iterations: 10, LearningRate: 0.1, Samples: 0}},
	}
	for _, tc := range cases {
		if err := it.Optimize(ctx, tc.cfg); !errors.Is(err, internalerr.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestOptimize_ZeroIterationsIsValid(t *testing.T) {
	it := newTestInterpreter(t)

	before := it.Sigma()
	err := it.Optimize(context.Background(), OptimizeConfig{Iterations: 0, LearningRate: 0.1, Samples: 1})
	if err != nil {
		t.Fatal(err)
	}
	after := it.Sigma()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("zero iterations changed sigma[%d]", i)
		}
	}
}

func TestOptimize_SigmaStaysPositiveAndFinite(t *testing.T) {
	it := newTestInterpreter(t, WithSeed(9))

	err := it.Optimize(context.Background(), OptimizeConfig{
		Iterations:   200,
		LearningRate: 0.2,
		Samples:      2,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i, s := range it.Sigma() {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			t.Errorf("sigma[%d] = %g is not strictly positive and finite", i, s)
		}
	}
	if it.State() != StateConverged {
		t.Errorf("expected StateConverged, got %v", it.State())
	}
}

func TestOptimize_Reproducible(t *testing.T) {
	cfg := OptimizeConfig{Iterations: 50, LearningRate: 0.1, Samples: 2}

	a := newTestInterpreter(t, WithSeed(21))
	b := newTestInterpreter(t, WithSeed(21))

	if err := a.Optimize(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if err := b.Optimize(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	sa, sb := a.Sigma(), b.Sigma()
	for i := range sa {
		if sa[i] != sb[i] {
			t.Errorf("same seed diverged at sigma[%d]: %g vs %g", i, sa[i], sb[i])
		}
	}
}

func TestOptimize_Resumable(t *testing.T) {
	cfg := OptimizeConfig{Iterations: 30, LearningRate: 0.1, Samples: 1}
	it := newTestInterpreter(t, WithSeed(2))

	if err := it.Optimize(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	first := it.Sigma()

	if err := it.Optimize(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	second := it.Sigma()

	moved := false
	for i := range first {
		if first[i] != second[i] {
			moved = true
		}
	}
	if !moved {
		t.Error("second Optimize call did not continue training")
	}
}

func TestOptimize_ProgressCallback(t *testing.T) {
	it := newTestInterpreter(t)

	var steps int
	err := it.Optimize(context.Background(), OptimizeConfig{
		Iterations:   25,
		LearningRate: 0.1,
		Samples:      1,
		Progress: func(step int, loss float64) {
			if step != steps {
				t.Errorf("expected step %d, got %d", steps, step)
			}
			steps++
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if steps != 25 {
		t.Errorf("expected 25 progress calls, got %d", steps)
	}
}

// TestOptimize_LossDecreasesOnAverage compares the average loss early in
// training against the average late in training. The objective is
// stochastic, so individual steps regress, but the averages must improve.
func TestOptimize_LossDecreasesOnAverage(t *testing.T) {
	it := newTestInterpreter(t, WithSeed(31))

	var losses []float64
	err := it.Optimize(context.Background(), OptimizeConfig{
		Iterations:   300,
		LearningRate: 0.05,
		Samples:      4,
		Progress: func(step int, loss float64) {
			losses = append(losses, loss)
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	mean := func(xs []float64) float64 {
		total := 0.0
		for _, x := range xs {
			total += x
		}
		return total / float64(len(xs))
	}
	early := mean(losses[:50])
	late := mean(losses[len(losses)-50:])

	if late >= early {
		t.Errorf("average loss did not improve: early %g, late %g", early, late)
	}
}

type failAfterMapping struct {
	inner   *linear.Mapping
	calls   int
	failOn  int
	failErr error
}

func (m *failAfterMapping) Forward(x token.Sequence) ([]float64, error) {
	m.calls++
	if m.calls > m.failOn {
		return nil, m.failErr
	}
	return m.inner.Forward(x)
}

func (m *failAfterMapping) VJP(x token.Sequence, ct []float64) (token.Sequence, error) {
	return m.inner.VJP(x, ct)
}

func TestOptimize_PhiFailureLeavesSigmaUncommitted(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	inner, _ := linear.New([]float64{1, -2, 3})
	sentinel := errors.New("host model shape mismatch")
	// Construction evaluates Φ once on the clean sequence, then each step
	// with Samples=1 evaluates it once more. failOn=6 lets construction
	// plus 5 steps succeed and fails the first step of the second call.
	m := &failAfterMapping{inner: inner, failOn: 6, failErr: sentinel}

	it, err := New(randomSequence(rng, 3, 4), m, 2.5, 1.0, WithSeed(4))
	if err != nil {
		t.Fatal(err)
	}

	if err := it.Optimize(context.Background(), OptimizeConfig{Iterations: 5, LearningRate: 0.1, Samples: 1}); err != nil {
		t.Fatal(err)
	}
	before := it.Sigma()

	err = it.Optimize(context.Background(), OptimizeConfig{Iterations: 100, LearningRate: 0.1, Samples: 1})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the phi error to propagate, got %v", err)
	}

	after := it.Sigma()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("failed step committed a sigma change at %d: %g -> %g", i, before[i], after[i])
		}
	}
}

// TestOptimize_ScaleSensitivity is the core semantic property: for a
// fixed-weight linear Φ, heavily-weighted tokens must end up with smaller
// noise tolerance than lightly-weighted tokens.
func TestOptimize_ScaleSensitivity(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	weights := []float64{10, 20, 5, -20, -10}
	m, err := linear.New(weights)
	if err != nil {
		t.Fatal(err)
	}

	x := randomSequence(rng, 5, 8)

	corpus := make([]token.Sequence, 64)
	for k := range corpus {
		corpus[k] = randomSequence(rng, 5, 8)
	}
	reg, err := regularize.Calculate(context.Background(), corpus, m)
	if err != nil {
		t.Fatal(err)
	}

	it, err := New(x, m, reg, 1.0, WithSeed(99))
	if err != nil {
		t.Fatal(err)
	}

	err = it.Optimize(context.Background(), OptimizeConfig{
		Iterations:   600,
		LearningRate: 0.05,
		Samples:      8,
	})
	if err != nil {
		t.Fatal(err)
	}

	sigma := it.Sigma()
	heavy := []int{1, 3} // weights ±20
	light := []int{0, 2, 4}
	for _, h := range heavy {
		for _, l := range light {
			if sigma[h] >= sigma[l] {
				t.Errorf("token %d (|w|=%g) should tolerate less noise than token %d (|w|=%g): σ=%g vs σ=%g",
					h, math.Abs(weights[h]), l, math.Abs(weights[l]), sigma[h], sigma[l])
			}
		}
	}
}
