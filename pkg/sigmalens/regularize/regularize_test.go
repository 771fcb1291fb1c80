package regularize

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

// sumMapping returns the componentwise sum of all token vectors.
type sumMapping struct{}

func (sumMapping) Forward(x token.Sequence) ([]float64, error) {
	out := make([]float64, x.Dim())
	for _, vec := range x {
		for j, v := range vec {
			out[j] += v
		}
	}
	return out, nil
}

func (sumMapping) VJP(x token.Sequence, ct []float64) (token.Sequence, error) {
	grads := make(token.Sequence, x.Len())
	for i := range grads {
		g := make([]float64, len(ct))
		copy(g, ct)
		grads[i] = g
	}
	return grads, nil
}

// constMapping ignores its input entirely.
type constMapping struct{}

func (constMapping) Forward(x token.Sequence) ([]float64, error) {
	return []float64{3.25}, nil
}

func (constMapping) VJP(x token.Sequence, ct []float64) (token.Sequence, error) {
	grads := make(token.Sequence, x.Len())
	for i := range grads {
		grads[i] = make([]float64, x.Dim())
	}
	return grads, nil
}

func TestCalculate_EmptyCorpus(t *testing.T) {
	_, err := Calculate(context.Background(), nil, sumMapping{})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty corpus, got %v", err)
	}
}

func TestCalculate_ConstantMapping(t *testing.T) {
	corpus := []token.Sequence{
		{{1, 2}},
		{{3, 4}},
	}

	_, err := Calculate(context.Background(), corpus, constMapping{})
	if !errors.Is(err, internalerr.ErrDegenerateCorpus) {
		t.Errorf("expected ErrDegenerateCorpus for constant phi, got %v", err)
	}
}

func TestCalculate_KnownVariance(t *testing.T) {
	// Outputs are [1] and [3]; mean 2; variance ((1)² + (1)²)/2 = 1.
	corpus := []token.Sequence{
		{{1}},
		{{3}},
	}

	r, err := Calculate(context.Background(), corpus, sumMapping{})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(r-1) > 1e-12 {
		t.Errorf("expected r=1, got %g", r)
	}
}

func TestCalculate_DeterministicAcrossParallelism(t *testing.T) {
	corpus := make([]token.Sequence, 50)
	for k := range corpus {
		corpus[k] = token.Sequence{{float64(k), float64(k * k)}}
	}

	serial, err := Calculate(context.Background(), corpus, sumMapping{}, Config{Parallelism: 1})
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := Calculate(context.Background(), corpus, sumMapping{}, Config{Parallelism: 8})
	if err != nil {
		t.Fatal(err)
	}

	if serial != parallel {
		t.Errorf("parallelism changed the result: %g vs %g", serial, parallel)
	}
}

type failingMapping struct{}

func (failingMapping) Forward(x token.Sequence) ([]float64, error) {
	return nil, errors.New("shape mismatch in host model")
}

func (failingMapping) VJP(x token.Sequence, ct []float64) (token.Sequence, error) {
	return nil, errors.New("shape mismatch in host model")
}

func TestCalculate_PhiErrorPropagates(t *testing.T) {
	corpus := []token.Sequence{{{1}}}

	_, err := Calculate(context.Background(), corpus, failingMapping{})
	if err == nil {
		t.Fatal("expected phi error to propagate")
	}
}
