package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
)

// Run holds the hyperparameters of one interpretation run.
type Run struct {
	// Scale is the external noise-amplitude multiplier, chosen by the
	// caller to reflect the natural spread of the representation space.
	Scale float64 `yaml:"scale"`
	// Iterations is the number of gradient steps.
	Iterations int `yaml:"iterations"`
	// LearningRate is the step size on log σ.
	LearningRate float64 `yaml:"learning_rate"`
	// Samples is the Monte-Carlo sample count per step.
	Samples int `yaml:"samples"`
	// Seed fixes the noise stream for reproducible runs.
	Seed uint64 `yaml:"seed"`
	// SigmaInit is the starting value for every noise scale.
	SigmaInit float64 `yaml:"sigma_init"`
	// Regularization, when positive, bypasses corpus estimation and is
	// used directly. Required when Φ is constant over the corpus.
	Regularization float64 `yaml:"regularization"`
}

// DefaultRun returns sensible defaults for everything but Scale, which is
// application-specific and must be set by the caller.
func DefaultRun() Run {
	return Run{
		Scale:        1.0,
		Iterations:   1000,
		LearningRate: 0.05,
		Samples:      1,
		Seed:         0,
		SigmaInit:    0.5,
	}
}

// LoadRun reads a run configuration from a YAML file. Fields omitted in
// the file keep their defaults.
func LoadRun(path string) (Run, error) {
	run := DefaultRun()

	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, err
	}
	if err := yaml.Unmarshal(data, &run); err != nil {
		return Run{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := run.Validate(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Validate rejects hyperparameters the engine would refuse anyway, so the
// failure surfaces at load time rather than mid-run.
func (r Run) Validate() error {
	if r.Scale <= 0 {
		return fmt.Errorf("%w: scale must be positive, got %g", internalerr.ErrInvalidConfig, r.Scale)
	}
	if r.Iterations < 0 {
		return fmt.Errorf("%w: negative iterations %d", internalerr.ErrInvalidConfig, r.Iterations)
	}
	if r.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", internalerr.ErrInvalidConfig, r.LearningRate)
	}
	if r.Samples < 1 {
		return fmt.Errorf("%w: samples must be at least 1, got %d", internalerr.ErrInvalidConfig, r.Samples)
	}
	if r.SigmaInit <= 0 {
		return fmt.Errorf("%w: sigma_init must be positive, got %g", internalerr.ErrInvalidConfig, r.SigmaInit)
	}
	if r.Regularization < 0 {
		return fmt.Errorf("%w: negative regularization %g", internalerr.ErrInvalidConfig, r.Regularization)
	}
	return nil
}
