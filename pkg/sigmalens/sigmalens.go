package sigmalens

import (
	"context"
	"time"

	"github.com/cognicore/sigmalens/pkg/sigmalens/config"
	"github.com/cognicore/sigmalens/pkg/sigmalens/engine"
	"github.com/cognicore/sigmalens/pkg/sigmalens/phi"
	"github.com/cognicore/sigmalens/pkg/sigmalens/regularize"
	"github.com/cognicore/sigmalens/pkg/sigmalens/report"
	"github.com/cognicore/sigmalens/pkg/sigmalens/store"
	"github.com/cognicore/sigmalens/pkg/sigmalens/token"
)

// Lens is the main interpretation facade: it wires regularization
// estimation, the optimization engine, report building and optional run
// persistence into one call.
type Lens struct {
	cfg     config.Run
	store   store.Store // may be nil
	builder *report.Builder
}

// Options configures a Lens instance
type Options struct {
	Config config.Run
	Store  store.Store // optional; nil disables persistence
}

// New creates a Lens with the given dependencies
func New(opts Options) *Lens {
	return &Lens{
		cfg:     opts.Config,
		store:   opts.Store,
		builder: report.New(),
	}
}

// Close cleanly shuts down the Lens instance
func (l *Lens) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// Request describes one interpretation run.
type Request struct {
	// Tokens is the sequence under interpretation.
	Tokens token.Sequence
	// Words are optional labels, index-aligned with Tokens.
	Words []string
	// Mapping is the model-internal function Φ.
	Mapping phi.Mapping
	// Corpus is the reference corpus for regularization estimation.
	// Ignored when the configured Regularization is positive.
	Corpus []token.Sequence
	// Progress, when non-nil, receives each committed step and its loss.
	Progress func(step int, loss float64)
}

// Interpret runs the full pipeline: estimate the regularization scalar
// (unless configured manually), learn the per-token noise scales, build
// the saliency report and, when a store is attached, persist the run.
func (l *Lens) Interpret(ctx context.Context, req Request) (report.Report, error) {
	reg := l.cfg.Regularization
	if reg <= 0 {
		var err error
		reg, err = regularize.Calculate(ctx, req.Corpus, req.Mapping)
		if err != nil {
			return report.Report{}, err
		}
	}

	initial := make([]float64, req.Tokens.Len())
	for i := range initial {
		initial[i] = l.cfg.SigmaInit
	}

	opts := []engine.Option{
		engine.WithSeed(l.cfg.Seed),
		engine.WithInitialSigma(initial),
	}
	if req.Words != nil {
		opts = append(opts, engine.WithWords(req.Words))
	}

	eng, err := engine.New(req.Tokens, req.Mapping, reg, l.cfg.Scale, opts...)
	if err != nil {
		return report.Report{}, err
	}

	err = eng.Optimize(ctx, engine.OptimizeConfig{
		Iterations:   l.cfg.Iterations,
		LearningRate: l.cfg.LearningRate,
		Samples:      l.cfg.Samples,
		Progress:     req.Progress,
	})
	if err != nil {
		return report.Report{}, err
	}

	rep, err := l.builder.Build(req.Words, eng.Sigma())
	if err != nil {
		return report.Report{}, err
	}

	if l.store != nil {
		run := store.Run{
			ID:             rep.ID,
			CreatedAt:      time.Now().UTC(),
			Words:          req.Words,
			Sigma:          eng.Sigma(),
			Scale:          l.cfg.Scale,
			Regularization: reg,
			Iterations:     l.cfg.Iterations,
			LearningRate:   l.cfg.LearningRate,
			Samples:        l.cfg.Samples,
			Seed:           l.cfg.Seed,
			FinalLoss:      eng.LastLoss(),
		}
		if err := l.store.SaveRun(ctx, run); err != nil {
			return report.Report{}, err
		}
	}

	return rep, nil
}
