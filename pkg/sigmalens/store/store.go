package store

import (
	"context"
	"time"
)

// Store persists completed interpretation runs so learned noise scales can
// be compared across inputs, mappings and hyperparameter settings.
type Store interface {
	Close() error

	// SaveRun persists one finished run. The ID must be unique; saving an
	// existing ID overwrites the previous record.
	SaveRun(ctx context.Context, r Run) error

	// GetRun returns a run by ID, or an error wrapping
	// internalerr.ErrNotFound.
	GetRun(ctx context.Context, id string) (Run, error)

	// ListRuns returns up to limit runs, newest first. limit <= 0 means
	// no limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Run is a persisted interpretation result: the converged noise scales
// plus everything needed to reproduce or compare the run.
type Run struct {
	ID        string
	CreatedAt time.Time

	Words []string  // may be nil
	Sigma []float64 // index-aligned with Words

	Scale          float64
	Regularization float64
	Iterations     int
	LearningRate   float64
	Samples        int
	Seed           uint64
	FinalLoss      float64
}
