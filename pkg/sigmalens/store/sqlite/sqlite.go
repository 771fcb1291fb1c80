package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// Open opens a SQLite database with WAL mode enabled and the runs schema
// initialized.
func Open(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	words TEXT,
	sigma TEXT NOT NULL,
	scale REAL NOT NULL,
	regularization REAL NOT NULL,
	iterations INTEGER NOT NULL,
	learning_rate REAL NOT NULL,
	samples INTEGER NOT NULL,
	seed INTEGER NOT NULL,
	final_loss REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or overwrites a run, keyed by ID.
func (s *sqliteStore) SaveRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty run id", internalerr.ErrInvalidInput)
	}

	var wordsJSON []byte
	if r.Words != nil {
		b, err := json.Marshal(r.Words)
		if err != nil {
			return err
		}
		wordsJSON = b
	}
	sigmaJSON, err := json.Marshal(r.Sigma)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs (id, created_at, words, sigma, scale, regularization,
	iterations, learning_rate, samples, seed, final_loss)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	created_at=excluded.created_at,
	words=excluded.words,
	sigma=excluded.sigma,
	scale=excluded.scale,
	regularization=excluded.regularization,
	iterations=excluded.iterations,
	learning_rate=excluded.learning_rate,
	samples=excluded.samples,
	seed=excluded.seed,
	final_loss=excluded.final_loss`,
		r.ID, r.CreatedAt.UTC().Format(time.RFC3339Nano), nullableString(wordsJSON),
		string(sigmaJSON), r.Scale, r.Regularization, r.Iterations,
		r.LearningRate, r.Samples, int64(r.Seed), r.FinalLoss)
	return err
}

// GetRun returns a run by ID.
func (s *sqliteStore) GetRun(ctx context.Context, id string) (store.Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, created_at, words, sigma, scale, regularization,
	iterations, learning_rate, samples, seed, final_loss
FROM runs WHERE id = ?`, id)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, fmt.Errorf("%w: run %s", internalerr.ErrNotFound, id)
	}
	return r, err
}

// ListRuns returns runs newest first.
func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	q := `
SELECT id, created_at, words, sigma, scale, regularization,
	iterations, learning_rate, samples, seed, final_loss
FROM runs ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scannable) (store.Run, error) {
	var (
		r         store.Run
		createdAt string
		words     sql.NullString
		sigma     string
		seed      int64
	)
	err := row.Scan(&r.ID, &createdAt, &words, &sigma, &r.Scale, &r.Regularization,
		&r.Iterations, &r.LearningRate, &r.Samples, &seed, &r.FinalLoss)
	if err != nil {
		return store.Run{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return store.Run{}, err
	}
	r.CreatedAt = t
	r.Seed = uint64(seed)

	if words.Valid && words.String != "" {
		if err := json.Unmarshal([]byte(words.String), &r.Words); err != nil {
			return store.Run{}, err
		}
	}
	if err := json.Unmarshal([]byte(sigma), &r.Sigma); err != nil {
		return store.Run{}, err
	}
	return r, nil
}

func nullableString(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
