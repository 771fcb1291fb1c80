package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cognicore/sigmalens/pkg/sigmalens/internalerr"
	"github.com/cognicore/sigmalens/pkg/sigmalens/store"
)

func testRun(id string, created time.Time) store.Run {
	return store.Run{
		ID:             id,
		CreatedAt:      created,
		Words:          []string{"a", "b"},
		Sigma:          []float64{0.1, 0.9},
		Scale:          1.5,
		Regularization: 2.0,
		Iterations:     100,
		LearningRate:   0.05,
		Samples:        4,
		Seed:           7,
		FinalLoss:      -1.25,
	}
}

func TestSaveRun_EmptyID(t *testing.T) {
	s := New()
	defer s.Close()

	err := s.SaveRun(context.Background(), store.Run{})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetRun_RoundTrip(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	want := testRun("run-1", time.Now().UTC())
	if err := s.SaveRun(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != want.ID || got.FinalLoss != want.FinalLoss || got.Seed != want.Seed {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if len(got.Sigma) != 2 || got.Sigma[1] != 0.9 {
		t.Errorf("sigma mismatch: %v", got.Sigma)
	}
	if len(got.Words) != 2 || got.Words[0] != "a" {
		t.Errorf("words mismatch: %v", got.Words)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRun_DetachedCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SaveRun(ctx, testRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRun(ctx, "run-1")
	got.Sigma[0] = 99

	again, _ := s.GetRun(ctx, "run-1")
	if again.Sigma[0] == 99 {
		t.Error("mutating a returned run changed stored state")
	}
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.SaveRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("unexpected order: %s, %s", runs[0].ID, runs[1].ID)
	}
}
