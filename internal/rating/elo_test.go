package rating

import (
	"context"
	"errors"
	"testing"
)

type memRepo struct {
	ratings map[string]int
	failGet map[string]bool
	writes  int
}

func newMemRepo() *memRepo {
	return &memRepo{ratings: make(map[string]int), failGet: make(map[string]bool)}
}

func (r *memRepo) GetRating(_ context.Context, userID string) (int, error) {
	if r.failGet[userID] {
		return 0, errors.New("read failed")
	}
	if v, ok := r.ratings[userID]; ok {
		return v, nil
	}
	return DefaultRating, nil
}

func (r *memRepo) SetRating(_ context.Context, userID string, rating int) error {
	r.writes++
	r.ratings[userID] = rating
	return nil
}

func TestExpectedSymmetry(t *testing.T) {
	a := Expected(1200, 1400)
	b := Expected(1400, 1200)
	if diff := a + b - 1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected scores do not sum to 1: %f + %f", a, b)
	}
}

func TestUpdateEqualRatingsWin(t *testing.T) {
	w, b := Update(1200, 1200, "white")
	if w != 1216 || b != 1184 {
		t.Fatalf("unexpected update: white=%d black=%d", w, b)
	}
}

func TestUpdateDrawUnevenRatings(t *testing.T) {
	w, b := Update(1400, 1200, "draw")
	// Higher-rated side loses points on a draw.
	if w >= 1400 || b <= 1200 {
		t.Fatalf("unexpected draw update: white=%d black=%d", w, b)
	}
	if (w - 1400) != -(b - 1200) {
		t.Fatalf("draw deltas not symmetric: white=%d black=%d", w, b)
	}
}

func TestApplyResultPersistsBoth(t *testing.T) {
	repo := newMemRepo()
	repo.ratings["w"] = 1300
	repo.ratings["b"] = 1250

	svc := NewService(repo)
	if err := svc.ApplyResult(context.Background(), "w", "b", "black"); err != nil {
		t.Fatalf("ApplyResult: %v", err)
	}
	ew, eb := Update(1300, 1250, "black")
	if repo.ratings["w"] != ew || repo.ratings["b"] != eb {
		t.Fatalf("persisted ratings mismatch: got w=%d b=%d want w=%d b=%d",
			repo.ratings["w"], repo.ratings["b"], ew, eb)
	}
}

func TestApplyResultAbortsOnReadFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failGet["b"] = true

	svc := NewService(repo)
	if err := svc.ApplyResult(context.Background(), "w", "b", "white"); err == nil {
		t.Fatalf("expected error when a rating read fails")
	}
	if repo.writes != 0 {
		t.Fatalf("partial write happened: %d writes", repo.writes)
	}
}

func TestPenalizeOnlyTarget(t *testing.T) {
	repo := newMemRepo()
	repo.ratings["quitter"] = 1200
	repo.ratings["opponent"] = 1200

	svc := NewService(repo)
	delta, err := svc.Penalize(context.Background(), "quitter", AbandonPenalty)
	if err != nil {
		t.Fatalf("Penalize: %v", err)
	}
	if delta != -AbandonPenalty {
		t.Fatalf("unexpected delta %d", delta)
	}
	if repo.ratings["quitter"] != 1200-AbandonPenalty {
		t.Fatalf("penalty not applied: %d", repo.ratings["quitter"])
	}
	if repo.ratings["opponent"] != 1200 {
		t.Fatalf("opponent rating touched: %d", repo.ratings["opponent"])
	}
}
