package featured

import (
	"math/rand"
	"testing"
	"time"

	"github.com/mmeshcher/jobboard-system/internal/model"
)

func activePosting(id int64, flagged bool, createdAt time.Time) model.Posting {
	return model.Posting{
		ID:        id,
		Status:    model.PostingStatusActive,
		Featured:  flagged,
		CreatedAt: createdAt,
	}
}

func ids(postings []model.Posting) []int64 {
	res := make([]int64, 0, len(postings))
	for _, p := range postings {
		res = append(res, p.ID)
	}
	return res
}

func TestSelect_EnoughFlagged_StableOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	var pool []model.Posting
	for i := int64(1); i <= 6; i++ {
		pool = append(pool, activePosting(i, true, base.Add(time.Duration(i)*time.Hour)))
	}
	pool = append(pool, activePosting(100, false, base))

	first := Select(pool, Slots, rand.New(rand.NewSource(1)))
	if len(first) != Slots {
		t.Fatalf("len = %d, want %d", len(first), Slots)
	}

	// Новые первыми, без случайности при заполненной квоте.
	want := []int64{6, 5, 4, 3}
	for i, id := range ids(first) {
		if id != want[i] {
			t.Fatalf("ids = %v, want %v", ids(first), want)
		}
	}

	for seed := int64(2); seed < 10; seed++ {
		again := Select(pool, Slots, rand.New(rand.NewSource(seed)))
		for i, id := range ids(again) {
			if id != want[i] {
				t.Fatalf("selection with full quota must be stable, got %v", ids(again))
			}
		}
	}
}

func TestSelect_FillsFromPoolWithoutReplacement(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	pool := []model.Posting{activePosting(1, true, base)}
	for i := int64(10); i < 20; i++ {
		pool = append(pool, activePosting(i, false, base))
	}

	seen := make(map[int64]bool)

	for seed := int64(0); seed < 20; seed++ {
		res := Select(pool, Slots, rand.New(rand.NewSource(seed)))
		if len(res) != Slots {
			t.Fatalf("len = %d, want %d", len(res), Slots)
		}
		if res[0].ID != 1 {
			t.Fatalf("flagged posting must come first, got %v", ids(res))
		}

		dup := make(map[int64]bool)
		for _, p := range res[1:] {
			if p.Featured {
				t.Fatalf("filler slots must come from non-flagged pool")
			}
			if dup[p.ID] {
				t.Fatalf("duplicate id %d in selection %v", p.ID, ids(res))
			}
			dup[p.ID] = true
			seen[p.ID] = true
		}
	}

	// Ротация: за 20 запусков выборка должна задеть больше трёх разных вакансий.
	if len(seen) <= 3 {
		t.Fatalf("rotation expected, but only %d distinct fillers seen", len(seen))
	}
}

func TestSelect_PoolSmallerThanNeed(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	pool := []model.Posting{
		activePosting(1, true, base),
		activePosting(2, false, base),
	}

	res := Select(pool, Slots, rand.New(rand.NewSource(7)))
	if len(res) != 2 {
		t.Fatalf("len = %d, want 2", len(res))
	}
}

func TestSelect_IgnoresNonActive(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	expired := activePosting(1, true, base)
	expired.Status = model.PostingStatusExpired
	closed := activePosting(2, false, base)
	closed.Status = model.PostingStatusClosed

	res := Select([]model.Posting{expired, closed}, Slots, rand.New(rand.NewSource(1)))
	if len(res) != 0 {
		t.Fatalf("non-active postings selected: %v", ids(res))
	}
}

func TestSelect_DeterministicWithSeed(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	var pool []model.Posting
	for i := int64(1); i <= 10; i++ {
		pool = append(pool, activePosting(i, false, base))
	}

	a := Select(pool, Slots, rand.New(rand.NewSource(42)))
	b := Select(pool, Slots, rand.New(rand.NewSource(42)))

	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("same seed must give same selection: %v vs %v", ids(a), ids(b))
		}
	}
}
