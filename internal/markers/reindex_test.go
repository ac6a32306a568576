package markers

import (
	"math/rand"
	"testing"
)

func TestReindexAfterDelete(t *testing.T) {
	// Markers at [0,1,2] with starts [1000,5000,9000]; index 1 was deleted.
	ms := []Marker{
		{ID: 1, Start: 1000, End: 2000, Index: 0},
		{ID: 3, Start: 9000, End: 9500, Index: 2},
	}

	changes := Reindex(ms)

	if len(changes) != 1 || changes[0] != (IndexChange{ID: 3, Index: 1}) {
		t.Fatalf("unexpected changes: %+v", changes)
	}
	if ms[0].Index != 0 || ms[0].Start != 1000 || ms[1].Index != 1 || ms[1].Start != 9000 {
		t.Fatalf("unexpected order: %+v", ms)
	}
}

func TestReindexTiesUsePreviousIndex(t *testing.T) {
	ms := []Marker{
		{ID: 10, Start: 500, Index: 1},
		{ID: 11, Start: 500, Index: 0},
		{ID: 12, Start: 100, Index: 2},
	}

	Reindex(ms)

	want := []int64{12, 11, 10}
	for i, id := range want {
		if ms[i].ID != id || ms[i].Index != i {
			t.Fatalf("position %d: got id=%d index=%d, want id=%d index=%d", i, ms[i].ID, ms[i].Index, id, i)
		}
	}
}

func TestReindexContiguousAfterRandomEdits(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var ms []Marker
	nextID := int64(1)

	for step := 0; step < 500; step++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(ms) == 0:
			ms = append(ms, Marker{ID: nextID, Start: rng.Int63n(100000), Index: len(ms)})
			nextID++
		case op == 1:
			i := rng.Intn(len(ms))
			ms[i].Start = rng.Int63n(100000)
		default:
			i := rng.Intn(len(ms))
			ms = append(ms[:i], ms[i+1:]...)
		}

		Reindex(ms)

		seen := make(map[int]bool, len(ms))
		for i, m := range ms {
			if m.Index != i {
				t.Fatalf("step %d: marker %d has index %d at position %d", step, m.ID, m.Index, i)
			}
			if seen[m.Index] {
				t.Fatalf("step %d: duplicate index %d", step, m.Index)
			}
			seen[m.Index] = true
			if i > 0 && ms[i-1].Start > m.Start {
				t.Fatalf("step %d: not ordered by start: %d before %d", step, ms[i-1].Start, m.Start)
			}
		}
	}
}

func TestReindexNoChanges(t *testing.T) {
	ms := []Marker{{ID: 1, Start: 0, Index: 0}, {ID: 2, Start: 10, Index: 1}}
	if changes := Reindex(ms); len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
}
