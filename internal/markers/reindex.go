package markers

import (
	"cmp"
	"slices"
)

// IndexChange is a marker whose index must be rewritten.
type IndexChange struct {
	ID    int64
	Index int
}

// Reindex orders one parent's markers by start time (ties by previous index,
// then id) and assigns indices 0..n-1. The input slice is sorted in place and
// updated; only markers whose index moved are returned.
func Reindex(ms []Marker) []IndexChange {
	slices.SortStableFunc(ms, func(a, b Marker) int {
		return cmp.Or(
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(a.Index, b.Index),
			cmp.Compare(a.ID, b.ID),
		)
	})

	var changes []IndexChange
	for i := range ms {
		if ms[i].Index != i {
			changes = append(changes, IndexChange{ID: ms[i].ID, Index: i})
			ms[i].Index = i
		}
	}
	return changes
}

// GroupByParent buckets markers by their parent item.
func GroupByParent(ms []Marker) map[int64][]Marker {
	out := make(map[int64][]Marker)
	for _, m := range ms {
		out[m.ParentID] = append(out[m.ParentID], m)
	}
	return out
}

// Counts returns how many intro and credits markers ms holds.
func Counts(ms []Marker) (intros, credits int) {
	for _, m := range ms {
		switch m.Type {
		case TypeIntro:
			intros++
		case TypeCredits:
			credits++
		}
	}
	return intros, credits
}
