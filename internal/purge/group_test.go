package purge

import (
	"math/rand"
	"testing"

	"github.com/goccy/go-json"

	"github.com/treefix50/markerguard/internal/markers"
)

var (
	tvSection    = markers.Section{ID: 1, Name: "TV", Type: markers.SectionShow}
	movieSection = markers.Section{ID: 2, Name: "Movies", Type: markers.SectionMovie}
)

func episodeAction(markerID, episode, season, show int64) markers.Action {
	return markers.Action{
		ID:         markerID * 10,
		Kind:       markers.ActionAdd,
		MarkerID:   markerID,
		MarkerType: markers.TypeIntro,
		Start:      markerID * 100,
		End:        markerID*100 + 50,
		Chain:      markers.Chain{ParentID: episode, SeasonID: season, ShowID: show, SectionID: tvSection.ID},
	}
}

// checkCounts verifies every node's count equals the sum below it and that no
// empty non-retained node is attached.
func checkCounts(t *testing.T, g *Group) int {
	t.Helper()
	if g.IsLeaf() {
		if g.count != len(g.actions) {
			t.Fatalf("%s %d: count %d, holds %d actions", g.kind, g.id, g.count, len(g.actions))
		}
		return g.count
	}
	sum := 0
	for _, c := range g.children {
		if c.parent != g {
			t.Fatalf("%s %d: broken parent pointer", c.kind, c.id)
		}
		if c.count == 0 && !behaviours[c.kind].retainEmpty {
			t.Fatalf("%s %d: empty node still attached", c.kind, c.id)
		}
		sum += checkCounts(t, c)
	}
	if g.count != sum {
		t.Fatalf("%s %d: count %d, children sum %d", g.kind, g.id, g.count, sum)
	}
	return sum
}

func TestGetOrAddPanicsOnLeaf(t *testing.T) {
	leaf := NewCache().root.GetOrAdd(1).GetOrAdd(2).GetOrAdd(3).GetOrAdd(4)
	if !leaf.IsLeaf() || leaf.Kind() != KindEpisode {
		t.Fatalf("expected episode leaf, got %s", leaf.Kind())
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("GetOrAdd on a leaf did not panic")
		}
	}()
	leaf.GetOrAdd(5)
}

func TestSectionChildKindFollowsLibraryType(t *testing.T) {
	c := NewCache()
	if k := c.sectionLocked(tvSection).GetOrAdd(7).Kind(); k != KindShow {
		t.Fatalf("tv section child kind = %s", k)
	}
	if k := c.sectionLocked(movieSection).GetOrAdd(7).Kind(); k != KindMovie {
		t.Fatalf("movie section child kind = %s", k)
	}
}

func TestUpdateCountRejectsNegative(t *testing.T) {
	c := NewCache()
	if err := c.addLocked(tvSection, episodeAction(1, 10, 20, 30)); err != nil {
		t.Fatalf("add: %v", err)
	}
	leaf := c.byMarker[1]
	if err := leaf.UpdateCount(-2); err == nil {
		t.Fatalf("expected error for negative count")
	}
	if leaf.Count() != 1 || c.root.Count() != 1 {
		t.Fatalf("failed update changed counts: leaf=%d root=%d", leaf.Count(), c.root.Count())
	}
}

func TestRemoveActionPrunesToSection(t *testing.T) {
	c := NewCache()
	if err := c.addLocked(tvSection, episodeAction(1, 10, 20, 30)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := c.removeLocked(1); !ok {
		t.Fatalf("remove reported missing marker")
	}
	section := c.root.Child(tvSection.ID)
	if section == nil {
		t.Fatalf("section must survive at zero")
	}
	if len(section.children) != 0 || section.Count() != 0 {
		t.Fatalf("show not pruned: %d children, count %d", len(section.children), section.Count())
	}
}

func TestCountInvariantUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	c := NewCache()
	present := map[int64]bool{}

	for step := 0; step < 1000; step++ {
		markerID := int64(rng.Intn(60) + 1)
		if present[markerID] && rng.Intn(2) == 0 {
			c.removeLocked(markerID)
			delete(present, markerID)
		} else {
			show := int64(300 + rng.Intn(3))
			season := show*10 + int64(rng.Intn(2))
			episode := season*10 + int64(rng.Intn(3))
			var err error
			if rng.Intn(4) == 0 {
				a := episodeAction(markerID, 900+int64(rng.Intn(5)), 0, 0)
				a.SectionID = movieSection.ID
				err = c.addLocked(movieSection, a)
			} else {
				err = c.addLocked(tvSection, episodeAction(markerID, episode, season, show))
			}
			if err != nil {
				t.Fatalf("step %d: add: %v", step, err)
			}
			present[markerID] = true
		}
		if got := checkCounts(t, c.root); got != len(present) {
			t.Fatalf("step %d: tree holds %d, want %d", step, got, len(present))
		}
	}
}

func TestDeepCloneIsIndependent(t *testing.T) {
	c := NewCache()
	for i := int64(1); i <= 3; i++ {
		if err := c.addLocked(tvSection, episodeAction(i, 10+i, 20, 30)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	original := c.root.Child(tvSection.ID)
	clone := original.DeepClone()

	if clone.Parent() != nil {
		t.Fatalf("clone root kept its parent")
	}
	c.removeLocked(1)
	if clone.Count() != 3 || original.Count() != 2 {
		t.Fatalf("clone not independent: clone=%d original=%d", clone.Count(), original.Count())
	}
	season := clone.Child(30).Child(20)
	if season.Parent() != clone.Child(30) || season.Parent().Parent() != clone {
		t.Fatalf("clone parent pointers leak into original tree")
	}
	checkCounts(t, clone)
}

func TestGroupJSONUsesChildKindKeys(t *testing.T) {
	c := NewCache()
	if err := c.addLocked(tvSection, episodeAction(1, 10, 20, 30)); err != nil {
		t.Fatalf("add: %v", err)
	}
	raw, err := json.Marshal(c.root.Child(tvSection.ID))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	shows, ok := out["shows"].(map[string]any)
	if !ok {
		t.Fatalf("missing shows key: %s", raw)
	}
	show := shows["30"].(map[string]any)
	seasons := show["seasons"].(map[string]any)
	episodes := seasons["20"].(map[string]any)["episodes"].(map[string]any)
	if _, ok := episodes["10"].(map[string]any)["markers"]; !ok {
		t.Fatalf("episode leaf missing markers: %s", raw)
	}
	if out["status"] != "uninitialized" {
		t.Fatalf("unexpected status %v", out["status"])
	}
}
