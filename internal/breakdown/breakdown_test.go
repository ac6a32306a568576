package breakdown

import (
	"math/rand"
	"testing"

	"github.com/treefix50/markerguard/internal/markers"
)

func episodeChain(id, season int64) markers.Chain {
	return markers.Chain{ParentID: id, SeasonID: season, ShowID: 100, SectionID: 1}
}

func TestKeyPacking(t *testing.T) {
	k := KeyOf(3, 2)
	if k.Intros() != 3 || k.Credits() != 2 {
		t.Fatalf("unexpected unpack: %d %d", k.Intros(), k.Credits())
	}
	if next := Key(int(k) + DeltaFor(markers.TypeCredits, -1)); next != KeyOf(3, 1) {
		t.Fatalf("credits delta produced %d", next)
	}
	if next := Key(int(k) + DeltaFor(markers.TypeIntro, 1)); next != KeyOf(4, 2) {
		t.Fatalf("intro delta produced %d", next)
	}
}

func TestUpdateMovesBetweenBuckets(t *testing.T) {
	c := New()
	c.Rebuild(1, []markers.ItemCount{
		{Chain: episodeChain(10, 200), Intros: 1},
		{Chain: episodeChain(11, 200), Intros: 1},
		{Chain: episodeChain(12, 201)},
	})

	c.Update(episodeChain(10, 200), KeyOf(1, 0), DeltaFor(markers.TypeCredits, 1))

	b, ok := c.Breakdown(markers.LevelSeason, 200)
	if !ok {
		t.Fatalf("season breakdown missing")
	}
	if b[KeyOf(1, 0)] != 1 || b[KeyOf(1, 1)] != 1 || len(b) != 2 {
		t.Fatalf("unexpected season buckets: %v", b)
	}

	c.Update(episodeChain(11, 200), KeyOf(1, 0), DeltaFor(markers.TypeIntro, -1))
	b, _ = c.Breakdown(markers.LevelSeason, 200)
	if _, ok := b[KeyOf(1, 0)]; ok {
		t.Fatalf("empty bucket not pruned: %v", b)
	}
	section, _ := c.Breakdown(markers.LevelSection, 1)
	if section[KeyOf(0, 0)] != 2 || section[KeyOf(1, 1)] != 1 {
		t.Fatalf("unexpected section buckets: %v", section)
	}
}

func TestUpdateIgnoresUnbuiltSection(t *testing.T) {
	c := New()
	c.Update(markers.Chain{ParentID: 5, SectionID: 9}, KeyOf(0, 0), DeltaFor(markers.TypeIntro, 1))
	if c.Built(9) {
		t.Fatalf("update must not build a section")
	}
	if _, ok := c.Breakdown(markers.LevelSection, 9); ok {
		t.Fatalf("unexpected breakdown for unbuilt section")
	}
}

func TestMoviesOnlyCountAtSection(t *testing.T) {
	c := New()
	movie := markers.Chain{ParentID: 50, SectionID: 2}
	c.Rebuild(2, []markers.ItemCount{{Chain: movie, Credits: 1}})
	c.Update(movie, KeyOf(0, 1), DeltaFor(markers.TypeIntro, 1))

	b, _ := c.Breakdown(markers.LevelSection, 2)
	if b[KeyOf(1, 1)] != 1 || len(b) != 1 {
		t.Fatalf("unexpected movie buckets: %v", b)
	}
	if _, ok := c.Breakdown(markers.LevelShow, 0); ok {
		t.Fatalf("movies must not create show buckets")
	}
}

func TestRebuildReplacesSection(t *testing.T) {
	c := New()
	c.Rebuild(1, []markers.ItemCount{{Chain: episodeChain(10, 200)}, {Chain: episodeChain(11, 201)}})
	c.Rebuild(1, []markers.ItemCount{{Chain: episodeChain(10, 200), Intros: 2}})

	if _, ok := c.Breakdown(markers.LevelSeason, 201); ok {
		t.Fatalf("stale season survived rebuild")
	}
	if c.Total(markers.LevelSection, 1) != 1 {
		t.Fatalf("unexpected total: %d", c.Total(markers.LevelSection, 1))
	}
}

func TestBucketSumMatchesItemCount(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	type item struct {
		chain           markers.Chain
		intros, credits int
	}
	var items []*item
	var counts []markers.ItemCount
	for i := 0; i < 40; i++ {
		it := &item{chain: episodeChain(int64(1000+i), int64(200+i%4)), intros: rng.Intn(2), credits: rng.Intn(2)}
		items = append(items, it)
		counts = append(counts, markers.ItemCount{Chain: it.chain, Intros: it.intros, Credits: it.credits})
	}

	c := New()
	c.Rebuild(1, counts)

	check := func(step int) {
		t.Helper()
		if got := c.Total(markers.LevelSection, 1); got != len(items) {
			t.Fatalf("step %d: section total %d, want %d", step, got, len(items))
		}
		if got := c.Total(markers.LevelShow, 100); got != len(items) {
			t.Fatalf("step %d: show total %d, want %d", step, got, len(items))
		}
		for s := int64(200); s < 204; s++ {
			if got := c.Total(markers.LevelSeason, s); got != 10 {
				t.Fatalf("step %d: season %d total %d, want 10", step, s, got)
			}
		}
	}

	check(-1)
	for step := 0; step < 300; step++ {
		it := items[rng.Intn(len(items))]
		typ := markers.TypeIntro
		if rng.Intn(2) == 0 {
			typ = markers.TypeCredits
		}
		n := 1
		if rng.Intn(2) == 0 {
			n = -1
		}
		if n < 0 && ((typ == markers.TypeIntro && it.intros == 0) || (typ == markers.TypeCredits && it.credits == 0)) {
			n = 1
		}

		old := KeyOf(it.intros, it.credits)
		if typ == markers.TypeIntro {
			it.intros += n
		} else {
			it.credits += n
		}
		c.Update(it.chain, old, DeltaFor(typ, n))
		check(step)

		b, _ := c.Breakdown(markers.LevelSeason, it.chain.SeasonID)
		if b[KeyOf(it.intros, it.credits)] < 1 {
			t.Fatalf("step %d: item bucket missing: %v", step, b)
		}
	}
}
