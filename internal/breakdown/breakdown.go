// Package breakdown counts how many episodes or movies carry each
// (intro, credits) marker combination, per section, show and season.
package breakdown

import (
	"maps"
	"sync"

	"github.com/treefix50/markerguard/internal/markers"
)

// Key packs an (intro, credits) pair as intros | credits<<16.
type Key int

func KeyOf(intros, credits int) Key {
	return Key(intros | credits<<16)
}

func (k Key) Intros() int  { return int(k) & 0xFFFF }
func (k Key) Credits() int { return int(k) >> 16 }

// Delta packs a change in marker counts so that old+delta is the new Key.
func Delta(intros, credits int) int {
	return intros + credits<<16
}

// DeltaFor is the Delta of adding (or with n < 0 removing) n markers of typ.
func DeltaFor(typ markers.Type, n int) int {
	if typ == markers.TypeCredits {
		return Delta(0, n)
	}
	return Delta(n, 0)
}

// Buckets maps a Key to the number of items having exactly that combination.
type Buckets map[Key]int

type levelID struct {
	level markers.Level
	id    int64
}

// Cache holds bucket maps for sections that have been built. Sections that
// were never built are ignored by Update; Rebuild is the only repair path.
type Cache struct {
	mu      sync.Mutex
	buckets map[levelID]Buckets
	owned   map[int64][]levelID
}

func New() *Cache {
	return &Cache{
		buckets: make(map[levelID]Buckets),
		owned:   make(map[int64][]levelID),
	}
}

// Rebuild discards a section's buckets and recomputes them from counts.
func (c *Cache) Rebuild(sectionID int64, counts []markers.ItemCount) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked(sectionID)
	section := levelID{markers.LevelSection, sectionID}
	c.buckets[section] = Buckets{}
	owned := []levelID{section}
	for _, item := range counts {
		key := KeyOf(item.Intros, item.Credits)
		for _, lid := range chainLevels(item.Chain) {
			b, ok := c.buckets[lid]
			if !ok {
				b = Buckets{}
				c.buckets[lid] = b
				owned = append(owned, lid)
			}
			b[key]++
		}
	}
	c.owned[sectionID] = owned
}

// Drop forgets a section.
func (c *Cache) Drop(sectionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(sectionID)
}

func (c *Cache) dropLocked(sectionID int64) {
	for _, lid := range c.owned[sectionID] {
		delete(c.buckets, lid)
	}
	delete(c.owned, sectionID)
}

func (c *Cache) Built(sectionID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[sectionID]
	return ok
}

// Update moves one item from bucket old to old+delta at every level of its
// chain. old must be the item's key before the mutation.
func (c *Cache) Update(chain markers.Chain, old Key, delta int) {
	if delta == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.owned[chain.SectionID]; !ok {
		return
	}

	next := Key(int(old) + delta)
	for _, lid := range chainLevels(chain) {
		b, ok := c.buckets[lid]
		if !ok {
			b = Buckets{}
			c.buckets[lid] = b
			c.owned[chain.SectionID] = append(c.owned[chain.SectionID], lid)
		}
		b[old]--
		b[next]++
	}
}

// Breakdown returns a copy of the buckets at level/id with empty buckets
// pruned. ok is false when nothing was built for it.
func (c *Cache) Breakdown(level markers.Level, id int64) (Buckets, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[levelID{level, id}]
	if !ok {
		return nil, false
	}
	maps.DeleteFunc(b, func(_ Key, n int) bool { return n == 0 })
	return maps.Clone(b), true
}

// Total is the number of items counted at level/id.
func (c *Cache) Total(level markers.Level, id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.buckets[levelID{level, id}] {
		total += n
	}
	return total
}

func chainLevels(chain markers.Chain) []levelID {
	if chain.IsMovie() {
		return []levelID{{markers.LevelSection, chain.SectionID}}
	}
	return []levelID{
		{markers.LevelSection, chain.SectionID},
		{markers.LevelShow, chain.ShowID},
		{markers.LevelSeason, chain.SeasonID},
	}
}
