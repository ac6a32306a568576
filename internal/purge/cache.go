package purge

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/treefix50/markerguard/internal/markers"
)

// Cache holds detector output as a server -> section -> show -> season ->
// episode (or section -> movie) tree, plus a marker id index over the leaves.
type Cache struct {
	mu       sync.RWMutex
	root     *Group
	byMarker map[int64]*Group
}

func NewCache() *Cache {
	return &Cache{
		root:     newGroup(KindServer, 0, nil),
		byMarker: make(map[int64]*Group),
	}
}

func (c *Cache) sectionLocked(section markers.Section) *Group {
	g := c.root.GetOrAdd(section.ID)
	if section.Type != 0 {
		g.sectionType = section.Type
	}
	return g
}

// leafLocked walks (creating as needed) to the leaf for a's recorded chain.
func (c *Cache) leafLocked(section markers.Section, a markers.Action) *Group {
	g := c.sectionLocked(section)
	if g.sectionType == markers.SectionMovie || a.IsMovie() {
		return g.GetOrAdd(a.ParentID)
	}
	return g.GetOrAdd(a.ShowID).GetOrAdd(a.SeasonID).GetOrAdd(a.ParentID)
}

func (c *Cache) addLocked(section markers.Section, a markers.Action) error {
	if old, ok := c.byMarker[a.MarkerID]; ok {
		old.RemoveAction(a.MarkerID)
		delete(c.byMarker, a.MarkerID)
	}
	leaf := c.leafLocked(section, a)
	if err := leaf.AddAction(a); err != nil {
		return err
	}
	c.byMarker[a.MarkerID] = leaf
	return nil
}

func (c *Cache) removeLocked(markerID int64) (markers.Action, bool) {
	leaf, ok := c.byMarker[markerID]
	if !ok {
		return markers.Action{}, false
	}
	delete(c.byMarker, markerID)
	return leaf.RemoveAction(markerID)
}

// ReplaceSection swaps a section's contents for a full scan result and marks
// it Complete.
func (c *Cache) ReplaceSection(section markers.Section, purged []markers.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.placeableLocked(section, purged); err != nil {
		return err
	}
	c.clearLocked(section.ID, func(markers.Action) bool { return true })
	for _, a := range purged {
		if err := c.addLocked(section, a); err != nil {
			return err
		}
	}
	c.sectionLocked(section).status = StatusComplete
	return nil
}

// placeableLocked builds purged into a scratch tree so a chain that cannot be
// placed is rejected before the live section is touched.
func (c *Cache) placeableLocked(section markers.Section, purged []markers.Action) error {
	if section.Type == 0 {
		if g := c.root.Child(section.ID); g != nil {
			section.Type = g.sectionType
		}
	}
	scratch := NewCache()
	for _, a := range purged {
		if err := scratch.addLocked(section, a); err != nil {
			return fmt.Errorf("purge: place marker %d: %w", a.MarkerID, err)
		}
	}
	return nil
}

// MergeScope replaces what the cache knows about one scope inside a section.
// A section that was not Complete becomes PartiallyInitialized.
func (c *Cache) MergeScope(section markers.Section, scope markers.Scope, purged []markers.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked(section.ID, func(a markers.Action) bool { return a.IDAt(scope.Level) == scope.ID })
	for _, a := range purged {
		if err := c.addLocked(section, a); err != nil {
			return err
		}
	}
	g := c.sectionLocked(section)
	if g.status != StatusComplete {
		g.status = StatusPartial
	}
	return nil
}

func (c *Cache) clearLocked(sectionID int64, match func(markers.Action) bool) int {
	g := c.root.Child(sectionID)
	if g == nil {
		return 0
	}
	var doomed []int64
	g.walkActions(func(_ *Group, a markers.Action) {
		if match(a) {
			doomed = append(doomed, a.MarkerID)
		}
	})
	for _, id := range doomed {
		c.removeLocked(id)
	}
	return len(doomed)
}

// Evict discards cached purges under a show, season or item. The section is
// no longer Complete afterwards.
func (c *Cache) Evict(sectionID int64, level markers.Level, id int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.clearLocked(sectionID, func(a markers.Action) bool { return a.IDAt(level) == id })
	if g := c.root.Child(sectionID); g != nil && g.status == StatusComplete {
		g.status = StatusPartial
	}
	return n
}

// Get returns the cached purged action for a marker id.
func (c *Cache) Get(markerID int64) (markers.Action, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	leaf, ok := c.byMarker[markerID]
	if !ok {
		return markers.Action{}, false
	}
	a, ok := leaf.actions[markerID]
	return a, ok
}

func (c *Cache) Remove(markerID int64) (markers.Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(markerID)
}

// Section returns a detached copy of a section's subtree.
func (c *Cache) Section(sectionID int64) (*Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g := c.root.Child(sectionID)
	if g == nil {
		return nil, false
	}
	return g.DeepClone(), true
}

// Status reports a section's initialization status.
func (c *Cache) Status(sectionID int64) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if g := c.root.Child(sectionID); g != nil {
		return g.status
	}
	return StatusUninitialized
}

// Count is the number of purged markers cached for a section, or for the
// whole server when sectionID is 0.
func (c *Cache) Count(sectionID int64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sectionID == 0 {
		return c.root.count
	}
	if g := c.root.Child(sectionID); g != nil {
		return g.count
	}
	return 0
}

func (c *Cache) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c.root)
}
