package purge

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/treefix50/markerguard/internal/markers"
)

// Kind tags a Group with its level in the purge tree.
type Kind int

const (
	KindServer Kind = iota
	KindSection
	KindShow
	KindSeason
	KindEpisode
	KindMovie
)

// Status records how much of a section's purge data has been loaded.
type Status int

const (
	StatusUninitialized Status = iota
	StatusPartial
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusPartial:
		return "partial"
	case StatusComplete:
		return "complete"
	default:
		return "uninitialized"
	}
}

type behaviour struct {
	name string
	// plural is the JSON key a parent uses for children of this kind.
	plural string
	// childKind is nil for leaves, which hold actions instead of groups.
	childKind   func(*Group) Kind
	retainEmpty bool
}

func fixedChild(k Kind) func(*Group) Kind {
	return func(*Group) Kind { return k }
}

func sectionChild(g *Group) Kind {
	if g.sectionType == markers.SectionMovie {
		return KindMovie
	}
	return KindShow
}

var behaviours = map[Kind]behaviour{
	KindServer:  {name: "server", childKind: fixedChild(KindSection), retainEmpty: true},
	KindSection: {name: "section", plural: "sections", childKind: sectionChild, retainEmpty: true},
	KindShow:    {name: "show", plural: "shows", childKind: fixedChild(KindSeason)},
	KindSeason:  {name: "season", plural: "seasons", childKind: fixedChild(KindEpisode)},
	KindEpisode: {name: "episode", plural: "episodes"},
	KindMovie:   {name: "movie", plural: "movies"},
}

func (k Kind) String() string {
	if b, ok := behaviours[k]; ok {
		return b.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Group is one node of the purge tree. Count is the number of purged
// markers in the subtree; leaves (episodes, movies) hold the actions.
type Group struct {
	kind        Kind
	id          int64
	parent      *Group
	count       int
	status      Status
	sectionType markers.SectionType
	children    map[int64]*Group
	actions     map[int64]markers.Action
}

func newGroup(kind Kind, id int64, parent *Group) *Group {
	g := &Group{kind: kind, id: id, parent: parent}
	if g.IsLeaf() {
		g.actions = make(map[int64]markers.Action)
	} else {
		g.children = make(map[int64]*Group)
	}
	return g
}

func (g *Group) Kind() Kind { return g.kind }
func (g *Group) ID() int64 { return g.id }
func (g *Group) Count() int { return g.count }
func (g *Group) Status() Status { return g.status }
func (g *Group) Parent() *Group { return g.parent }
func (g *Group) IsLeaf() bool { return behaviours[g.kind].childKind == nil }
func (g *Group) Child(id int64) *Group {
	return g.children[id]
}

// Children returns child groups ordered by id.
func (g *Group) Children() []*Group {
	out := make([]*Group, 0, len(g.children))
	for _, c := range g.children {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Group) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Actions returns a leaf's purged actions ordered by start, then marker id.
func (g *Group) Actions() []markers.Action {
	out := make([]markers.Action, 0, len(g.actions))
	for _, a := range g.actions {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b markers.Action) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.MarkerID, b.MarkerID))
	})
	return out
}

// GetOrAdd returns the child with id, creating it with the kind this
// group's behaviour dictates. Leaves have no child groups; calling it on
// one is a programming error.
func (g *Group) GetOrAdd(id int64) *Group {
	b := behaviours[g.kind]
	if b.childKind == nil {
		panic(fmt.Sprintf("purge: GetOrAdd on %s leaf %d", g.kind, g.id))
	}
	if c, ok := g.children[id]; ok {
		return c
	}
	c := newGroup(b.childKind(g), id, g)
	g.children[id] = c
	return c
}

// AddAction stores a purged action on a leaf. Re-adding a marker replaces
// the stored action without changing counts.
func (g *Group) AddAction(a markers.Action) error {
	if !g.IsLeaf() {
		return fmt.Errorf("purge: AddAction on %s group %d", g.kind, g.id)
	}
	if _, ok := g.actions[a.MarkerID]; ok {
		g.actions[a.MarkerID] = a
		return nil
	}
	if err := g.UpdateCount(1); err != nil {
		return err
	}
	g.actions[a.MarkerID] = a
	return nil
}

// RemoveAction drops a marker from a leaf, pruning emptied ancestors.
func (g *Group) RemoveAction(markerID int64) (markers.Action, bool) {
	a, ok := g.actions[markerID]
	if !ok {
		return markers.Action{}, false
	}
	delete(g.actions, markerID)
	if err := g.UpdateCount(-1); err != nil {
		// The leaf held the action, so every ancestor counts at least one.
		panic(err)
	}
	return a, true
}

// UpdateCount applies delta to g and every ancestor. Nothing changes if any
// node would go negative. Nodes that reach zero are detached from their
// parent unless their kind is retained when empty.
func (g *Group) UpdateCount(delta int) error {
	for n := g; n != nil; n = n.parent {
		if n.count+delta < 0 {
			return fmt.Errorf("purge: count of %s %d would drop to %d", n.kind, n.id, n.count+delta)
		}
	}
	for n := g; n != nil; n = n.parent {
		n.count += delta
	}
	for n := g; n.parent != nil && n.count == 0 && !behaviours[n.kind].retainEmpty; n = n.parent {
		delete(n.parent.children, n.id)
	}
	return nil
}

// DeepClone copies the subtree rooted at g. The clone's root has no parent;
// every other node points at its cloned parent.
func (g *Group) DeepClone() *Group {
	return g.cloneInto(nil)
}

func (g *Group) cloneInto(parent *Group) *Group {
	c := &Group{
		kind:        g.kind,
		id:          g.id,
		parent:      parent,
		count:       g.count,
		status:      g.status,
		sectionType: g.sectionType,
	}
	if g.actions != nil {
		c.actions = make(map[int64]markers.Action, len(g.actions))
		for id, a := range g.actions {
			c.actions[id] = a
		}
	}
	if g.children != nil {
		c.children = make(map[int64]*Group, len(g.children))
		for id, child := range g.children {
			c.children[id] = child.cloneInto(c)
		}
	}
	return c
}

// walkActions visits every action in the subtree.
func (g *Group) walkActions(fn func(leaf *Group, a markers.Action)) {
	for _, a := range g.actions {
		fn(g, a)
	}
	for _, c := range g.children {
		c.walkActions(fn)
	}
}

func (g *Group) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":    g.id,
		"kind":  g.kind.String(),
		"count": g.count,
	}
	if g.kind == KindSection || g.kind == KindServer {
		out["status"] = g.status.String()
	}
	if g.IsLeaf() {
		out["markers"] = g.Actions()
		return json.Marshal(out)
	}

	children := make(map[string]*Group, len(g.children))
	for id, c := range g.children {
		children[strconv.FormatInt(id, 10)] = c
	}
	out[behaviours[behaviours[g.kind].childKind(g)].plural] = children
	return json.Marshal(out)
}
