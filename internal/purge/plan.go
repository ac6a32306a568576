package purge

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/treefix50/markerguard/internal/markers"
)

// Mode is how a purged marker is reconciled with what Plex has now.
type Mode int

const (
	// ModeOverwrite deletes live markers the restored range overlaps.
	ModeOverwrite Mode = iota + 1
	// ModeMerge unions the restored range with every overlapping marker.
	ModeMerge
	// ModeIgnore never restores; the purge is flagged and forgotten.
	ModeIgnore
)

func (m Mode) String() string {
	switch m {
	case ModeOverwrite:
		return "overwrite"
	case ModeMerge:
		return "merge"
	case ModeIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "overwrite":
		return ModeOverwrite, nil
	case "2", "merge":
		return ModeMerge, nil
	case "3", "ignore":
		return ModeIgnore, nil
	default:
		return 0, fmt.Errorf("%w: %q", markers.ErrInvalidMode, s)
	}
}

type entryState int

const (
	stateLive entryState = iota
	stateInserted
	stateDeleted
)

// entry is one marker of an episode as the plan evolves. Live entries keep
// their pre-batch state in orig.
type entry struct {
	marker markers.Marker
	orig   markers.Marker
	state  entryState
	// protected entries came from this batch (inserted or matched by a
	// candidate) and are never deleted by a later overwrite.
	protected bool
	// mergedInto points at the survivor that absorbed this entry's range.
	mergedInto *entry
}

func (e *entry) resolve() *entry {
	for e.mergedInto != nil {
		e = e.mergedInto
	}
	return e
}

func (e *entry) gone() bool {
	return e.state == stateDeleted || e.mergedInto != nil
}

type outcome struct {
	candidate markers.Action
	target    *entry
}

// episodePlan is the set of writes that restores candidates onto one
// episode or movie.
type episodePlan struct {
	entries  []*entry
	outcomes []outcome
}

// planEpisode decides, without touching any database, how to restore
// candidates onto an item whose current markers are live. Candidates apply
// in ascending start order so merges compose left to right.
//
// A candidate whose type and range match an existing marker exactly is a
// no-op in both modes. Overwrite deletes overlapping pre-batch markers and
// inserts the candidate. Merge inserts one marker spanning the union of the
// candidate and every overlap, deleting the markers it replaces; when a
// single marker already contains the candidate nothing changes.
func planEpisode(live []markers.Marker, candidates []markers.Action, mode Mode, chain markers.Chain) *episodePlan {
	p := &episodePlan{}
	for _, m := range live {
		p.entries = append(p.entries, &entry{marker: m, orig: m, state: stateLive})
	}

	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b markers.Action) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.MarkerID, b.MarkerID))
	})

	for _, c := range ordered {
		if e := p.identical(c); e != nil {
			e.protected = true
			p.outcomes = append(p.outcomes, outcome{candidate: c, target: e})
			continue
		}
		switch mode {
		case ModeMerge:
			p.merge(c, chain)
		default:
			p.overwrite(c, chain)
		}
	}
	return p
}

func (p *episodePlan) identical(c markers.Action) *entry {
	for _, e := range p.entries {
		if e.gone() {
			continue
		}
		if e.marker.Start == c.Start && e.marker.End == c.End && e.marker.Type == c.MarkerType {
			return e
		}
	}
	return nil
}

func (p *episodePlan) overlapping(start, end int64) []*entry {
	var out []*entry
	for _, e := range p.entries {
		if !e.gone() && e.marker.Overlaps(start, end) {
			out = append(out, e)
		}
	}
	return out
}

func (p *episodePlan) insert(c markers.Action, chain markers.Chain) *entry {
	e := &entry{
		marker: markers.Marker{
			Type:        c.MarkerType,
			Start:       c.Start,
			End:         c.End,
			Final:       c.Final,
			UserCreated: c.UserCreated,
			CreatedAt:   c.CreatedAt,
			Chain:       chain,
		},
		state:     stateInserted,
		protected: true,
	}
	p.entries = append(p.entries, e)
	return e
}

func (p *episodePlan) overwrite(c markers.Action, chain markers.Chain) {
	for _, e := range p.overlapping(c.Start, c.End) {
		if !e.protected {
			e.state = stateDeleted
		}
	}
	p.outcomes = append(p.outcomes, outcome{candidate: c, target: p.insert(c, chain)})
}

func (p *episodePlan) merge(c markers.Action, chain markers.Chain) {
	overlaps := p.overlapping(c.Start, c.End)
	if len(overlaps) == 1 && overlaps[0].marker.Start <= c.Start && overlaps[0].marker.End >= c.End {
		overlaps[0].protected = true
		p.outcomes = append(p.outcomes, outcome{candidate: c, target: overlaps[0]})
		return
	}

	start, end := c.Start, c.End
	var survivor *entry
	for _, e := range overlaps {
		start = min(start, e.marker.Start)
		end = max(end, e.marker.End)
		if e.state == stateInserted && (survivor == nil || e.marker.Start < survivor.marker.Start) {
			survivor = e
		}
	}
	if survivor == nil {
		survivor = p.insert(c, chain)
	}
	survivor.marker.Start, survivor.marker.End = start, end
	for _, e := range overlaps {
		if e == survivor {
			continue
		}
		e.mergedInto = survivor
		if e.state != stateInserted {
			e.state = stateDeleted
		}
	}
	p.outcomes = append(p.outcomes, outcome{candidate: c, target: survivor})
}

// deletes are pre-batch markers the plan removes.
func (p *episodePlan) deletes() []*entry {
	var out []*entry
	for _, e := range p.entries {
		if e.state == stateDeleted && e.orig.ID != 0 {
			out = append(out, e)
		}
	}
	return out
}

func (p *episodePlan) inserts() []*entry {
	var out []*entry
	for _, e := range p.entries {
		if e.state == stateInserted && e.mergedInto == nil {
			out = append(out, e)
		}
	}
	return out
}

// counts returns (intros, credits) before and after the plan.
func (p *episodePlan) counts() (before, after [2]int) {
	for _, e := range p.entries {
		if e.state != stateInserted {
			before[typeSlot(e.orig.Type)]++
		}
		if !e.gone() {
			after[typeSlot(e.marker.Type)]++
		}
	}
	return before, after
}

func typeSlot(t markers.Type) int {
	if t == markers.TypeCredits {
		return 1
	}
	return 0
}

// changed reports whether the plan writes anything.
func (p *episodePlan) changed() bool {
	return len(p.deletes())+len(p.inserts()) > 0
}
