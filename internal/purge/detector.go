package purge

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/treefix50/markerguard/internal/markers"
)

// ActionLog is the subset of the ActionLog store purge detection and
// resolution need.
type ActionLog interface {
	Latest(ctx context.Context, scope markers.Scope) ([]markers.Action, error)
	Record(ctx context.Context, entries ...markers.Action) ([]markers.Action, error)
	Ignore(ctx context.Context, actionIDs []int64) (int64, error)
}

// ItemSource resolves Plex metadata items.
type ItemSource interface {
	Items(ctx context.Context, ids []int64) (map[int64]markers.Item, error)
	ItemsByGUID(ctx context.Context, guids []string) (map[string]int64, error)
}

// ReaddedMatcher decides which purge candidates lost their parent item to a
// Plex delete-and-recreate. It returns candidate action id -> new parent id.
type ReaddedMatcher interface {
	Match(ctx context.Context, candidates []markers.Action) (map[int64]int64, error)
}

// GUIDMatcher flags a candidate as readded when its recorded parent is gone
// (or now has another guid) and a different episode or movie carries the
// recorded parent guid. This is a heuristic: a guid shared by several items
// resolves to the newest one.
type GUIDMatcher struct {
	Items ItemSource
}

func (m GUIDMatcher) Match(ctx context.Context, candidates []markers.Action) (map[int64]int64, error) {
	parentIDs := make([]int64, 0, len(candidates))
	for _, a := range candidates {
		parentIDs = append(parentIDs, a.ParentID)
	}
	items, err := m.Items.Items(ctx, parentIDs)
	if err != nil {
		return nil, err
	}

	var (
		orphans []markers.Action
		guids   []string
	)
	for _, a := range candidates {
		if a.ParentGUID == "" {
			continue
		}
		if it, ok := items[a.ParentID]; ok && it.GUID == a.ParentGUID {
			continue
		}
		orphans = append(orphans, a)
		guids = append(guids, a.ParentGUID)
	}
	if len(orphans) == 0 {
		return nil, nil
	}

	byGUID, err := m.Items.ItemsByGUID(ctx, guids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64)
	for _, a := range orphans {
		if id, ok := byGUID[a.ParentGUID]; ok && id != a.ParentID {
			out[a.ID] = id
		}
	}
	return out, nil
}

// MarkerChecker reports which marker ids still exist in Plex.
type MarkerChecker interface {
	ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// Detector finds markers the ActionLog expects to exist that Plex no longer has.
type Detector struct {
	log     ActionLog
	markers MarkerChecker
	matcher ReaddedMatcher
}

func NewDetector(log ActionLog, checker MarkerChecker, matcher ReaddedMatcher) *Detector {
	return &Detector{log: log, markers: checker, matcher: matcher}
}

// Find returns the purged markers under scope: the newest action of each
// marker that is still live per the log but missing from Plex. Ignored,
// deleted and already-restored markers are never returned. Results are
// ordered by parent, start, then marker id.
func (d *Detector) Find(ctx context.Context, scope markers.Scope) ([]markers.Action, error) {
	latest, err := d.log.Latest(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("purge: read action log: %w", err)
	}

	live := latest[:0]
	for _, a := range latest {
		if a.Live() {
			live = append(live, a)
		}
	}
	if len(live) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(live))
	for i, a := range live {
		ids[i] = a.MarkerID
	}
	existing, err := d.markers.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("purge: read plex markers: %w", err)
	}

	var purged []markers.Action
	for _, a := range live {
		if !existing[a.MarkerID] {
			purged = append(purged, a)
		}
	}
	if len(purged) == 0 {
		return nil, nil
	}

	if d.matcher != nil {
		readded, err := d.matcher.Match(ctx, purged)
		if err != nil {
			return nil, fmt.Errorf("purge: match readded items: %w", err)
		}
		for i := range purged {
			if id, ok := readded[purged[i].ID]; ok {
				purged[i].Readded = true
				purged[i].ReaddedID = id
			}
		}
	}

	slices.SortFunc(purged, func(a, b markers.Action) int {
		return cmp.Or(
			cmp.Compare(a.ParentID, b.ParentID),
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(a.MarkerID, b.MarkerID),
		)
	})
	return purged, nil
}
