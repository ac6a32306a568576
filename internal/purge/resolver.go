package purge

import (
	"context"
	"fmt"
	"slices"

	"github.com/treefix50/markerguard/internal/breakdown"
	"github.com/treefix50/markerguard/internal/logging"
	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/metrics"
	"github.com/treefix50/markerguard/internal/plex"
)

// MarkerStore is the Plex side of a resolution.
type MarkerStore interface {
	MarkersByParent(ctx context.Context, parentIDs []int64) ([]markers.Marker, error)
	Items(ctx context.Context, ids []int64) (map[int64]markers.Item, error)
	Update(ctx context.Context, fn func(plex.Batch) error) error
	Reindex(ctx context.Context, parentIDs []int64) (int, error)
}

// EpisodeError reports the candidates of one item that could not be restored.
type EpisodeError struct {
	ParentID  int64   `json:"parentId"`
	MarkerIDs []int64 `json:"markerIds"`
	Message   string  `json:"message"`
}

// Result is the outcome of a resolution batch.
type Result struct {
	RestoredMarkers []markers.Marker `json:"restoredMarkers"`
	ExistingMarkers []markers.Marker `json:"existingMarkers"`
	DeletedMarkers  []markers.Marker `json:"deletedMarkers"`
	IgnoredMarkers  []int64          `json:"ignoredMarkers,omitempty"`
	Errors          []EpisodeError   `json:"errors"`
}

func newResult() Result {
	return Result{
		RestoredMarkers: []markers.Marker{},
		ExistingMarkers: []markers.Marker{},
		DeletedMarkers:  []markers.Marker{},
		Errors:          []EpisodeError{},
	}
}

// Resolver applies a resolution mode to purged markers.
type Resolver struct {
	log       ActionLog
	store     MarkerStore
	cache     *Cache
	breakdown *breakdown.Cache
}

func NewResolver(log ActionLog, store MarkerStore, cache *Cache, counts *breakdown.Cache) *Resolver {
	return &Resolver{log: log, store: store, cache: cache, breakdown: counts}
}

// Resolve restores or ignores candidates. Each item commits in its own
// transaction: a failed item is reported in Errors while the others still
// apply. Returned errors are reserved for failures that stop the whole batch.
func (r *Resolver) Resolve(ctx context.Context, candidates []markers.Action, mode Mode) (Result, error) {
	switch mode {
	case ModeIgnore:
		return r.ignore(ctx, candidates)
	case ModeOverwrite, ModeMerge:
	default:
		return Result{}, fmt.Errorf("purge: %w: %v", markers.ErrInvalidMode, mode)
	}

	res := newResult()
	if len(candidates) == 0 {
		return res, nil
	}

	byParent := make(map[int64][]markers.Action)
	for _, c := range candidates {
		byParent[c.TargetParentID()] = append(byParent[c.TargetParentID()], c)
	}
	parents := make([]int64, 0, len(byParent))
	for id := range byParent {
		parents = append(parents, id)
	}
	slices.Sort(parents)

	items, err := r.store.Items(ctx, parents)
	if err != nil {
		return Result{}, fmt.Errorf("purge: load items: %w", err)
	}
	current, err := r.store.MarkersByParent(ctx, parents)
	if err != nil {
		return Result{}, fmt.Errorf("purge: load markers: %w", err)
	}
	live := markers.GroupByParent(current)

	var committed []int64
	for _, parentID := range parents {
		cands := byParent[parentID]
		item, ok := items[parentID]
		if !ok {
			res.fail(parentID, cands, fmt.Errorf("metadata item %d: %w", parentID, markers.ErrNotFound))
			continue
		}

		plan := planEpisode(live[parentID], cands, mode, item.Chain(cands[0].SectionUUID))
		if plan.changed() {
			if err := r.store.Update(ctx, func(b plex.Batch) error { return apply(ctx, b, plan) }); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Int64("parent_id", parentID).Msg("restore failed for item")
				res.fail(parentID, cands, err)
				continue
			}
			committed = append(committed, parentID)
		}
		r.finish(ctx, plan, &res)
	}

	if len(committed) > 0 {
		if _, err := r.store.Reindex(ctx, committed); err != nil {
			metrics.ReindexFailures.Inc()
			logging.Ctx(ctx).Error().Err(err).Ints64("parent_ids", committed).Msg("reindex after restore failed")
		}
	}

	metrics.RecordResolution(mode.String(), "restored", len(res.RestoredMarkers))
	metrics.RecordResolution(mode.String(), "existing", len(res.ExistingMarkers))
	metrics.RecordResolution(mode.String(), "failed", len(res.Errors))
	return res, nil
}

func (res *Result) fail(parentID int64, cands []markers.Action, err error) {
	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.MarkerID
	}
	res.Errors = append(res.Errors, EpisodeError{ParentID: parentID, MarkerIDs: ids, Message: err.Error()})
}

// apply writes a plan: deletes first, then inserts.
func apply(ctx context.Context, b plex.Batch, plan *episodePlan) error {
	for _, e := range plan.deletes() {
		if err := b.Delete(ctx, e.orig.ID); err != nil {
			return err
		}
	}
	for _, e := range plan.inserts() {
		m, err := b.Insert(ctx, e.marker)
		if err != nil {
			return err
		}
		e.marker = m
	}
	return nil
}

// finish runs after an item's writes are committed: it appends the log rows,
// moves the breakdown buckets and drops the candidates from the cache.
func (r *Resolver) finish(ctx context.Context, plan *episodePlan, res *Result) {
	var (
		entries  []markers.Action
		restored = make(map[int64]bool)
		existing = make(map[int64]bool)
	)
	for _, e := range plan.deletes() {
		entries = append(entries, markers.ActionFromMarker(markers.ActionDelete, e.orig))
		res.DeletedMarkers = append(res.DeletedMarkers, e.orig)
	}
	for _, o := range plan.outcomes {
		target := o.target.resolve()
		a := markers.ActionFromMarker(markers.ActionRestore, target.marker)
		purgedID := o.candidate.ID
		a.RestoresID = &purgedID
		if target.marker.Start != o.candidate.Start || target.marker.End != o.candidate.End {
			a = a.WithOld(o.candidate.Start, o.candidate.End)
		}
		entries = append(entries, a)

		if target.state == stateLive {
			if !existing[target.marker.ID] {
				existing[target.marker.ID] = true
				res.ExistingMarkers = append(res.ExistingMarkers, target.marker)
			}
		} else if !restored[target.marker.ID] {
			restored[target.marker.ID] = true
			res.RestoredMarkers = append(res.RestoredMarkers, target.marker)
		}
	}

	if _, err := r.log.Record(ctx, entries...); err != nil {
		metrics.ActionLogWriteFailures.Inc()
		logging.Ctx(ctx).Warn().Err(err).Int("actions", len(entries)).Msg("could not record restore in action log")
	}

	if r.breakdown != nil && len(plan.outcomes) > 0 {
		before, after := plan.counts()
		delta := breakdown.Delta(after[0]-before[0], after[1]-before[1])
		if delta != 0 {
			r.breakdown.Update(plan.outcomes[0].target.resolve().marker.Chain, breakdown.KeyOf(before[0], before[1]), delta)
		}
	}

	if r.cache != nil {
		for _, o := range plan.outcomes {
			r.cache.Remove(o.candidate.MarkerID)
		}
	}
}

// ignore flags candidates so detection never reports them again.
func (r *Resolver) ignore(ctx context.Context, candidates []markers.Action) (Result, error) {
	res := newResult()
	if len(candidates) == 0 {
		return res, nil
	}
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	if _, err := r.log.Ignore(ctx, ids); err != nil {
		return Result{}, fmt.Errorf("purge: ignore: %w", err)
	}
	for _, c := range candidates {
		if r.cache != nil {
			r.cache.Remove(c.MarkerID)
		}
		res.IgnoredMarkers = append(res.IgnoredMarkers, c.MarkerID)
	}
	metrics.RecordResolution(ModeIgnore.String(), "ignored", len(candidates))
	return res, nil
}
