// Package editor implements the marker commands a user issues directly:
// add, edit and delete, each in one Plex transaction followed by index
// renumbering, an ActionLog entry and a breakdown update.
package editor

import (
	"context"
	"fmt"

	"github.com/treefix50/markerguard/internal/breakdown"
	"github.com/treefix50/markerguard/internal/logging"
	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/metrics"
	"github.com/treefix50/markerguard/internal/plex"
)

// Library is the Plex side of the editor.
type Library interface {
	Sections(ctx context.Context) ([]markers.Section, error)
	Section(ctx context.Context, id int64) (markers.Section, error)
	Items(ctx context.Context, ids []int64) (map[int64]markers.Item, error)
	Marker(ctx context.Context, id int64) (markers.Marker, error)
	MarkersByParent(ctx context.Context, parentIDs []int64) ([]markers.Marker, error)
	MarkerCounts(ctx context.Context, sectionID int64) ([]markers.ItemCount, error)
	Update(ctx context.Context, fn func(plex.Batch) error) error
	Reindex(ctx context.Context, parentIDs []int64) (int, error)
}

// ActionLog records user edits. Write failures never fail a command.
type ActionLog interface {
	RecordAdd(ctx context.Context, m markers.Marker) (markers.Action, error)
	RecordEdit(ctx context.Context, m markers.Marker, oldStart, oldEnd int64) (markers.Action, error)
	RecordDelete(ctx context.Context, m markers.Marker) (markers.Action, error)
}

type Service struct {
	lib    Library
	log    ActionLog
	counts *breakdown.Cache
}

// New returns an editor. log may be nil when backups are disabled.
func New(lib Library, log ActionLog, counts *breakdown.Cache) *Service {
	if counts == nil {
		counts = breakdown.New()
	}
	return &Service{lib: lib, log: log, counts: counts}
}

type AddRequest struct {
	ParentID int64
	Type     markers.Type
	Start    int64
	End      int64
	Final    bool
}

type EditRequest struct {
	ID    int64
	Type  markers.Type
	Start int64
	End   int64
	Final bool
}

func validate(typ markers.Type, start, end int64) error {
	if typ != markers.TypeIntro && typ != markers.TypeCredits {
		return fmt.Errorf("%w: %q", markers.ErrInvalidType, typ)
	}
	return markers.ValidateRange(start, end)
}

// conflict returns the first sibling other than skipID overlapping the range.
func conflict(siblings []markers.Marker, skipID, start, end int64) error {
	for _, m := range siblings {
		if m.ID != skipID && m.Overlaps(start, end) {
			return &markers.ConflictError{Start: start, End: end, Existing: m}
		}
	}
	return nil
}

func keyOf(siblings []markers.Marker) breakdown.Key {
	return breakdown.KeyOf(markers.Counts(siblings))
}

// Add creates a user marker on an episode or movie.
func (s *Service) Add(ctx context.Context, req AddRequest) (markers.Marker, error) {
	if err := validate(req.Type, req.Start, req.End); err != nil {
		return markers.Marker{}, err
	}
	items, err := s.lib.Items(ctx, []int64{req.ParentID})
	if err != nil {
		return markers.Marker{}, err
	}
	item, ok := items[req.ParentID]
	if !ok {
		return markers.Marker{}, fmt.Errorf("metadata item %d: %w", req.ParentID, markers.ErrNotFound)
	}
	if item.Type != markers.ItemEpisode && item.Type != markers.ItemMovie {
		return markers.Marker{}, fmt.Errorf("metadata item %d: %w", req.ParentID, markers.ErrNotMarkable)
	}
	section, err := s.lib.Section(ctx, item.SectionID)
	if err != nil {
		return markers.Marker{}, err
	}

	siblings, err := s.lib.MarkersByParent(ctx, []int64{req.ParentID})
	if err != nil {
		return markers.Marker{}, err
	}
	if err := conflict(siblings, 0, req.Start, req.End); err != nil {
		return markers.Marker{}, err
	}

	m := markers.Marker{
		Type:        req.Type,
		Start:       req.Start,
		End:         req.End,
		Final:       req.Final && req.Type == markers.TypeCredits,
		UserCreated: true,
		Chain:       item.Chain(section.UUID),
	}
	err = s.lib.Update(ctx, func(b plex.Batch) error {
		m, err = b.Insert(ctx, m)
		return err
	})
	if err != nil {
		return markers.Marker{}, err
	}

	m.Index = s.reindex(ctx, append(siblings, m), m.ID)
	if s.log != nil {
		if _, err := s.log.RecordAdd(ctx, m); err != nil {
			logWriteFailure(ctx, err, "add", m.ID)
		}
	}
	s.counts.Update(m.Chain, keyOf(siblings), breakdown.DeltaFor(m.Type, 1))

	logging.Ctx(ctx).Info().Int64("marker_id", m.ID).Int64("parent_id", m.ParentID).Str("type", string(m.Type)).Msg("marker added")
	return m, nil
}

// Edit changes a marker's type, range and final flag.
func (s *Service) Edit(ctx context.Context, req EditRequest) (markers.Marker, error) {
	if err := validate(req.Type, req.Start, req.End); err != nil {
		return markers.Marker{}, err
	}
	old, err := s.lib.Marker(ctx, req.ID)
	if err != nil {
		return markers.Marker{}, err
	}
	siblings, err := s.lib.MarkersByParent(ctx, []int64{old.ParentID})
	if err != nil {
		return markers.Marker{}, err
	}
	if err := conflict(siblings, old.ID, req.Start, req.End); err != nil {
		return markers.Marker{}, err
	}

	m := old
	m.Type, m.Start, m.End = req.Type, req.Start, req.End
	m.Final = req.Final && req.Type == markers.TypeCredits
	err = s.lib.Update(ctx, func(b plex.Batch) error {
		m, err = b.Edit(ctx, m)
		return err
	})
	if err != nil {
		return markers.Marker{}, err
	}

	if m.Start != old.Start {
		for i := range siblings {
			if siblings[i].ID == m.ID {
				siblings[i].Start = m.Start
			}
		}
		m.Index = s.reindex(ctx, siblings, m.ID)
	}
	if s.log != nil {
		if _, err := s.log.RecordEdit(ctx, m, old.Start, old.End); err != nil {
			logWriteFailure(ctx, err, "edit", m.ID)
		}
	}
	if m.Type != old.Type {
		s.counts.Update(m.Chain, keyOf(siblings), breakdown.DeltaFor(old.Type, -1)+breakdown.DeltaFor(m.Type, 1))
	}

	logging.Ctx(ctx).Info().Int64("marker_id", m.ID).Int64("old_start", old.Start).Int64("start", m.Start).Msg("marker edited")
	return m, nil
}

// Delete removes a marker and returns it as it was.
func (s *Service) Delete(ctx context.Context, id int64) (markers.Marker, error) {
	m, err := s.lib.Marker(ctx, id)
	if err != nil {
		return markers.Marker{}, err
	}
	siblings, err := s.lib.MarkersByParent(ctx, []int64{m.ParentID})
	if err != nil {
		return markers.Marker{}, err
	}

	if err := s.lib.Update(ctx, func(b plex.Batch) error { return b.Delete(ctx, id) }); err != nil {
		return markers.Marker{}, err
	}

	remaining := siblings[:0:0]
	for _, sib := range siblings {
		if sib.ID != id {
			remaining = append(remaining, sib)
		}
	}
	s.reindex(ctx, remaining, 0)
	if s.log != nil {
		if _, err := s.log.RecordDelete(ctx, m); err != nil {
			logWriteFailure(ctx, err, "delete", m.ID)
		}
	}
	s.counts.Update(m.Chain, keyOf(siblings), breakdown.DeltaFor(m.Type, -1))

	logging.Ctx(ctx).Info().Int64("marker_id", m.ID).Int64("parent_id", m.ParentID).Msg("marker deleted")
	return m, nil
}

// reindex renumbers the parent of ms and returns the new index of markerID
// as computed from ms. Failures are logged; the command already succeeded.
func (s *Service) reindex(ctx context.Context, ms []markers.Marker, markerID int64) int {
	if len(ms) == 0 {
		return 0
	}
	if _, err := s.lib.Reindex(ctx, []int64{ms[0].ParentID}); err != nil {
		metrics.ReindexFailures.Inc()
		logging.Ctx(ctx).Error().Err(err).Int64("parent_id", ms[0].ParentID).Msg("reindex failed")
	}
	local := make([]markers.Marker, len(ms))
	copy(local, ms)
	markers.Reindex(local)
	for _, m := range local {
		if m.ID == markerID {
			return m.Index
		}
	}
	return 0
}

func logWriteFailure(ctx context.Context, err error, op string, markerID int64) {
	metrics.ActionLogWriteFailures.Inc()
	logging.Ctx(ctx).Warn().Err(err).Str("op", op).Int64("marker_id", markerID).Msg("could not record action")
}

// Query returns the markers of each parent. Every requested parent is
// present in the result, with an empty slice when it has no markers.
func (s *Service) Query(ctx context.Context, parentIDs []int64) (map[int64][]markers.Marker, error) {
	ms, err := s.lib.MarkersByParent(ctx, parentIDs)
	if err != nil {
		return nil, err
	}
	out := markers.GroupByParent(ms)
	for _, id := range parentIDs {
		if out[id] == nil {
			out[id] = []markers.Marker{}
		}
	}
	return out, nil
}

func (s *Service) Sections(ctx context.Context) ([]markers.Section, error) {
	sections, err := s.lib.Sections(ctx)
	if sections == nil && err == nil {
		sections = []markers.Section{}
	}
	return sections, err
}

// Breakdown returns the buckets of a section, show or season, building the
// section's counts from Plex on first use.
func (s *Service) Breakdown(ctx context.Context, level markers.Level, id int64) (breakdown.Buckets, error) {
	sectionID := id
	if level != markers.LevelSection {
		items, err := s.lib.Items(ctx, []int64{id})
		if err != nil {
			return nil, err
		}
		item, ok := items[id]
		if !ok {
			return nil, fmt.Errorf("metadata item %d: %w", id, markers.ErrNotFound)
		}
		sectionID = item.SectionID
	} else if _, err := s.lib.Section(ctx, id); err != nil {
		return nil, err
	}

	if !s.counts.Built(sectionID) {
		if err := s.RebuildBreakdown(ctx, sectionID); err != nil {
			return nil, err
		}
	}
	b, ok := s.counts.Breakdown(level, id)
	if !ok {
		return breakdown.Buckets{}, nil
	}
	return b, nil
}

// RebuildBreakdown discards a section's buckets and recounts from Plex.
func (s *Service) RebuildBreakdown(ctx context.Context, sectionID int64) error {
	counts, err := s.lib.MarkerCounts(ctx, sectionID)
	if err != nil {
		return err
	}
	s.counts.Rebuild(sectionID, counts)
	logging.Ctx(ctx).Debug().Int64("section_id", sectionID).Int("items", len(counts)).Msg("breakdown rebuilt")
	return nil
}
