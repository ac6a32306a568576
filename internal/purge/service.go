package purge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/treefix50/markerguard/internal/breakdown"
	"github.com/treefix50/markerguard/internal/logging"
	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/metrics"
)

// Library is everything the purge service reads from or writes to Plex.
type Library interface {
	MarkerStore
	MarkerChecker
	ItemSource
	Section(ctx context.Context, id int64) (markers.Section, error)
	InvalidateItems()
}

type Options struct {
	// Log is the ActionLog. A nil Log disables every operation.
	Log       ActionLog
	Library   Library
	Breakdown *breakdown.Cache
	// Matcher defaults to a GUIDMatcher over Library.
	Matcher ReaddedMatcher
}

// Service is the entry point for purge checks and resolutions.
type Service struct {
	enabled  bool
	lib      Library
	cache    *Cache
	detector *Detector
	resolver *Resolver
	scans    singleflight.Group
}

func NewService(opts Options) *Service {
	s := &Service{
		enabled: opts.Log != nil && opts.Library != nil,
		lib:     opts.Library,
		cache:   NewCache(),
	}
	if !s.enabled {
		return s
	}
	matcher := opts.Matcher
	if matcher == nil {
		matcher = GUIDMatcher{Items: opts.Library}
	}
	s.detector = NewDetector(opts.Log, opts.Library, matcher)
	s.resolver = NewResolver(opts.Log, opts.Library, s.cache, opts.Breakdown)
	return s
}

func (s *Service) Enabled() bool {
	return s.enabled
}

func (s *Service) guard() error {
	if !s.enabled {
		return markers.ErrBackupDisabled
	}
	return nil
}

// Cache exposes the purge tree for read-only use.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Check finds purged markers under any metadata item: a show, season,
// episode or movie. An item Plex no longer knows is treated as an episode.
func (s *Service) Check(ctx context.Context, metadataID int64) ([]markers.Action, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	// Plex may have recreated items since they were cached.
	s.lib.InvalidateItems()

	items, err := s.lib.Items(ctx, []int64{metadataID})
	if err != nil {
		return nil, fmt.Errorf("purge: load item %d: %w", metadataID, err)
	}
	scope := markers.Scope{Level: markers.LevelEpisode, ID: metadataID}
	item, found := items[metadataID]
	var section markers.Section
	if found {
		switch item.Type {
		case markers.ItemShow:
			scope.Level = markers.LevelShow
		case markers.ItemSeason:
			scope.Level = markers.LevelSeason
		}
		if section, err = s.lib.Section(ctx, item.SectionID); err != nil {
			return nil, fmt.Errorf("purge: load section %d: %w", item.SectionID, err)
		}
		scope.SectionUUID = section.UUID
	}

	start := time.Now()
	purged, err := s.detector.Find(ctx, scope)
	metrics.RecordPurgeScan(scope.Level.String(), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if !found && len(purged) > 0 {
		// The item is gone from Plex; file its purges under the recorded section.
		switch section, err = s.lib.Section(ctx, purged[0].SectionID); {
		case err == nil:
			found = true
		case !errors.Is(err, markers.ErrNotFound):
			return nil, fmt.Errorf("purge: load section %d: %w", purged[0].SectionID, err)
		}
	}
	if found {
		if err := s.cache.MergeScope(section, scope, purged); err != nil {
			return nil, err
		}
		metrics.SetPurgedMarkers(section.ID, s.cache.Count(section.ID))
	}

	logging.Ctx(ctx).Debug().
		Int64("metadata_id", metadataID).
		Str("level", scope.Level.String()).
		Int("purged", len(purged)).
		Msg("purge check")
	if purged == nil {
		purged = []markers.Action{}
	}
	return purged, nil
}

// Section scans a whole library section and returns its purge tree.
// Concurrent scans of the same section share one database pass.
func (s *Service) Section(ctx context.Context, sectionID int64) (*Group, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	// Callers share the scan, so one of them going away must not cancel it.
	scanCtx := context.WithoutCancel(ctx)
	_, err, _ := s.scans.Do(strconv.FormatInt(sectionID, 10), func() (any, error) {
		return nil, s.scanSection(scanCtx, sectionID)
	})
	if err != nil {
		return nil, err
	}
	g, ok := s.cache.Section(sectionID)
	if !ok {
		return nil, fmt.Errorf("section %d: %w", sectionID, markers.ErrNotFound)
	}
	return g, nil
}

func (s *Service) scanSection(ctx context.Context, sectionID int64) error {
	section, err := s.lib.Section(ctx, sectionID)
	if err != nil {
		return err
	}
	// A full scan must see items Plex recreated since they were cached.
	s.lib.InvalidateItems()

	start := time.Now()
	purged, err := s.detector.Find(ctx, markers.Scope{Level: markers.LevelSection, ID: sectionID, SectionUUID: section.UUID})
	metrics.RecordPurgeScan(markers.LevelSection.String(), time.Since(start), err)
	if err != nil {
		return err
	}
	if err := s.cache.ReplaceSection(section, purged); err != nil {
		return err
	}
	metrics.SetPurgedMarkers(sectionID, len(purged))
	logging.Ctx(ctx).Info().
		Int64("section_id", sectionID).
		Str("section", section.Name).
		Int("purged", len(purged)).
		Dur("took", time.Since(start)).
		Msg("section purge scan complete")
	return nil
}

// candidates looks up purged actions for markerIDs in sectionID, scanning
// the section once if the cache does not know all of them.
func (s *Service) candidates(ctx context.Context, sectionID int64, markerIDs []int64) ([]markers.Action, []int64, error) {
	lookup := func() ([]markers.Action, []int64) {
		var found []markers.Action
		var missing []int64
		for _, id := range markerIDs {
			if a, ok := s.cache.Get(id); ok && a.SectionID == sectionID {
				found = append(found, a)
			} else {
				missing = append(missing, id)
			}
		}
		return found, missing
	}

	found, missing := lookup()
	if len(missing) == 0 {
		return found, nil, nil
	}
	if _, err := s.Section(ctx, sectionID); err != nil {
		return nil, nil, err
	}
	found, missing = lookup()
	return found, missing, nil
}

// Restore resolves purged markers of one section with mode. Marker ids that
// are not purged are reported in the result's errors.
func (s *Service) Restore(ctx context.Context, sectionID int64, markerIDs []int64, mode Mode) (Result, error) {
	if err := s.guard(); err != nil {
		return Result{}, err
	}
	if mode != ModeOverwrite && mode != ModeMerge && mode != ModeIgnore {
		return Result{}, fmt.Errorf("%w: %v", markers.ErrInvalidMode, mode)
	}
	// Never write onto an item Plex deleted after it was cached.
	s.lib.InvalidateItems()

	found, missing, err := s.candidates(ctx, sectionID, dedupeIDs(markerIDs))
	if err != nil {
		return Result{}, err
	}
	res, err := s.resolver.Resolve(ctx, found, mode)
	if err != nil {
		return Result{}, err
	}
	if len(missing) > 0 {
		res.Errors = append(res.Errors, EpisodeError{
			MarkerIDs: missing,
			Message:   fmt.Sprintf("not purged markers of section %d", sectionID),
		})
	}
	if len(found) > 0 {
		metrics.SetPurgedMarkers(sectionID, s.cache.Count(sectionID))
	}
	return res, nil
}

// Ignore flags purged markers so they are never reported again. Either every
// id is ignored or none is.
func (s *Service) Ignore(ctx context.Context, sectionID int64, markerIDs []int64) error {
	if err := s.guard(); err != nil {
		return err
	}
	found, missing, err := s.candidates(ctx, sectionID, dedupeIDs(markerIDs))
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("purged marker %d in section %d: %w", missing[0], sectionID, markers.ErrNotFound)
	}
	if _, err := s.resolver.Resolve(ctx, found, ModeIgnore); err != nil {
		return err
	}
	metrics.SetPurgedMarkers(sectionID, s.cache.Count(sectionID))
	return nil
}

// Evict drops cached purges under a show, season or item so the next check
// reads them fresh.
func (s *Service) Evict(sectionID int64, level markers.Level, id int64) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.cache.Evict(sectionID, level, id), nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
