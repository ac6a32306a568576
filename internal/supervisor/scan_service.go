package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/thejerf/suture/v4"

	"github.com/treefix50/markerguard/internal/logging"
	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/purge"
)

// SectionLister lists the library sections to scan.
type SectionLister interface {
	Sections(ctx context.Context) ([]markers.Section, error)
}

// SectionScanner refreshes the purge cache of one section.
type SectionScanner interface {
	Section(ctx context.Context, sectionID int64) (*purge.Group, error)
}

// ScanService refreshes every section's purge cache on an interval so the
// first request after a Plex library refresh does not pay for a full scan.
type ScanService struct {
	sections SectionLister
	scanner  SectionScanner
	interval time.Duration
	workers  int
}

func NewScanService(sections SectionLister, scanner SectionScanner, interval time.Duration, workers int) *ScanService {
	if workers < 1 {
		workers = 1
	}
	return &ScanService{sections: sections, scanner: scanner, interval: interval, workers: workers}
}

// Serve scans immediately and then on every tick. A zero interval scans once.
func (s *ScanService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		if err := s.ScanAll(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Msg("purge scan failed")
		}
		return suture.ErrDoNotRestart
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.ScanAll(ctx); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Msg("periodic purge scan failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanAll scans every section with at most workers running at once. Section
// failures are joined; one failing section does not stop the others.
func (s *ScanService) ScanAll(ctx context.Context) error {
	sections, err := s.sections.Sections(ctx)
	if err != nil {
		return fmt.Errorf("list sections: %w", err)
	}

	start := time.Now()
	p := pool.New().WithMaxGoroutines(s.workers).WithContext(ctx)
	for _, section := range sections {
		p.Go(func(ctx context.Context) error {
			g, err := s.scanner.Section(ctx, section.ID)
			if err != nil {
				return fmt.Errorf("section %d (%s): %w", section.ID, section.Name, err)
			}
			logging.Debug().
				Int64("section_id", section.ID).
				Int("purged", g.Count()).
				Msg("section scanned")
			return nil
		})
	}
	err = p.Wait()
	logging.Info().
		Int("sections", len(sections)).
		Dur("duration", time.Since(start)).
		Msg("purge scan finished")
	return err
}

func (s *ScanService) String() string { return "purge-scanner" }
