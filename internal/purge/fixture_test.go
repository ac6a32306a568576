package purge

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/treefix50/markerguard/internal/breakdown"
	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/plex"
	"github.com/treefix50/markerguard/internal/storage"
	"github.com/treefix50/markerguard/internal/testinfra"
)

type fixture struct {
	plex    *testinfra.Plex
	mirror  *plex.Mirror
	log     *storage.Store
	counts  *breakdown.Cache
	section markers.Section
	show    int64
	season  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := testinfra.NewPlex(t)
	f := &fixture{plex: p, counts: breakdown.New()}
	f.section = p.Section("TV Shows", markers.SectionShow)
	f.show = p.Show(f.section, "Andor")
	f.season = p.Season(f.section, f.show, 1)

	mirror, err := plex.Open(p.Path, plex.Options{BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	t.Cleanup(func() {
		_ = mirror.Close()
	})
	f.mirror = mirror

	log, err := storage.Open(filepath.Join(t.TempDir(), "actions.db"), storage.Options{BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open action log: %v", err)
	}
	t.Cleanup(func() {
		_ = log.Close()
	})
	f.log = log
	return f
}

func (f *fixture) episode(index int) int64 {
	return f.plex.Episode(f.section, f.season, index, fmt.Sprintf("plex://episode/andor-s01e%02d", index))
}

// added creates a Plex marker and logs it as the application would.
func (f *fixture) added(t *testing.T, parent int64, typ markers.Type, start, end int64) markers.Action {
	t.Helper()
	ctx := context.Background()
	id := f.plex.Marker(parent, typ, start, end, len(f.plex.Markers(parent)))
	m, err := f.mirror.Marker(ctx, id)
	if err != nil {
		t.Fatalf("read marker %d: %v", id, err)
	}
	a, err := f.log.RecordAdd(ctx, m)
	if err != nil {
		t.Fatalf("record add: %v", err)
	}
	return a
}

func (f *fixture) detector() *Detector {
	return NewDetector(f.log, f.mirror, GUIDMatcher{Items: f.mirror})
}

func (f *fixture) find(t *testing.T, scope markers.Scope) []markers.Action {
	t.Helper()
	purged, err := f.detector().Find(context.Background(), scope)
	if err != nil {
		t.Fatalf("Find(%v %d) error = %v", scope.Level, scope.ID, err)
	}
	return purged
}

func (f *fixture) rebuildCounts(t *testing.T) {
	t.Helper()
	counts, err := f.mirror.MarkerCounts(context.Background(), f.section.ID)
	if err != nil {
		t.Fatalf("marker counts: %v", err)
	}
	f.counts.Rebuild(f.section.ID, counts)
}

func markerIDs(as []markers.Action) []int64 {
	out := make([]int64, len(as))
	for i, a := range as {
		out[i] = a.MarkerID
	}
	return out
}
