package editor

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/treefix50/markerguard/internal/breakdown"
	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/plex"
	"github.com/treefix50/markerguard/internal/storage"
	"github.com/treefix50/markerguard/internal/testinfra"
)

type library struct {
	plex     *testinfra.Plex
	mirror   *plex.Mirror
	actions  *storage.Store
	counts   *breakdown.Cache
	editor   *Service
	section  markers.Section
	season   int64
	episodes []int64
}

func newLibrary(t *testing.T) *library {
	t.Helper()

	p := testinfra.NewPlex(t)
	lib := &library{plex: p, counts: breakdown.New()}
	lib.section = p.Section("TV Shows", markers.SectionShow)
	show := p.Show(lib.section, "Slow Horses")
	lib.season = p.Season(lib.section, show, 1)
	for i := 1; i <= 3; i++ {
		lib.episodes = append(lib.episodes, p.Episode(lib.section, lib.season, i, ""))
	}

	mirror, err := plex.Open(p.Path, plex.Options{BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	t.Cleanup(func() {
		_ = mirror.Close()
	})
	actions, err := storage.Open(filepath.Join(t.TempDir(), "actions.db"), storage.Options{BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open action log: %v", err)
	}
	t.Cleanup(func() {
		_ = actions.Close()
	})
	lib.mirror, lib.actions = mirror, actions
	lib.editor = New(mirror, actions, lib.counts)
	return lib
}

func (lib *library) add(t *testing.T, parent int64, typ markers.Type, start, end int64) markers.Marker {
	t.Helper()
	m, err := lib.editor.Add(context.Background(), AddRequest{ParentID: parent, Type: typ, Start: start, End: end})
	if err != nil {
		t.Fatalf("Add(%d-%d) error = %v", start, end, err)
	}
	return m
}

func assertContiguous(t *testing.T, rows []testinfra.MarkerRow) {
	t.Helper()
	for i, r := range rows {
		if r.Index != i {
			t.Fatalf("marker %d at position %d has index %d: %+v", r.ID, i, r.Index, rows)
		}
		if i > 0 && rows[i-1].Start > r.Start {
			t.Fatalf("indices not in start order: %+v", rows)
		}
	}
}

func TestDeleteRenumbersRemaining(t *testing.T) {
	lib := newLibrary(t)
	ep := lib.episodes[0]
	lib.add(t, ep, markers.TypeIntro, 1000, 2000)
	middle := lib.add(t, ep, markers.TypeIntro, 5000, 6000)
	lib.add(t, ep, markers.TypeCredits, 9000, 9500)

	if _, err := lib.editor.Delete(context.Background(), middle.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	rows := lib.plex.Markers(ep)
	if len(rows) != 2 || rows[0].Start != 1000 || rows[0].Index != 0 || rows[1].Start != 9000 || rows[1].Index != 1 {
		t.Fatalf("unexpected markers after delete: %+v", rows)
	}
}

func TestAddReturnsFinalIndex(t *testing.T) {
	lib := newLibrary(t)
	ep := lib.episodes[0]
	lib.add(t, ep, markers.TypeCredits, 50000, 60000)
	m := lib.add(t, ep, markers.TypeIntro, 1000, 2000)
	if m.Index != 0 || !m.UserCreated {
		t.Fatalf("unexpected added marker: %+v", m)
	}
	assertContiguous(t, lib.plex.Markers(ep))
}

func TestAddRejectsOverlap(t *testing.T) {
	lib := newLibrary(t)
	ep := lib.episodes[0]
	existing := lib.add(t, ep, markers.TypeIntro, 1000, 5000)

	_, err := lib.editor.Add(context.Background(), AddRequest{ParentID: ep, Type: markers.TypeCredits, Start: 5000, End: 8000})
	var conflict *markers.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Existing.ID != existing.ID {
		t.Fatalf("conflict names marker %d, want %d", conflict.Existing.ID, existing.ID)
	}
}

func TestEditMayKeepOwnRange(t *testing.T) {
	lib := newLibrary(t)
	ep := lib.episodes[0]
	m := lib.add(t, ep, markers.TypeIntro, 1000, 5000)
	lib.add(t, ep, markers.TypeIntro, 8000, 9000)

	edited, err := lib.editor.Edit(context.Background(), EditRequest{ID: m.ID, Type: markers.TypeIntro, Start: 2000, End: 6000})
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if edited.Start != 2000 || edited.End != 6000 {
		t.Fatalf("unexpected edit result: %+v", edited)
	}
	_, err = lib.editor.Edit(context.Background(), EditRequest{ID: m.ID, Type: markers.TypeIntro, Start: 2000, End: 8500})
	var conflict *markers.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	tests := []struct {
		name string
		req  AddRequest
		want error
	}{
		{"negative start", AddRequest{ParentID: lib.episodes[0], Type: markers.TypeIntro, Start: -1, End: 10}, markers.ErrInvalidRange},
		{"empty range", AddRequest{ParentID: lib.episodes[0], Type: markers.TypeIntro, Start: 10, End: 10}, markers.ErrInvalidRange},
		{"bad type", AddRequest{ParentID: lib.episodes[0], Type: "recap", Start: 0, End: 10}, markers.ErrInvalidType},
		{"season parent", AddRequest{ParentID: lib.season, Type: markers.TypeIntro, Start: 0, End: 10}, markers.ErrNotMarkable},
		{"missing parent", AddRequest{ParentID: 987654, Type: markers.TypeIntro, Start: 0, End: 10}, markers.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := lib.editor.Add(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("Add() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := lib.editor.Delete(ctx, 424242); !errors.Is(err, markers.ErrNotFound) {
		t.Fatalf("Delete(missing) error = %v", err)
	}
}

func TestCommandsAreLogged(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	ep := lib.episodes[0]
	m := lib.add(t, ep, markers.TypeIntro, 1000, 5000)
	if _, err := lib.editor.Edit(ctx, EditRequest{ID: m.ID, Type: markers.TypeIntro, Start: 1500, End: 5000}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if _, err := lib.editor.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	actions, err := lib.actions.QueryByScope(ctx, markers.Scope{Level: markers.LevelEpisode, ID: ep})
	if err != nil {
		t.Fatalf("QueryByScope() error = %v", err)
	}
	want := []markers.ActionKind{markers.ActionAdd, markers.ActionEdit, markers.ActionDelete}
	if len(actions) != len(want) {
		t.Fatalf("got %d actions, want %d", len(actions), len(want))
	}
	for i, a := range actions {
		if a.Kind != want[i] || a.MarkerID != m.ID || a.SectionUUID != lib.section.UUID {
			t.Fatalf("action %d = %+v", i, a)
		}
	}
	if actions[1].OldStart == nil || *actions[1].OldStart != 1000 {
		t.Fatalf("edit did not record old start: %+v", actions[1])
	}
}

type brokenLog struct{}

func (brokenLog) RecordAdd(context.Context, markers.Marker) (markers.Action, error) {
	return markers.Action{}, errors.New("database is locked")
}

func (brokenLog) RecordEdit(context.Context, markers.Marker, int64, int64) (markers.Action, error) {
	return markers.Action{}, errors.New("database is locked")
}

func (brokenLog) RecordDelete(context.Context, markers.Marker) (markers.Action, error) {
	return markers.Action{}, errors.New("database is locked")
}

func TestLogFailureDoesNotFailCommand(t *testing.T) {
	lib := newLibrary(t)
	editor := New(lib.mirror, brokenLog{}, nil)
	m, err := editor.Add(context.Background(), AddRequest{ParentID: lib.episodes[0], Type: markers.TypeIntro, Start: 0, End: 100})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := editor.Delete(context.Background(), m.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestRandomEditsKeepIndicesAndBreakdown(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	if _, err := lib.editor.Breakdown(ctx, markers.LevelSection, lib.section.ID); err != nil {
		t.Fatalf("Breakdown() error = %v", err)
	}

	live := map[int64]markers.Marker{}
	for step := 0; step < 120; step++ {
		ep := lib.episodes[rng.Intn(len(lib.episodes))]
		typ := markers.TypeIntro
		if rng.Intn(2) == 0 {
			typ = markers.TypeCredits
		}
		start := int64(rng.Intn(100)) * 1000
		end := start + int64(rng.Intn(900)+1)

		var ids []int64
		for id := range live {
			ids = append(ids, id)
		}
		var target int64
		if len(ids) > 0 {
			target = ids[rng.Intn(len(ids))]
		}

		var conflict *markers.ConflictError
		switch op := rng.Intn(3); {
		case op == 0 || target == 0:
			m, err := lib.editor.Add(ctx, AddRequest{ParentID: ep, Type: typ, Start: start, End: end})
			if err == nil {
				live[m.ID] = m
			} else if !errors.As(err, &conflict) {
				t.Fatalf("step %d: Add() error = %v", step, err)
			}
		case op == 1:
			m, err := lib.editor.Edit(ctx, EditRequest{ID: target, Type: typ, Start: start, End: end})
			if err == nil {
				live[m.ID] = m
			} else if !errors.As(err, &conflict) {
				t.Fatalf("step %d: Edit() error = %v", step, err)
			}
		default:
			if _, err := lib.editor.Delete(ctx, target); err != nil {
				t.Fatalf("step %d: Delete() error = %v", step, err)
			}
			delete(live, target)
		}

		for _, e := range lib.episodes {
			assertContiguous(t, lib.plex.Markers(e))
		}
		if got := lib.counts.Total(markers.LevelSection, lib.section.ID); got != len(lib.episodes) {
			t.Fatalf("step %d: breakdown total %d, want %d", step, got, len(lib.episodes))
		}
	}

	incremental, _ := lib.counts.Breakdown(markers.LevelSeason, lib.season)
	if err := lib.editor.RebuildBreakdown(ctx, lib.section.ID); err != nil {
		t.Fatalf("RebuildBreakdown() error = %v", err)
	}
	rebuilt, _ := lib.counts.Breakdown(markers.LevelSeason, lib.season)
	if len(incremental) != len(rebuilt) {
		t.Fatalf("incremental %v != rebuilt %v", incremental, rebuilt)
	}
	for k, v := range rebuilt {
		if incremental[k] != v {
			t.Fatalf("incremental %v != rebuilt %v", incremental, rebuilt)
		}
	}
}

func TestQueryIncludesEmptyParents(t *testing.T) {
	lib := newLibrary(t)
	lib.add(t, lib.episodes[0], markers.TypeIntro, 0, 100)

	got, err := lib.editor.Query(context.Background(), lib.episodes[:2])
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got[lib.episodes[0]]) != 1 || got[lib.episodes[1]] == nil || len(got[lib.episodes[1]]) != 0 {
		t.Fatalf("unexpected query result: %v", got)
	}
}
