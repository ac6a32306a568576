package purge

import (
	"testing"

	"github.com/treefix50/markerguard/internal/markers"
)

var testChain = markers.Chain{ParentID: 10, SeasonID: 20, ShowID: 30, SectionID: 1}

func liveMarker(id int64, typ markers.Type, start, end int64) markers.Marker {
	return markers.Marker{ID: id, Type: typ, Start: start, End: end, Chain: testChain}
}

func candidate(id, markerID int64, typ markers.Type, start, end int64) markers.Action {
	return markers.Action{ID: id, Kind: markers.ActionAdd, MarkerID: markerID, MarkerType: typ, Start: start, End: end, Chain: testChain}
}

func ranges(es []*entry) [][2]int64 {
	var out [][2]int64
	for _, e := range es {
		out = append(out, [2]int64{e.marker.Start, e.marker.End})
	}
	return out
}

func TestMergeUnionsOverlap(t *testing.T) {
	live := []markers.Marker{liveMarker(1, markers.TypeIntro, 3000, 7000)}
	plan := planEpisode(live, []markers.Action{candidate(100, 55, markers.TypeIntro, 1000, 5000)}, ModeMerge, testChain)

	deletes := plan.deletes()
	if len(deletes) != 1 || deletes[0].orig.ID != 1 {
		t.Fatalf("expected live marker 1 deleted, got %v", ranges(deletes))
	}
	inserts := plan.inserts()
	if len(inserts) != 1 || inserts[0].marker.Start != 1000 || inserts[0].marker.End != 7000 {
		t.Fatalf("expected one 1000-7000 insert, got %v", ranges(inserts))
	}
	if got := plan.outcomes[0].target.resolve(); got != inserts[0] {
		t.Fatalf("candidate not resolved to merged marker")
	}
}

func TestMergeIntoContainingMarkerIsNoop(t *testing.T) {
	live := []markers.Marker{liveMarker(1, markers.TypeIntro, 1000, 9000)}
	plan := planEpisode(live, []markers.Action{candidate(100, 55, markers.TypeIntro, 2000, 4000)}, ModeMerge, testChain)

	if plan.changed() {
		t.Fatalf("merge into containing marker wrote: deletes=%v inserts=%v", ranges(plan.deletes()), ranges(plan.inserts()))
	}
	target := plan.outcomes[0].target.resolve()
	if target.state != stateLive || target.marker != live[0] {
		t.Fatalf("expected existing marker unchanged, got %+v", target.marker)
	}
}

func TestMergeSpansSeveralMarkers(t *testing.T) {
	live := []markers.Marker{
		liveMarker(1, markers.TypeIntro, 0, 2000),
		liveMarker(2, markers.TypeIntro, 4000, 6000),
		liveMarker(3, markers.TypeCredits, 90000, 95000),
	}
	plan := planEpisode(live, []markers.Action{candidate(100, 55, markers.TypeIntro, 1500, 4500)}, ModeMerge, testChain)

	if got := len(plan.deletes()); got != 2 {
		t.Fatalf("expected 2 deletes, got %d", got)
	}
	inserts := plan.inserts()
	if len(inserts) != 1 || inserts[0].marker.Start != 0 || inserts[0].marker.End != 6000 {
		t.Fatalf("unexpected inserts %v", ranges(inserts))
	}
	before, after := plan.counts()
	if before != [2]int{2, 1} || after != [2]int{1, 1} {
		t.Fatalf("unexpected counts before=%v after=%v", before, after)
	}
}

func TestMergeComposesLeftToRight(t *testing.T) {
	cands := []markers.Action{
		candidate(101, 56, markers.TypeIntro, 4000, 8000),
		candidate(100, 55, markers.TypeIntro, 1000, 5000),
	}
	plan := planEpisode(nil, cands, ModeMerge, testChain)

	inserts := plan.inserts()
	if len(inserts) != 1 || inserts[0].marker.Start != 1000 || inserts[0].marker.End != 8000 {
		t.Fatalf("unexpected inserts %v", ranges(inserts))
	}
	for _, o := range plan.outcomes {
		if o.target.resolve() != inserts[0] {
			t.Fatalf("candidate %d not resolved to merged marker", o.candidate.MarkerID)
		}
	}
}

func TestOverwriteDeletesOverlaps(t *testing.T) {
	live := []markers.Marker{
		liveMarker(1, markers.TypeIntro, 3000, 7000),
		liveMarker(2, markers.TypeCredits, 80000, 90000),
	}
	plan := planEpisode(live, []markers.Action{candidate(100, 55, markers.TypeIntro, 1000, 5000)}, ModeOverwrite, testChain)

	deletes := plan.deletes()
	if len(deletes) != 1 || deletes[0].orig.ID != 1 {
		t.Fatalf("unexpected deletes %v", ranges(deletes))
	}
	inserts := plan.inserts()
	if len(inserts) != 1 || inserts[0].marker.Start != 1000 || inserts[0].marker.End != 5000 {
		t.Fatalf("unexpected inserts %v", ranges(inserts))
	}
}

func TestOverwriteKeepsBatchInserts(t *testing.T) {
	cands := []markers.Action{
		candidate(100, 55, markers.TypeIntro, 1000, 5000),
		candidate(101, 56, markers.TypeIntro, 4000, 8000),
	}
	plan := planEpisode(nil, cands, ModeOverwrite, testChain)
	if got := len(plan.inserts()); got != 2 {
		t.Fatalf("expected both candidates inserted, got %d", got)
	}
}

func TestIdenticalMarkerIsExisting(t *testing.T) {
	live := []markers.Marker{liveMarker(1, markers.TypeCredits, 1000, 5000)}
	for _, mode := range []Mode{ModeOverwrite, ModeMerge} {
		plan := planEpisode(live, []markers.Action{candidate(100, 55, markers.TypeCredits, 1000, 5000)}, mode, testChain)
		if plan.changed() {
			t.Fatalf("%v: identical candidate wrote", mode)
		}
		if plan.outcomes[0].target.state != stateLive {
			t.Fatalf("%v: expected existing outcome", mode)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"overwrite", ModeOverwrite, true},
		{"2", ModeMerge, true},
		{" Ignore ", ModeIgnore, true},
		{"4", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}
