// Package testinfra builds throwaway Plex databases for package tests.
package testinfra

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/treefix50/markerguard/internal/markers"
)

// PlexSchema is the subset of the Plex library schema markerguard touches.
const PlexSchema = `
CREATE TABLE library_sections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT,
	section_type INTEGER,
	uuid TEXT
);
CREATE TABLE metadata_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	library_section_id INTEGER,
	parent_id INTEGER,
	metadata_type INTEGER,
	guid TEXT,
	title TEXT,
	"index" INTEGER
);
CREATE TABLE tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tag TEXT,
	tag_type INTEGER
);
CREATE TABLE taggings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metadata_item_id INTEGER,
	tag_id INTEGER,
	"index" INTEGER,
	text TEXT,
	time_offset INTEGER,
	end_time_offset INTEGER,
	thumb_url TEXT,
	created_at INTEGER,
	extra_data TEXT
);
CREATE INDEX index_taggings_on_metadata_item_id ON taggings(metadata_item_id);
CREATE INDEX index_taggings_on_tag_id ON taggings(tag_id);
INSERT INTO tags (tag, tag_type) VALUES ('', 1);
INSERT INTO tags (tag, tag_type) VALUES ('', 12);
`

// Plex is a seeded library database on disk.
type Plex struct {
	t           testing.TB
	DB          *sql.DB
	Path        string
	MarkerTagID int64
}

func NewPlex(t testing.TB) *Plex {
	t.Helper()

	path := filepath.Join(t.TempDir(), "com.plexapp.plugins.library.db")
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		t.Fatalf("open plex db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if _, err := db.Exec(PlexSchema); err != nil {
		t.Fatalf("create plex schema: %v", err)
	}

	p := &Plex{t: t, DB: db, Path: path}
	if err := db.QueryRow(`SELECT id FROM tags WHERE tag_type = 12`).Scan(&p.MarkerTagID); err != nil {
		t.Fatalf("read marker tag: %v", err)
	}
	return p
}

func (p *Plex) insert(query string, args ...any) int64 {
	p.t.Helper()
	res, err := p.DB.Exec(query, args...)
	if err != nil {
		p.t.Fatalf("seed %q: %v", strings.Fields(query)[2], err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		p.t.Fatalf("seed last id: %v", err)
	}
	return id
}

func (p *Plex) Section(name string, typ markers.SectionType) markers.Section {
	p.t.Helper()
	s := markers.Section{Name: name, Type: typ, UUID: uuid.NewString()}
	s.ID = p.insert(`INSERT INTO library_sections (name, section_type, uuid) VALUES (?, ?, ?)`, s.Name, int(s.Type), s.UUID)
	return s
}

func (p *Plex) Show(section markers.Section, title string) int64 {
	p.t.Helper()
	return p.insert(`INSERT INTO metadata_items (library_section_id, parent_id, metadata_type, guid, title, "index") VALUES (?, NULL, 2, ?, ?, 0)`,
		section.ID, "plex://show/"+title, title)
}

func (p *Plex) Season(section markers.Section, show int64, index int) int64 {
	p.t.Helper()
	return p.insert(`INSERT INTO metadata_items (library_section_id, parent_id, metadata_type, guid, title, "index") VALUES (?, ?, 3, ?, ?, ?)`,
		section.ID, show, fmt.Sprintf("plex://season/%d/%d", show, index), fmt.Sprintf("Season %d", index), index)
}

func (p *Plex) Episode(section markers.Section, season int64, index int, guid string) int64 {
	p.t.Helper()
	return p.insert(`INSERT INTO metadata_items (library_section_id, parent_id, metadata_type, guid, title, "index") VALUES (?, ?, 4, ?, ?, ?)`,
		section.ID, season, guid, fmt.Sprintf("Episode %d", index), index)
}

func (p *Plex) Movie(section markers.Section, title, guid string) int64 {
	p.t.Helper()
	return p.insert(`INSERT INTO metadata_items (library_section_id, parent_id, metadata_type, guid, title, "index") VALUES (?, NULL, 1, ?, ?, 0)`,
		section.ID, guid, title)
}

// Marker inserts a Plex-generated marker (no user-created star).
func (p *Plex) Marker(parent int64, typ markers.Type, start, end int64, index int) int64 {
	p.t.Helper()
	return p.insert(`INSERT INTO taggings (metadata_item_id, tag_id, "index", text, time_offset, end_time_offset, thumb_url, created_at, extra_data)
		VALUES (?, ?, ?, ?, ?, ?, '1700000000', 1700000000, 'pv%3Aversion=5')`,
		parent, p.MarkerTagID, index, string(typ), start, end)
}

// Purge deletes marker rows behind the application's back, as a Plex
// library refresh would.
func (p *Plex) Purge(markerIDs ...int64) {
	p.t.Helper()
	for _, id := range markerIDs {
		if _, err := p.DB.Exec(`DELETE FROM taggings WHERE id = ?`, id); err != nil {
			p.t.Fatalf("purge marker %d: %v", id, err)
		}
	}
}

// DeleteItem removes a metadata item and its markers.
func (p *Plex) DeleteItem(id int64) {
	p.t.Helper()
	if _, err := p.DB.Exec(`DELETE FROM taggings WHERE metadata_item_id = ?`, id); err != nil {
		p.t.Fatalf("delete item markers: %v", err)
	}
	if _, err := p.DB.Exec(`DELETE FROM metadata_items WHERE id = ?`, id); err != nil {
		p.t.Fatalf("delete item %d: %v", id, err)
	}
}

// MarkerRow is the raw taggings view used by assertions.
type MarkerRow struct {
	ID     int64
	Parent int64
	Index  int
	Type   string
	Start  int64
	End    int64
}

// Markers returns the raw marker rows of parent ordered by index.
func (p *Plex) Markers(parent int64) []MarkerRow {
	p.t.Helper()
	rows, err := p.DB.Query(`SELECT id, metadata_item_id, "index", text, time_offset, end_time_offset
		FROM taggings WHERE tag_id = ? AND metadata_item_id = ? ORDER BY "index", id`, p.MarkerTagID, parent)
	if err != nil {
		p.t.Fatalf("query markers: %v", err)
	}
	defer rows.Close()

	var out []MarkerRow
	for rows.Next() {
		var r MarkerRow
		if err := rows.Scan(&r.ID, &r.Parent, &r.Index, &r.Type, &r.Start, &r.End); err != nil {
			p.t.Fatalf("scan marker: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		p.t.Fatalf("marker rows: %v", err)
	}
	return out
}
