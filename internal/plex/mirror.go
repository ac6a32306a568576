// Package plex reads and writes marker rows in a Plex library database.
package plex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/storage"
)

// markerTagType is tags.tag_type for intro/credits markers.
const markerTagType = 12

// chunkSize bounds the number of bound parameters per IN (...) query.
const chunkSize = 500

type Mirror struct {
	db          *sql.DB
	markerTagID int64
	items       *expirable.LRU[int64, markers.Item]
	now         func() time.Time
}

type Options struct {
	BusyTimeout   time.Duration
	ItemCacheSize int
	ItemCacheTTL  time.Duration
	Now           func() time.Time
}

func Open(path string, options Options) (*Mirror, error) {
	dsn, err := storage.DSN(path, storage.Options{BusyTimeout: options.BusyTimeout})
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	m := &Mirror{db: db, now: options.Now}
	if m.now == nil {
		m.now = time.Now
	}
	if err := db.QueryRow(`SELECT id FROM tags WHERE tag_type = ? ORDER BY id LIMIT 1`, markerTagType).Scan(&m.markerTagID); err != nil {
		_ = db.Close()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("plex: %s has no marker tag; is this a Plex library database?", path)
		}
		return nil, fmt.Errorf("plex: open %s: %w", path, err)
	}

	size := options.ItemCacheSize
	if size <= 0 {
		size = 4096
	}
	ttl := options.ItemCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	m.items = expirable.NewLRU[int64, markers.Item](size, nil, ttl)
	return m, nil
}

func (m *Mirror) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

// InvalidateItems drops cached metadata items so the next lookup sees
// items Plex removed or re-created.
func (m *Mirror) InvalidateItems() {
	m.items.Purge()
}

func (m *Mirror) Sections(ctx context.Context) ([]markers.Section, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, COALESCE(name, ''), section_type, COALESCE(uuid, '')
		FROM library_sections
		WHERE section_type IN (1, 2)
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("plex: list sections: %w", err)
	}
	defer rows.Close()

	var sections []markers.Section
	for rows.Next() {
		var s markers.Section
		if err := rows.Scan(&s.ID, &s.Name, &s.Type, &s.UUID); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

func (m *Mirror) Section(ctx context.Context, id int64) (markers.Section, error) {
	var s markers.Section
	err := m.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), section_type, COALESCE(uuid, '')
		FROM library_sections
		WHERE id = ? AND section_type IN (1, 2)
	`, id).Scan(&s.ID, &s.Name, &s.Type, &s.UUID)
	if errors.Is(err, sql.ErrNoRows) {
		return markers.Section{}, fmt.Errorf("section %d: %w", id, markers.ErrNotFound)
	}
	if err != nil {
		return markers.Section{}, fmt.Errorf("plex: section %d: %w", id, err)
	}
	return s, nil
}

// Items resolves metadata items by id. Ids Plex no longer has are absent
// from the result.
func (m *Mirror) Items(ctx context.Context, ids []int64) (map[int64]markers.Item, error) {
	out := make(map[int64]markers.Item, len(ids))
	var missing []int64
	for _, id := range dedupe(ids) {
		if it, ok := m.items.Get(id); ok {
			out[id] = it
			continue
		}
		missing = append(missing, id)
	}

	for _, chunk := range chunks(missing) {
		placeholders, args := inClause(chunk)
		rows, err := m.db.QueryContext(ctx, `
			SELECT it.id, it.metadata_type, COALESCE(it.guid, ''), COALESCE(it.title, ''),
				COALESCE(it.library_section_id, 0),
				CASE it.metadata_type WHEN 4 THEN COALESCE(it.parent_id, 0) ELSE 0 END,
				CASE it.metadata_type
					WHEN 4 THEN COALESCE(parent.parent_id, 0)
					WHEN 3 THEN COALESCE(it.parent_id, 0)
					ELSE 0 END
			FROM metadata_items it
			LEFT JOIN metadata_items parent ON parent.id = it.parent_id
			WHERE it.id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("plex: load items: %w", err)
		}
		for rows.Next() {
			var it markers.Item
			if err := rows.Scan(&it.ID, &it.Type, &it.GUID, &it.Title, &it.SectionID, &it.SeasonID, &it.ShowID); err != nil {
				rows.Close()
				return nil, err
			}
			m.items.Add(it.ID, it)
			out[it.ID] = it
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ItemsByGUID maps each guid to the newest episode or movie carrying it.
func (m *Mirror) ItemsByGUID(ctx context.Context, guids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(guids))
	for _, chunk := range chunks(dedupe(guids)) {
		placeholders, args := inClause(chunk)
		rows, err := m.db.QueryContext(ctx, `
			SELECT guid, MAX(id)
			FROM metadata_items
			WHERE metadata_type IN (1, 4) AND guid IN (`+placeholders+`)
			GROUP BY guid`, args...)
		if err != nil {
			return nil, fmt.Errorf("plex: items by guid: %w", err)
		}
		for rows.Next() {
			var (
				guid string
				id   int64
			)
			if err := rows.Scan(&guid, &id); err != nil {
				rows.Close()
				return nil, err
			}
			out[guid] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkerCounts returns the intro and credits count of every episode or
// movie in a section, including items without markers.
func (m *Mirror) MarkerCounts(ctx context.Context, sectionID int64) ([]markers.ItemCount, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT base.id, COALESCE(season.id, 0), COALESCE(series.id, 0), base.library_section_id, COALESCE(sec.uuid, ''),
			COALESCE(SUM(CASE WHEN t.text = 'intro' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN t.text = 'credits' THEN 1 ELSE 0 END), 0)
		FROM metadata_items base
		JOIN library_sections sec ON sec.id = base.library_section_id
		LEFT JOIN metadata_items season ON season.id = base.parent_id AND base.metadata_type = 4
		LEFT JOIN metadata_items series ON series.id = season.parent_id
		LEFT JOIN taggings t ON t.metadata_item_id = base.id AND t.tag_id = ?
		WHERE base.library_section_id = ? AND base.metadata_type IN (1, 4)
		GROUP BY base.id
		ORDER BY base.id
	`, m.markerTagID, sectionID)
	if err != nil {
		return nil, fmt.Errorf("plex: marker counts for section %d: %w", sectionID, err)
	}
	defer rows.Close()

	var counts []markers.ItemCount
	for rows.Next() {
		var c markers.ItemCount
		if err := rows.Scan(&c.ParentID, &c.SeasonID, &c.ShowID, &c.SectionID, &c.SectionUUID, &c.Intros, &c.Credits); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func chunks[T any](ids []T) [][]T {
	var out [][]T
	for len(ids) > chunkSize {
		out = append(out, ids[:chunkSize])
		ids = ids[chunkSize:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func inClause[T any](ids []T) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

func dedupe[T comparable](ids []T) []T {
	seen := make(map[T]struct{}, len(ids))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
