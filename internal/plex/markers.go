package plex

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/treefix50/markerguard/internal/markers"
)

const (
	extraDataFinalFlag = "pv%3Afinal=1"
	extraDataVersion   = "pv%3Aversion=5"
)

const markerSelect = `
	SELECT t.id, COALESCE(t.text, ''), t.time_offset, t.end_time_offset, COALESCE(t."index", 0),
		COALESCE(t.thumb_url, ''), COALESCE(t.created_at, 0), COALESCE(t.extra_data, ''),
		base.id, COALESCE(season.id, 0), COALESCE(series.id, 0),
		COALESCE(base.library_section_id, 0), COALESCE(sec.uuid, ''), COALESCE(base.guid, '')
	FROM taggings t
	JOIN metadata_items base ON base.id = t.metadata_item_id
	LEFT JOIN metadata_items season ON season.id = base.parent_id AND base.metadata_type = 4
	LEFT JOIN metadata_items series ON series.id = season.parent_id
	LEFT JOIN library_sections sec ON sec.id = base.library_section_id
	WHERE t.tag_id = ?`

func scopeWhere(level markers.Level) (string, error) {
	switch level {
	case markers.LevelEpisode:
		return "base.id = ?", nil
	case markers.LevelSeason:
		return "season.id = ?", nil
	case markers.LevelShow:
		return "series.id = ?", nil
	case markers.LevelSection:
		return "base.library_section_id = ?", nil
	default:
		return "", fmt.Errorf("plex: unsupported scope level %v", level)
	}
}

// Markers returns every live marker under scope ordered by parent and index.
func (m *Mirror) Markers(ctx context.Context, scope markers.Scope) ([]markers.Marker, error) {
	where, err := scopeWhere(scope.Level)
	if err != nil {
		return nil, err
	}
	return m.queryMarkers(ctx, markerSelect+` AND `+where+` ORDER BY base.id, t."index", t.id`, m.markerTagID, scope.ID)
}

// MarkersByParent loads the markers of several episodes or movies in one pass.
func (m *Mirror) MarkersByParent(ctx context.Context, parentIDs []int64) ([]markers.Marker, error) {
	var out []markers.Marker
	for _, chunk := range chunks(dedupe(parentIDs)) {
		placeholders, args := inClause(chunk)
		ms, err := m.queryMarkers(ctx,
			markerSelect+` AND t.metadata_item_id IN (`+placeholders+`) ORDER BY base.id, t."index", t.id`,
			append([]any{m.markerTagID}, args...)...)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

func (m *Mirror) Marker(ctx context.Context, id int64) (markers.Marker, error) {
	ms, err := m.queryMarkers(ctx, markerSelect+` AND t.id = ?`, m.markerTagID, id)
	if err != nil {
		return markers.Marker{}, err
	}
	if len(ms) == 0 {
		return markers.Marker{}, fmt.Errorf("marker %d: %w", id, markers.ErrNotFound)
	}
	return ms[0], nil
}

// ExistingIDs reports which of ids are still marker rows in Plex.
func (m *Mirror) ExistingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	for _, chunk := range chunks(dedupe(ids)) {
		placeholders, args := inClause(chunk)
		rows, err := m.db.QueryContext(ctx,
			`SELECT id FROM taggings WHERE tag_id = ? AND id IN (`+placeholders+`)`,
			append([]any{m.markerTagID}, args...)...)
		if err != nil {
			return nil, fmt.Errorf("plex: check marker ids: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Mirror) queryMarkers(ctx context.Context, query string, args ...any) ([]markers.Marker, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("plex: query markers: %w", err)
	}
	defer rows.Close()

	var out []markers.Marker
	for rows.Next() {
		var (
			mk        markers.Marker
			text      string
			thumbURL  string
			createdAt int64
			extraData string
		)
		if err := rows.Scan(
			&mk.ID, &text, &mk.Start, &mk.End, &mk.Index, &thumbURL, &createdAt, &extraData,
			&mk.ParentID, &mk.SeasonID, &mk.ShowID, &mk.SectionID, &mk.SectionUUID, &mk.ParentGUID,
		); err != nil {
			return nil, err
		}
		mk.Type = markers.Type(text)
		mk.Final = strings.Contains(extraData, extraDataFinalFlag)
		mk.CreatedAt = time.Unix(createdAt, 0)
		mk.ModifiedAt, mk.UserCreated = parseThumbURL(thumbURL)
		out = append(out, mk)
	}
	return out, rows.Err()
}

// parseThumbURL decodes the modified timestamp markerguard stores in
// thumb_url. A trailing '*' marks a user-created marker.
func parseThumbURL(v string) (time.Time, bool) {
	userCreated := strings.HasSuffix(v, "*")
	secs, err := strconv.ParseInt(strings.TrimSuffix(v, "*"), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, userCreated
	}
	return time.Unix(secs, 0), userCreated
}

func formatThumbURL(modified time.Time, userCreated bool) string {
	v := strconv.FormatInt(modified.Unix(), 10)
	if userCreated {
		v += "*"
	}
	return v
}

func extraData(final bool) string {
	if final {
		return extraDataFinalFlag + "&" + extraDataVersion
	}
	return extraDataVersion
}

// Batch is the write side of one Plex transaction.
type Batch interface {
	// Insert adds m under m.ParentID and returns it with ID and Index set.
	// The index is provisional until Reindex runs.
	Insert(ctx context.Context, m markers.Marker) (markers.Marker, error)
	// Edit rewrites type, range and final flag of an existing marker.
	Edit(ctx context.Context, m markers.Marker) (markers.Marker, error)
	Delete(ctx context.Context, id int64) error
}

type txBatch struct {
	tx  *sql.Tx
	m   *Mirror
	now time.Time
}

// Update runs fn inside one transaction and commits when fn returns nil.
func (m *Mirror) Update(ctx context.Context, fn func(Batch) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("plex: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&txBatch{tx: tx, m: m, now: m.now().Truncate(time.Second)}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("plex: commit: %w", err)
	}
	return nil
}

func (b *txBatch) Insert(ctx context.Context, mk markers.Marker) (markers.Marker, error) {
	if err := markers.ValidateRange(mk.Start, mk.End); err != nil {
		return markers.Marker{}, err
	}
	var count int
	if err := b.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM taggings WHERE tag_id = ? AND metadata_item_id = ?`, b.m.markerTagID, mk.ParentID,
	).Scan(&count); err != nil {
		return markers.Marker{}, fmt.Errorf("plex: count markers of %d: %w", mk.ParentID, err)
	}

	if mk.CreatedAt.IsZero() {
		mk.CreatedAt = b.now
	}
	mk.ModifiedAt = b.now
	mk.Index = count
	res, err := b.tx.ExecContext(ctx, `
		INSERT INTO taggings (metadata_item_id, tag_id, "index", text, time_offset, end_time_offset, thumb_url, created_at, extra_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mk.ParentID, b.m.markerTagID, mk.Index, string(mk.Type), mk.Start, mk.End,
		formatThumbURL(mk.ModifiedAt, mk.UserCreated), mk.CreatedAt.Unix(), extraData(mk.Final),
	)
	if err != nil {
		return markers.Marker{}, fmt.Errorf("plex: insert marker on %d: %w", mk.ParentID, err)
	}
	if mk.ID, err = res.LastInsertId(); err != nil {
		return markers.Marker{}, err
	}
	return mk, nil
}

func (b *txBatch) Edit(ctx context.Context, mk markers.Marker) (markers.Marker, error) {
	if err := markers.ValidateRange(mk.Start, mk.End); err != nil {
		return markers.Marker{}, err
	}
	mk.ModifiedAt = b.now
	res, err := b.tx.ExecContext(ctx, `
		UPDATE taggings
		SET text = ?, time_offset = ?, end_time_offset = ?, thumb_url = ?, extra_data = ?
		WHERE id = ? AND tag_id = ?`,
		string(mk.Type), mk.Start, mk.End, formatThumbURL(mk.ModifiedAt, mk.UserCreated), extraData(mk.Final),
		mk.ID, b.m.markerTagID,
	)
	if err != nil {
		return markers.Marker{}, fmt.Errorf("plex: edit marker %d: %w", mk.ID, err)
	}
	if err := expectOneRow(res, mk.ID); err != nil {
		return markers.Marker{}, err
	}
	return mk, nil
}

func (b *txBatch) Delete(ctx context.Context, id int64) error {
	res, err := b.tx.ExecContext(ctx, `DELETE FROM taggings WHERE id = ? AND tag_id = ?`, id, b.m.markerTagID)
	if err != nil {
		return fmt.Errorf("plex: delete marker %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("marker %d: %w", id, markers.ErrNotFound)
	}
	return nil
}
