package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/treefix50/markerguard/internal/markers"
)

const actionColumns = `
	id, op, marker_id, marker_type, start_ms, end_ms, old_start_ms, old_end_ms,
	final, user_created, episode_id, season_id, show_id, section_id, section_uuid,
	parent_guid, created_at, modified_at, recorded_at, restores_id, restored_id, ignored`

// scopeColumn maps a level to the chain column that holds it.
func scopeColumn(level markers.Level) (string, error) {
	switch level {
	case markers.LevelEpisode:
		return "episode_id", nil
	case markers.LevelSeason:
		return "season_id", nil
	case markers.LevelShow:
		return "show_id", nil
	case markers.LevelSection:
		return "section_id", nil
	default:
		return "", fmt.Errorf("storage: unsupported scope level %v", level)
	}
}

func scopeFilter(scope markers.Scope) (string, []any, error) {
	column, err := scopeColumn(scope.Level)
	if err != nil {
		return "", nil, err
	}
	where := column + " = ?"
	args := []any{scope.ID}
	if scope.SectionUUID != "" {
		where += " AND section_uuid = ?"
		args = append(args, scope.SectionUUID)
	}
	return where, args, nil
}

func (s *Store) RecordAdd(ctx context.Context, m markers.Marker) (markers.Action, error) {
	actions, err := s.Record(ctx, markers.ActionFromMarker(markers.ActionAdd, m))
	if err != nil {
		return markers.Action{}, err
	}
	return actions[0], nil
}

func (s *Store) RecordEdit(ctx context.Context, m markers.Marker, oldStart, oldEnd int64) (markers.Action, error) {
	actions, err := s.Record(ctx, markers.ActionFromMarker(markers.ActionEdit, m).WithOld(oldStart, oldEnd))
	if err != nil {
		return markers.Action{}, err
	}
	return actions[0], nil
}

func (s *Store) RecordDelete(ctx context.Context, m markers.Marker) (markers.Action, error) {
	actions, err := s.Record(ctx, markers.ActionFromMarker(markers.ActionDelete, m))
	if err != nil {
		return markers.Action{}, err
	}
	return actions[0], nil
}

// RecordRestore appends restored as a Restore action pointing back at
// purgedID and marks the purged action as restored.
func (s *Store) RecordRestore(ctx context.Context, purgedID int64, restored markers.Action) (markers.Action, error) {
	restored.Kind = markers.ActionRestore
	restored.RestoresID = &purgedID
	actions, err := s.Record(ctx, restored)
	if err != nil {
		return markers.Action{}, err
	}
	return actions[0], nil
}

// Record appends entries in one transaction, stamping RecordedAt and ID.
// A Restore entry with RestoresID set also fills restored_id on the action
// it restores.
func (s *Store) Record(ctx context.Context, entries ...markers.Action) (out []markers.Action, err error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage: missing database connection")
	}
	if s.readOnly {
		return nil, fmt.Errorf("storage: action log is read-only")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO actions (
			op, marker_id, marker_type, start_ms, end_ms, old_start_ms, old_end_ms,
			final, user_created, episode_id, season_id, show_id, section_id, section_uuid,
			parent_guid, created_at, modified_at, recorded_at, restores_id, restored_id, ignored
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)
	`)
	if err != nil {
		return nil, err
	}
	defer insert.Close()

	recordedAt := s.now().Truncate(time.Second)
	out = make([]markers.Action, 0, len(entries))
	for _, a := range entries {
		a.RecordedAt = recordedAt
		a.RestoredID = nil
		a.Ignored = false
		res, execErr := insert.ExecContext(ctx,
			int(a.Kind), a.MarkerID, string(a.MarkerType), a.Start, a.End,
			nullInt64(a.OldStart), nullInt64(a.OldEnd),
			boolInt(a.Final), boolInt(a.UserCreated),
			a.ParentID, a.SeasonID, a.ShowID, a.SectionID, a.SectionUUID, a.ParentGUID,
			unixOrZero(a.CreatedAt), unixOrZero(a.ModifiedAt), recordedAt.Unix(),
			nullInt64(a.RestoresID),
		)
		if execErr != nil {
			return nil, fmt.Errorf("storage: append %s action for marker %d: %w", a.Kind, a.MarkerID, execErr)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}

		if a.Kind == markers.ActionRestore && a.RestoresID != nil {
			if _, err = tx.ExecContext(ctx,
				`UPDATE actions SET restored_id = ? WHERE id = ?`, a.ID, *a.RestoresID,
			); err != nil {
				return nil, fmt.Errorf("storage: link restore %d: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryByScope returns every action whose chain contains the scope id at the
// scope level, oldest first.
func (s *Store) QueryByScope(ctx context.Context, scope markers.Scope) ([]markers.Action, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage: missing database connection")
	}
	where, args, err := scopeFilter(scope)
	if err != nil {
		return nil, err
	}
	return s.queryActions(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE `+where+` ORDER BY recorded_at, id`, args...)
}

// Latest returns the newest action for each marker id within scope.
func (s *Store) Latest(ctx context.Context, scope markers.Scope) ([]markers.Action, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage: missing database connection")
	}
	where, args, err := scopeFilter(scope)
	if err != nil {
		return nil, err
	}
	return s.queryActions(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE id IN (SELECT MAX(id) FROM actions WHERE `+where+` GROUP BY marker_id)
		ORDER BY id`, args...)
}

// Between returns actions recorded in [from, to], oldest first. A zero bound
// is open.
func (s *Store) Between(ctx context.Context, from, to time.Time) ([]markers.Action, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage: missing database connection")
	}
	var (
		clauses []string
		args    []any
	)
	if !from.IsZero() {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, from.Unix())
	}
	if !to.IsZero() {
		clauses = append(clauses, "recorded_at <= ?")
		args = append(args, to.Unix())
	}
	query := `SELECT ` + actionColumns + ` FROM actions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	return s.queryActions(ctx, query+` ORDER BY recorded_at, id`, args...)
}

func (s *Store) Action(ctx context.Context, id int64) (markers.Action, error) {
	if s == nil || s.db == nil {
		return markers.Action{}, fmt.Errorf("storage: missing database connection")
	}
	actions, err := s.queryActions(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	if err != nil {
		return markers.Action{}, err
	}
	if len(actions) == 0 {
		return markers.Action{}, fmt.Errorf("action %d: %w", id, markers.ErrNotFound)
	}
	return actions[0], nil
}

// Ignore flags actions so purge detection skips them. Returns the number of
// rows changed.
func (s *Store) Ignore(ctx context.Context, actionIDs []int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage: missing database connection")
	}
	if len(actionIDs) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(actionIDs)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE actions SET ignored = 1 WHERE ignored = 0 AND id IN (%s)`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("storage: ignore actions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryActions(ctx context.Context, query string, args ...any) ([]markers.Action, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []markers.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (markers.Action, error) {
	var (
		a                      markers.Action
		op                     int
		markerType             string
		oldStart, oldEnd       sql.NullInt64
		final, userCreated     int
		createdAt, modifiedAt  int64
		recordedAt             int64
		restoresID, restoredID sql.NullInt64
		ignored                int
	)
	err := row.Scan(
		&a.ID, &op, &a.MarkerID, &markerType, &a.Start, &a.End, &oldStart, &oldEnd,
		&final, &userCreated, &a.ParentID, &a.SeasonID, &a.ShowID, &a.SectionID, &a.SectionUUID,
		&a.ParentGUID, &createdAt, &modifiedAt, &recordedAt, &restoresID, &restoredID, &ignored,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return markers.Action{}, markers.ErrNotFound
	}
	if err != nil {
		return markers.Action{}, err
	}

	a.Kind = markers.ActionKind(op)
	a.MarkerType = markers.Type(markerType)
	a.OldStart = int64Ptr(oldStart)
	a.OldEnd = int64Ptr(oldEnd)
	a.Final = final != 0
	a.UserCreated = userCreated != 0
	a.CreatedAt = time.Unix(createdAt, 0)
	a.ModifiedAt = time.Unix(modifiedAt, 0)
	a.RecordedAt = time.Unix(recordedAt, 0)
	a.RestoresID = int64Ptr(restoresID)
	a.RestoredID = int64Ptr(restoredID)
	a.Ignored = ignored != 0
	return a, nil
}

func inClause(ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
