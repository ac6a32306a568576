package plex

import (
	"context"
	"fmt"
	"strings"

	"github.com/treefix50/markerguard/internal/markers"
)

// Reindex renumbers the markers of every given parent so indices run
// 0..n-1 in start order. All rows are read up front and every changed index
// is written by a single UPDATE. Returns the number of rows rewritten.
func (m *Mirror) Reindex(ctx context.Context, parentIDs []int64) (int, error) {
	if len(parentIDs) == 0 {
		return 0, nil
	}
	all, err := m.MarkersByParent(ctx, parentIDs)
	if err != nil {
		return 0, fmt.Errorf("plex: reindex read: %w", err)
	}

	var changes []markers.IndexChange
	for _, ms := range markers.GroupByParent(all) {
		changes = append(changes, markers.Reindex(ms)...)
	}
	if len(changes) == 0 {
		return 0, nil
	}

	for _, chunk := range chunks(changes) {
		if err := m.writeIndexes(ctx, chunk); err != nil {
			return 0, err
		}
	}
	return len(changes), nil
}

func (m *Mirror) writeIndexes(ctx context.Context, changes []markers.IndexChange) error {
	var (
		cases strings.Builder
		args  = make([]any, 0, len(changes)*3)
		ids   = make([]any, 0, len(changes))
	)
	for _, c := range changes {
		cases.WriteString(" WHEN ? THEN ?")
		args = append(args, c.ID, c.Index)
		ids = append(ids, c.ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `UPDATE taggings SET "index" = CASE id` + cases.String() + ` END WHERE id IN (` + placeholders + `)`
	if _, err := m.db.ExecContext(ctx, query, append(args, ids...)...); err != nil {
		return fmt.Errorf("plex: reindex write: %w", err)
	}
	return nil
}
