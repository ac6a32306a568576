package markers

import (
	"errors"
	"fmt"
)

var (
	// ErrBackupDisabled is returned by every purge operation when the
	// ActionLog could not be opened or backups are turned off.
	ErrBackupDisabled = errors.New("marker backup actions are not enabled")

	ErrNotFound     = errors.New("not found")
	ErrInvalidRange = errors.New("invalid marker range")
	ErrInvalidMode  = errors.New("invalid resolution mode")
	ErrInvalidType  = errors.New("invalid marker type")
	// ErrNotMarkable rejects markers on anything but an episode or movie.
	ErrNotMarkable = errors.New("markers belong to episodes and movies")
)

// ConflictError rejects an add or edit whose range overlaps an existing marker.
type ConflictError struct {
	Start    int64
	End      int64
	Existing Marker
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"marker %d-%d overlaps existing %s marker %d (%d-%d)",
		e.Start, e.End, e.Existing.Type, e.Existing.ID, e.Existing.Start, e.Existing.End,
	)
}
