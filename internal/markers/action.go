package markers

import (
	"fmt"
	"time"
)

// ActionKind is the mutation an ActionLog row records.
type ActionKind int

const (
	ActionAdd ActionKind = iota + 1
	ActionEdit
	ActionDelete
	ActionRestore
)

func (k ActionKind) String() string {
	switch k {
	case ActionAdd:
		return "add"
	case ActionEdit:
		return "edit"
	case ActionDelete:
		return "delete"
	case ActionRestore:
		return "restore"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Action is one row of the ActionLog. ID increases monotonically and is
// unrelated to MarkerID, which Plex may destroy and recreate.
type Action struct {
	ID          int64      `json:"id"`
	Kind        ActionKind `json:"op"`
	MarkerID    int64      `json:"markerId"`
	MarkerType  Type       `json:"markerType"`
	Start       int64      `json:"start"`
	End         int64      `json:"end"`
	OldStart    *int64     `json:"oldStart,omitempty"`
	OldEnd      *int64     `json:"oldEnd,omitempty"`
	Final       bool       `json:"isFinal"`
	UserCreated bool       `json:"userCreated"`
	CreatedAt   time.Time  `json:"createdAt"`
	ModifiedAt  time.Time  `json:"modifiedAt"`
	RecordedAt  time.Time  `json:"recordedAt"`
	RestoresID  *int64     `json:"restoresId,omitempty"`
	RestoredID  *int64     `json:"restoredId,omitempty"`
	Ignored     bool       `json:"ignored"`

	// Readded and ReaddedID are computed by purge detection and never stored.
	Readded   bool  `json:"readded"`
	ReaddedID int64 `json:"readdedId,omitempty"`

	Chain
}

// Live reports whether the action describes a marker that should still exist.
func (a Action) Live() bool {
	return a.Kind != ActionDelete && !a.Ignored && a.RestoredID == nil
}

// TargetParentID is where a restore lands: the readded item when Plex
// recreated the parent, otherwise the recorded parent.
func (a Action) TargetParentID() int64 {
	if a.Readded && a.ReaddedID != 0 {
		return a.ReaddedID
	}
	return a.ParentID
}

// ActionFromMarker fills the marker-derived columns of an action.
func ActionFromMarker(kind ActionKind, m Marker) Action {
	return Action{
		Kind:        kind,
		MarkerID:    m.ID,
		MarkerType:  m.Type,
		Start:       m.Start,
		End:         m.End,
		Final:       m.Final,
		UserCreated: m.UserCreated,
		CreatedAt:   m.CreatedAt,
		ModifiedAt:  m.ModifiedAt,
		Chain:       m.Chain,
	}
}

// WithOld records the range a marker had before an edit.
func (a Action) WithOld(start, end int64) Action {
	a.OldStart = &start
	a.OldEnd = &end
	return a
}
