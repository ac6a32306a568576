package markers

import (
	"fmt"
	"strings"
	"time"
)

// Type is the kind of segment a marker covers.
type Type string

const (
	TypeIntro   Type = "intro"
	TypeCredits Type = "credits"
)

func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeIntro:
		return TypeIntro, nil
	case TypeCredits:
		return TypeCredits, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

// Level identifies one step of the episode -> season -> show -> section chain.
type Level int

const (
	LevelEpisode Level = iota + 1
	LevelSeason
	LevelShow
	LevelSection
)

func (l Level) String() string {
	switch l {
	case LevelEpisode:
		return "episode"
	case LevelSeason:
		return "season"
	case LevelShow:
		return "show"
	case LevelSection:
		return "section"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "episode", "movie":
		return LevelEpisode, nil
	case "season":
		return LevelSeason, nil
	case "show":
		return LevelShow, nil
	case "section":
		return LevelSection, nil
	default:
		return 0, fmt.Errorf("unknown scope level %q", s)
	}
}

// Scope selects every marker or action whose chain contains ID at Level.
type Scope struct {
	Level       Level
	ID          int64
	SectionUUID string
}

// Chain is the ancestry of a marker. SeasonID and ShowID are zero for movies.
type Chain struct {
	ParentID    int64  `json:"parentId"`
	SeasonID    int64  `json:"seasonId"`
	ShowID      int64  `json:"showId"`
	SectionID   int64  `json:"sectionId"`
	SectionUUID string `json:"sectionUuid"`
	ParentGUID  string `json:"parentGuid,omitempty"`
}

// IDAt returns the chain member at the given level.
func (c Chain) IDAt(level Level) int64 {
	switch level {
	case LevelEpisode:
		return c.ParentID
	case LevelSeason:
		return c.SeasonID
	case LevelShow:
		return c.ShowID
	case LevelSection:
		return c.SectionID
	default:
		return 0
	}
}

// IsMovie reports whether the chain belongs to a movie (no season/show).
func (c Chain) IsMovie() bool {
	return c.ShowID == 0
}

// Marker is a live marker row in the Plex database.
type Marker struct {
	ID          int64     `json:"id"`
	Type        Type      `json:"markerType"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	Index       int       `json:"index"`
	Final       bool      `json:"isFinal"`
	UserCreated bool      `json:"userCreated"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	Chain
}

// Overlaps uses inclusive bounds: touching ranges overlap.
func (m Marker) Overlaps(start, end int64) bool {
	return m.End >= start && m.Start <= end
}

// ValidateRange checks 0 <= start < end.
func ValidateRange(start, end int64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: start=%d end=%d", ErrInvalidRange, start, end)
	}
	return nil
}

// SectionType is Plex's library_sections.section_type.
type SectionType int

const (
	SectionMovie SectionType = 1
	SectionShow  SectionType = 2
)

// Section is a Plex library section.
type Section struct {
	ID   int64       `json:"id"`
	Name string      `json:"name"`
	Type SectionType `json:"type"`
	UUID string      `json:"uuid"`
}

// ItemType is Plex's metadata_items.metadata_type.
type ItemType int

const (
	ItemMovie   ItemType = 1
	ItemShow    ItemType = 2
	ItemSeason  ItemType = 3
	ItemEpisode ItemType = 4
)

// Item is the subset of a Plex metadata item needed to place a marker in its chain.
type Item struct {
	ID        int64
	Type      ItemType
	GUID      string
	Title     string
	SeasonID  int64
	ShowID    int64
	SectionID int64
}

// Chain builds the marker chain for markers parented to this item.
func (it Item) Chain(sectionUUID string) Chain {
	return Chain{
		ParentID:    it.ID,
		SeasonID:    it.SeasonID,
		ShowID:      it.ShowID,
		SectionID:   it.SectionID,
		SectionUUID: sectionUUID,
		ParentGUID:  it.GUID,
	}
}

// ItemCount is the number of markers of each type on one episode or movie.
type ItemCount struct {
	Chain
	Intros  int
	Credits int
}
