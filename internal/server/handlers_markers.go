package server

import (
	"net/http"
	"slices"

	"github.com/treefix50/markerguard/internal/breakdown"
	"github.com/treefix50/markerguard/internal/editor"
	"github.com/treefix50/markerguard/internal/markers"
)

func (s *Server) handleSections(w http.ResponseWriter, r *http.Request) {
	sections, err := s.editor.Sections(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sections)
}

// handleQueryMarkers answers ?parents=1,2 with a map of parent id to markers.
func (s *Server) handleQueryMarkers(w http.ResponseWriter, r *http.Request) {
	parents, err := idList(r.URL.Query().Get("parents"), "parents")
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.editor.Query(r.Context(), parents)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddMarker(w http.ResponseWriter, r *http.Request) {
	var req addMarkerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	typ, err := markers.ParseType(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.editor.Add(r.Context(), editor.AddRequest{
		ParentID: req.ParentID,
		Type:     typ,
		Start:    req.Start,
		End:      req.End,
		Final:    req.Final,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleEditMarker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req editMarkerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	typ, err := markers.ParseType(req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.editor.Edit(r.Context(), editor.EditRequest{
		ID:    id,
		Type:  typ,
		Start: req.Start,
		End:   req.End,
		Final: req.Final,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMarker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.editor.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleBreakdown defaults to the whole section. ?level=show&id=N narrows it.
func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathID(r, "sectionId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	level, id := markers.LevelSection, sectionID
	q := r.URL.Query()
	if raw := q.Get("level"); raw != "" {
		if level, err = markers.ParseLevel(raw); err != nil {
			writeError(w, r, badRequest("%v", err))
			return
		}
		if level != markers.LevelSection {
			ids, err := idList(q.Get("id"), "id")
			if err != nil {
				writeError(w, r, err)
				return
			}
			id = ids[0]
		}
	}

	buckets, err := s.editor.Breakdown(r.Context(), level, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdownResponse{
		Level:   level.String(),
		ID:      id,
		Buckets: bucketList(buckets),
	})
}

type breakdownResponse struct {
	Level   string   `json:"level"`
	ID      int64    `json:"id"`
	Buckets []bucket `json:"buckets"`
}

type bucket struct {
	Intros  int `json:"intros"`
	Credits int `json:"credits"`
	Items   int `json:"items"`
}

func bucketList(b breakdown.Buckets) []bucket {
	keys := make([]breakdown.Key, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]bucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, bucket{Intros: k.Intros(), Credits: k.Credits(), Items: b[k]})
	}
	return out
}
