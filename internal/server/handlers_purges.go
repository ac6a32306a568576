package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/purge"
)

func (s *Server) handlePurgeCheck(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "metadataId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	purged, err := s.purges.Check(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purged)
}

func (s *Server) handleSectionPurges(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathID(r, "sectionId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	tree, err := s.purges.Section(r.Context(), sectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathID(r, "sectionId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := purge.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.purges.Restore(r.Context(), sectionID, req.MarkerIDs, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathID(r, "sectionId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ignoreRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.purges.Ignore(r.Context(), sectionID, req.MarkerIDs); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	sectionID, err := pathID(r, "sectionId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	level, err := markers.ParseLevel(chi.URLParam(r, "level"))
	if err != nil || level == markers.LevelSection {
		writeError(w, r, badRequest("level must be show, season or episode"))
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := s.purges.Evict(sectionID, level, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"evicted": n})
}
