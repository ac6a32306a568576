package server

import (
	"net/http"
	"time"

	"github.com/treefix50/markerguard/internal/markers"
)

// handleActionsByScope lists the ActionLog under a metadata item.
// ?level= picks how metadataId is read and defaults to episode.
func (s *Server) handleActionsByScope(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil {
		writeError(w, r, markers.ErrBackupDisabled)
		return
	}
	id, err := pathID(r, "metadataId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	level := markers.LevelEpisode
	if raw := r.URL.Query().Get("level"); raw != "" {
		if level, err = markers.ParseLevel(raw); err != nil {
			writeError(w, r, badRequest("%v", err))
			return
		}
	}
	actions, err := s.actions.QueryByScope(r.Context(), markers.Scope{Level: level, ID: id})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeActions(w, actions)
}

// handleActionsBetween lists actions recorded in [from, to]. A missing to
// means now.
func (s *Server) handleActionsBetween(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil {
		writeError(w, r, markers.ErrBackupDisabled)
		return
	}
	from, err := timeParam(r, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if to.IsZero() {
		to = time.Now()
	}
	if to.Before(from) {
		writeError(w, r, badRequest("to is before from"))
		return
	}
	actions, err := s.actions.Between(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeActions(w, actions)
}

func writeActions(w http.ResponseWriter, actions []markers.Action) {
	if actions == nil {
		actions = []markers.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}
