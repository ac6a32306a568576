package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/treefix50/markerguard/internal/logging"
	"github.com/treefix50/markerguard/internal/markers"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeError maps core errors to status codes. Unknown errors are logged
// and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict *markers.ConflictError
		invalid  *requestError
	)
	switch {
	case errors.Is(err, markers.ErrBackupDisabled):
		writeErrorCode(w, r, http.StatusBadRequest, "BACKUP_DISABLED", err.Error())
	case errors.As(err, &invalid):
		writeErrorCode(w, r, http.StatusBadRequest, "INVALID_REQUEST", invalid.Error())
	case errors.Is(err, markers.ErrInvalidRange),
		errors.Is(err, markers.ErrInvalidType),
		errors.Is(err, markers.ErrInvalidMode),
		errors.Is(err, markers.ErrNotMarkable):
		writeErrorCode(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, markers.ErrNotFound):
		writeErrorCode(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &conflict):
		writeErrorCode(w, r, http.StatusConflict, "CONFLICT", conflict.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeErrorCode(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
