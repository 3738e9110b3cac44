package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/talgya/war-room/internal/game"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Pending []string `json:"pending,omitempty"`
}

// errorStatus maps an engine error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, game.ErrNotHost):
		return http.StatusForbidden, "not_host"
	case errors.Is(err, game.ErrNotController):
		return http.StatusForbidden, "not_controller"
	case errors.Is(err, game.ErrInvalidPhase):
		return http.StatusConflict, "invalid_phase"
	case errors.Is(err, game.ErrAlreadyLocked):
		return http.StatusConflict, "already_locked"
	case errors.Is(err, game.ErrNotAllCommitted):
		return http.StatusConflict, "not_all_committed"
	case errors.Is(err, game.ErrNotActive):
		return http.StatusConflict, "not_active"
	case errors.Is(err, game.ErrNotLobby):
		return http.StatusConflict, "not_lobby"
	case errors.Is(err, game.ErrSessionFull):
		return http.StatusConflict, "session_full"
	case errors.Is(err, game.ErrAlreadyFinished):
		return http.StatusConflict, "already_finished"
	case errors.Is(err, game.ErrInvalidArgument):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal"
}

// fail writes err as a JSON error response.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	var pending []string
	var pe *game.PendingError
	if errors.As(err, &pe) {
		pending = pe.Pending
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, err.Error(), pending)
}

func writeError(w http.ResponseWriter, status int, code, message string, pending []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: code, Message: message, Pending: pending})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
