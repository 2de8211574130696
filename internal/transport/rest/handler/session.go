package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tandem/internal/service"
	"tandem/internal/transport/rest/middleware"
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	sessionSvc *service.SessionService
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessionSvc *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

// LeaveSessionRequest is the request body for leaving a session early.
type LeaveSessionRequest struct {
	RejoinQueue *bool `json:"rejoinQueue,omitempty"` // partner re-queue; defaults to true
}

// Leave handles POST /v1/sessions/leave
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req LeaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rejoin := true
	if req.RejoinQueue != nil {
		rejoin = *req.RejoinQueue
	}

	if err := h.sessionSvc.LeaveSession(r.Context(), userID, rejoin); err != nil {
		if errors.Is(err, service.ErrNotInSession) {
			writeError(w, http.StatusNotFound, "no active session")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to leave session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
