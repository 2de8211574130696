package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"tandem/internal/model"
	"tandem/internal/service"
	"tandem/internal/transport/rest/middleware"
)

// QueueHandler handles queue and status endpoints.
type QueueHandler struct {
	matchSvc *service.MatchService
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(matchSvc *service.MatchService) *QueueHandler {
	return &QueueHandler{matchSvc: matchSvc}
}

// JoinRequest is the request body for joining the queue.
type JoinRequest struct {
	Level    string `json:"level"`
	Topic    string `json:"topic,omitempty"`
	Language string `json:"language,omitempty"`
}

// JoinResponse is the join outcome returned to the user.
type JoinResponse struct {
	Success         bool       `json:"success"`
	Message         string     `json:"message"`
	QueuePosition   int64      `json:"queuePosition,omitempty"`
	NextSessionTime *time.Time `json:"nextSessionTime,omitempty"`
}

// Join handles POST /v1/queue/join
func (h *QueueHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.matchSvc.JoinQueue(r.Context(), &model.QueueEntry{
		UserID:   userID,
		Level:    req.Level,
		Topic:    req.Topic,
		Language: req.Language,
	})
	if err != nil {
		status, ok := joinErrorStatus(err)
		if !ok {
			writeError(w, http.StatusInternalServerError, "failed to join queue")
			return
		}
		writeJSON(w, status, JoinResponse{Success: false, Message: err.Error()})
		return
	}

	next := result.NextSessionTime
	writeJSON(w, http.StatusOK, JoinResponse{
		Success:         true,
		Message:         "waiting for a partner",
		QueuePosition:   result.Position,
		NextSessionTime: &next,
	})
}

// joinErrorStatus maps the user-facing validation failures to HTTP statuses.
// Infrastructure failures are not in this map and surface as a generic 500.
func joinErrorStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, service.ErrWindowClosed), errors.Is(err, service.ErrWindowClosing):
		return http.StatusConflict, true
	case errors.Is(err, service.ErrAlreadyQueued), errors.Is(err, service.ErrAlreadyMatched):
		return http.StatusConflict, true
	case errors.Is(err, service.ErrLevelRequired):
		return http.StatusBadRequest, true
	}
	return 0, false
}

// Leave handles POST /v1/queue/leave
func (h *QueueHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.matchSvc.LeaveQueue(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to leave queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse describes the matching window and the caller's placement.
type StatusResponse struct {
	Active          bool           `json:"active"`
	AcceptingNew    bool           `json:"acceptingNew"`
	NextPeriodStart *time.Time     `json:"nextPeriodStart,omitempty"`
	Queued          bool           `json:"queued"`
	QueuePosition   int64          `json:"queuePosition,omitempty"`
	Session         *model.Session `json:"session,omitempty"`
	Room            *model.Room    `json:"room,omitempty"`
}

// Status handles GET /v1/status
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.matchSvc.Status(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch status")
		return
	}

	resp := StatusResponse{
		Active:        result.Active,
		AcceptingNew:  result.AcceptingNew,
		Queued:        result.Queued,
		QueuePosition: result.QueuePosition,
		Session:       result.Session,
		Room:          result.Room,
	}
	if !result.NextPeriodStart.IsZero() {
		resp.NextPeriodStart = &result.NextPeriodStart
	}
	writeJSON(w, http.StatusOK, resp)
}
