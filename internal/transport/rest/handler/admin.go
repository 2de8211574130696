package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tandem/internal/cache"
	"tandem/internal/model"
	"tandem/internal/service"
)

// AdminHandler handles operator endpoints: the manual override and the
// active-period schedule.
type AdminHandler struct {
	scheduleSvc *service.ScheduleService
	usage       cache.UsageGuard
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(scheduleSvc *service.ScheduleService, usage cache.UsageGuard) *AdminHandler {
	return &AdminHandler{scheduleSvc: scheduleSvc, usage: usage}
}

// OverrideRequest is the request body for the manual override.
type OverrideRequest struct {
	Disabled bool `json:"disabled"`
}

// SetOverride handles POST /v1/admin/override
func (h *AdminHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.scheduleSvc.SetDisabled(r.Context(), req.Disabled); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disabled": req.Disabled})
}

// ListPeriods handles GET /v1/admin/periods
func (h *AdminHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"disabled": h.scheduleSvc.Disabled(),
		"periods":  h.scheduleSvc.Periods(),
	})
}

// AddPeriod handles POST /v1/admin/periods
func (h *AdminHandler) AddPeriod(w http.ResponseWriter, r *http.Request) {
	var period model.ActivePeriod
	if err := json.NewDecoder(r.Body).Decode(&period); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.scheduleSvc.AddPeriod(r.Context(), period); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"periods": h.scheduleSvc.Periods(),
	})
}

// RemovePeriod handles DELETE /v1/admin/periods/{index}
func (h *AdminHandler) RemovePeriod(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period index")
		return
	}

	if err := h.scheduleSvc.RemovePeriod(r.Context(), index); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"periods": h.scheduleSvc.Periods(),
	})
}

// Usage handles GET /v1/admin/usage
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	rooms, minutes, err := h.usage.Usage(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"roomsThisMonth":   rooms,
		"minutesThisMonth": minutes,
	})
}
