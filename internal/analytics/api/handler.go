package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-events/internal/analytics"
	"ms-events/internal/logger"
)

// Handler serves organizer analytics. Routes behind it are mounted with
// the admin middleware; there is no per-handler ownership check.
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// GetEventAnalytics returns the attendance dashboard for one event.
func (h *Handler) GetEventAnalytics(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	h.Logger.Info("API", fmt.Sprintf("GetEventAnalytics: eventID=%s", eventID))

	result, err := h.Service.GetEventAnalytics(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEventAnalytics: %v", err))
		http.Error(w, "Failed to compute analytics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEventAnalytics: failed to encode response: %v", err))
	}
}

// GetEventRoster returns the filtered attendance list for one event.
func (h *Handler) GetEventRoster(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	options := analytics.RosterOptions{
		Kind:     r.URL.Query().Get("kind"),
		Status:   r.URL.Query().Get("status"),
		SortBy:   r.URL.Query().Get("sort_by"),
		SortDesc: r.URL.Query().Get("sort_desc") == "true",
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		options.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		options.Offset = offset
	}

	roster, err := h.Service.GetEventRoster(r.Context(), eventID, options)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEventRoster: %v", err))
		http.Error(w, "Failed to load roster", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(roster); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEventRoster: failed to encode response: %v", err))
	}
}
