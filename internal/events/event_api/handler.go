package event_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-events/internal/events"
	"ms-events/internal/identity"
	"ms-events/internal/logger"
	"ms-events/internal/models"
)

type Handler struct {
	EventService *events.Service
	Logger       *logger.Logger
}

func NewHandler(eventService *events.Service, log *logger.Logger) *Handler {
	return &Handler{
		EventService: eventService,
		Logger:       log,
	}
}

// writeDomainError maps domain errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var blocked *events.DeleteBlockedError
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, models.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrEventStarted):
		http.Error(w, "Past events cannot be modified", http.StatusConflict)
	case errors.Is(err, models.ErrConcurrencyConflict):
		http.Error(w, "Concurrent update conflict, retry the request", http.StatusConflict)
	case errors.As(err, &blocked):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":            blocked.Error(),
			"blocking_rsvps":   blocked.BlockingRSVPs,
			"blocking_tickets": blocked.BlockingTickets,
		})
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	// Members browse published events only; admins see drafts too.
	publishedOnly := !identity.IsAdmin(r.Context())

	eventList, err := h.EventService.ListEvents(r.Context(), publishedOnly)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListEvents: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(eventList); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListEvents: failed to encode response: %v", err))
	}
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	h.Logger.Info("API", fmt.Sprintf("GetEvent: eventID=%s", eventID))

	ev, err := h.EventService.GetEvent(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEvent: %v", err))
		h.writeDomainError(w, err)
		return
	}
	if !ev.IsPublished && !identity.IsAdmin(r.Context()) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ev); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEvent: failed to encode response: %v", err))
	}
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	snap, err := h.EventService.GetAvailability(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetAvailability: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetAvailability: failed to encode response: %v", err))
	}
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.EventService.CreateEvent(r.Context(), ev)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateEvent: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateEvent: failed to encode response: %v", err))
	}
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	h.Logger.Info("API", fmt.Sprintf("UpdateEvent: eventID=%s", eventID))

	var req events.UpdateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.EventService.UpdateEvent(r.Context(), eventID, req)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateEvent: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(updated); err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateEvent: failed to encode response: %v", err))
	}
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	h.Logger.Info("API", fmt.Sprintf("DeleteEvent: eventID=%s", eventID))

	if err := h.EventService.DeleteEvent(r.Context(), eventID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("DeleteEvent: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddSession(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var session models.EventSession
	if err := json.NewDecoder(r.Body).Decode(&session); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	session.EventID = eventID

	created, err := h.EventService.AddSession(r.Context(), session)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("AddSession: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		h.Logger.Error("API", fmt.Sprintf("AddSession: failed to encode response: %v", err))
	}
}

func (h *Handler) RemoveSession(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	identifier := chi.URLParam(r, "identifier")

	if err := h.EventService.RemoveSession(r.Context(), eventID, identifier); err != nil {
		h.Logger.Error("API", fmt.Sprintf("RemoveSession: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateTicketType(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var tt models.TicketType
	if err := json.NewDecoder(r.Body).Decode(&tt); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	tt.EventID = eventID

	created, err := h.EventService.CreateTicketType(r.Context(), tt)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateTicketType: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateTicketType: failed to encode response: %v", err))
	}
}

func (h *Handler) UpdateTicketType(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	ticketTypeID := chi.URLParam(r, "ticketTypeID")

	var tt models.TicketType
	if err := json.NewDecoder(r.Body).Decode(&tt); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	tt.ID = ticketTypeID
	tt.EventID = eventID

	if err := h.EventService.UpdateTicketType(r.Context(), tt); err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateTicketType: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tt); err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateTicketType: failed to encode response: %v", err))
	}
}

func (h *Handler) RemoveTicketType(w http.ResponseWriter, r *http.Request) {
	ticketTypeID := chi.URLParam(r, "ticketTypeID")

	if err := h.EventService.RemoveTicketType(r.Context(), ticketTypeID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("RemoveTicketType: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
