package attendance_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-events/internal/attendance"
	attendanceredis "ms-events/internal/attendance/redis"
	"ms-events/internal/identity"
	"ms-events/internal/logger"
	"ms-events/internal/models"
	"ms-events/internal/payments"
)

type Handler struct {
	Service *attendance.Service
	Holds   *attendanceredis.Holds
	Webhook *payments.WebhookHandler
	Logger  *logger.Logger
}

func NewHandler(service *attendance.Service, holds *attendanceredis.Holds, webhook *payments.WebhookHandler, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Holds:   holds,
		Webhook: webhook,
		Logger:  log,
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, models.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNoActiveParticipation):
		http.Error(w, "No active participation found", http.StatusConflict)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeResult renders an eligibility denial as 409 with the machine
// reason and user message, or the created record as 201.
func (h *Handler) writeResult(w http.ResponseWriter, result *attendance.Result) {
	w.Header().Set("Content-Type", "application/json")
	if !result.Decision.Allowed {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"reason":  result.Decision.Reason,
			"message": result.Decision.UserMessage,
		})
		return
	}

	rec := *result.Record
	rec.QRPass = nil // fetched separately as a PNG
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

// acquireHold debounces duplicate submissions. Returns false after
// writing the response when another identical request is in flight.
func (h *Handler) acquireHold(w http.ResponseWriter, r *http.Request, eventID, userID, kind string) bool {
	if h.Holds == nil {
		return true
	}
	ok, err := h.Holds.Acquire(r.Context(), eventID, userID, kind)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("Hold acquire failed, continuing without: %v", err))
		return true
	}
	if !ok {
		http.Error(w, "A registration request for this event is already in progress", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (h *Handler) CreateRSVP(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := identity.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CreateRSVP: eventID=%s userID=%s", eventID, userID))

	if !h.acquireHold(w, r, eventID, userID, string(models.AttendanceRSVP)) {
		return
	}
	defer func() {
		if h.Holds != nil {
			h.Holds.Release(r.Context(), eventID, userID, string(models.AttendanceRSVP))
		}
	}()

	result, err := h.Service.CreateRSVP(r.Context(), eventID, userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateRSVP: %v", err))
		h.writeDomainError(w, err)
		return
	}

	h.writeResult(w, result)
}

func (h *Handler) PurchaseTicket(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	userID := identity.UserID(r.Context())

	var req struct {
		TicketTypeID string  `json:"ticket_type_id"`
		Price        float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("PurchaseTicket: eventID=%s userID=%s type=%s", eventID, userID, req.TicketTypeID))

	if !h.acquireHold(w, r, eventID, userID, string(models.AttendanceTicket)) {
		return
	}
	defer func() {
		if h.Holds != nil {
			h.Holds.Release(r.Context(), eventID, userID, string(models.AttendanceTicket))
		}
	}()

	result, err := h.Service.PurchaseTicket(r.Context(), eventID, userID, req.TicketTypeID, req.Price)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("PurchaseTicket: %v", err))
		h.writeDomainError(w, err)
		return
	}

	h.writeResult(w, result)
}

func (h *Handler) CancelAttendance(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")
	userID := identity.UserID(r.Context())

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CancelAttendance: recordID=%s userID=%s", recordID, userID))

	err := h.Service.Cancel(r.Context(), recordID, userID, req.Reason, identity.IsAdmin(r.Context()))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CancelAttendance: %v", err))
		h.writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMyAttendance(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserID(r.Context())

	records, err := h.Service.ListByUser(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListMyAttendance: %v", err))
		h.writeDomainError(w, err)
		return
	}
	for i := range records {
		records[i].QRPass = nil
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListMyAttendance: failed to encode response: %v", err))
	}
}

// GetPass serves the caller's check-in pass as a QR code PNG.
func (h *Handler) GetPass(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")
	userID := identity.UserID(r.Context())

	rec, err := h.Service.DB.GetRecordByID(r.Context(), recordID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if rec.UserID != userID && !identity.IsAdmin(r.Context()) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if len(rec.QRPass) == 0 {
		http.Error(w, "No pass available for this record", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(rec.QRPass)
}

// CheckIn marks a scanned pass as attended. Organizer-only.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pass string `json:"pass"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.Service.CheckIn(r.Context(), req.Pass)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CheckIn: %v", err))
		h.writeDomainError(w, err)
		return
	}

	rec.QRPass = nil
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CheckIn: failed to encode response: %v", err))
	}
}

// HandleStripeWebhook receives payment events from Stripe.
func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.Webhook == nil {
		http.Error(w, "Webhooks not configured", http.StatusServiceUnavailable)
		return
	}

	if err := h.Webhook.Handle(r); err != nil {
		var werr *payments.WebhookError
		if errors.As(err, &werr) {
			http.Error(w, werr.PublicError, werr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
