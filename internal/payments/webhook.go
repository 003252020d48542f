package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-events/internal/logger"
)

// AttendanceCanceller releases a held seat when its payment fails.
type AttendanceCanceller interface {
	Cancel(ctx context.Context, recordID, requestedBy, reason string, isAdmin bool) error
}

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

// WebhookHandler verifies and dispatches Stripe webhook events. A
// failed payment cancels the attendance record so the seat goes back
// into the pool.
type WebhookHandler struct {
	Attendance AttendanceCanceller
	Logger     *logger.Logger
}

func NewWebhookHandler(attendance AttendanceCanceller, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{Attendance: attendance, Logger: log}
}

func (h *WebhookHandler) Handle(r *http.Request) error {
	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		h.Logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("Failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	// Verify signature with API version mismatch tolerance
	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), webhookSecret, opts)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Webhook signature verification failed: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	h.Logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event: %s", event.Type))

	switch event.Type {
	case "payment_intent.succeeded":
		intent, werr := h.unmarshalIntent(event)
		if werr != nil {
			return werr
		}
		recordID := intent.Metadata["record_id"]
		if recordID == "" {
			h.Logger.Error("WEBHOOK", "Payment intent has no record_id in metadata")
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Invalid payment intent data",
				InternalError: "Payment intent has no record_id in metadata",
			}
		}
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Payment confirmed for record %s", recordID))

	case "payment_intent.payment_failed":
		intent, werr := h.unmarshalIntent(event)
		if werr != nil {
			return werr
		}
		recordID := intent.Metadata["record_id"]
		if recordID == "" {
			h.Logger.Error("WEBHOOK", "Failed payment intent has no record_id in metadata")
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Invalid payment intent data",
				InternalError: "Failed payment intent has no record_id in metadata",
			}
		}
		if err := h.Attendance.Cancel(r.Context(), recordID, "system", "payment failed", true); err != nil {
			h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to cancel record %s after payment failure: %v", recordID, err))
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "Failed to release seat after payment failure",
				InternalError: fmt.Sprintf("Failed to cancel record %s after payment failure: %v", recordID, err),
				OriginalErr:   err,
			}
		}
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Cancelled record %s due to payment failure", recordID))

	default:
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
	}

	return nil
}

func (h *WebhookHandler) unmarshalIntent(event stripe.Event) (*stripe.PaymentIntent, *WebhookError) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to unmarshal payment intent: %v", err))
		return nil, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal payment intent: %v", err),
			OriginalErr:   err,
		}
	}
	return &intent, nil
}
