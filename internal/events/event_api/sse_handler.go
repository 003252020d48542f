package event_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-events/internal/identity"
	"ms-events/internal/logger"
	"ms-events/internal/sse"
)

// SSEHandler streams live availability snapshots per event.
type SSEHandler struct {
	Logger  *logger.Logger
	Emitter *sse.AvailabilityEmitter
}

func NewSSEHandler(log *logger.Logger, emitter *sse.AvailabilityEmitter) *SSEHandler {
	return &SSEHandler{
		Logger:  log,
		Emitter: emitter,
	}
}

// HandleEventAvailability streams availability snapshots for a specific
// event until the client disconnects.
func (h *SSEHandler) HandleEventAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	h.setupSSEHeaders(w)

	// Create a context that cancels when the client disconnects
	ctx := r.Context()

	snapChan := h.Emitter.SubscribeToEvent(ctx, eventID)

	// Send initial connection established message
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"eventID\":\"%s\"}\n\n", eventID)
	flusher.Flush()

	// The stream is public; when a token is supplied anyway, log who is
	// watching.
	subscriber := "anonymous"
	if token, err := identity.ExtractTokenFromRequest(r); err == nil {
		if uid, err := identity.ExtractUserIDFromJWT(token); err == nil {
			subscriber = uid
		}
	}
	h.Logger.Info("SSE", fmt.Sprintf("Client %s connected to availability stream for event: %s", subscriber, eventID))

	for {
		select {
		case snap, ok := <-snapChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for event: %s", eventID))
				return
			}

			jsonData, err := json.Marshal(snap)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize availability snapshot: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: availability\ndata: %s\n\n", jsonData)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from availability stream for: %s", eventID))
			return
		}
	}
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
