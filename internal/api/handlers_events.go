package api

import (
	"encoding/json"
	"net/http"

	"github.com/fantasbr/hookline/internal/enqueue"
)

type EventHandler struct {
	enqueuer *enqueue.Enqueuer
}

func NewEventHandler(enqueuer *enqueue.Enqueuer) *EventHandler {
	return &EventHandler{enqueuer: enqueuer}
}

type publishEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type publishEventResponse struct {
	EventType string `json:"event_type"`
	Enqueued  int    `json:"enqueued"`
}

// Publish accepts one business event and fans it out to every matching
// subscription. Enqueued 0 means no subscriber wanted the event; the
// request is still a success.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	n, err := h.enqueuer.Enqueue(r.Context(), req.EventType, req.Payload)
	if err != nil {
		writeDomainError(w, err, "failed to enqueue event")
		return
	}
	writeJSON(w, http.StatusAccepted, publishEventResponse{EventType: req.EventType, Enqueued: n})
}
