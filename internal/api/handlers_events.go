package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/scribesync/hookd/internal/models"
	"github.com/scribesync/hookd/internal/storage"
)

// EventHandler is the enqueue-on-event surface: domain actions in the main
// application (note created, updated, deleted) post here and the store fans
// the event out to matching webhooks.
type EventHandler struct {
	store storage.Storage
}

func NewEventHandler(store storage.Storage) *EventHandler {
	return &EventHandler{store: store}
}

type ingestEventRequest struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

const maxEventPayloadSize = 256 * 1024 // 256KB

func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventPayloadSize)
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}
	if !models.ValidEventType(req.EventType) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type: %s", req.EventType))
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	created, err := h.store.Enqueue(r.Context(), user.ID, req.EventType, req.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue deliveries")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_type": req.EventType,
		"deliveries": created,
	})
}
