package api

import (
	"net/http"
	"strconv"

	"github.com/scribesync/hookd/internal/dispatch"
)

// DispatchHandler lets an external scheduler (cron hitting this endpoint)
// trigger one batch cycle on demand. Overlap with the in-process runner is
// fine; the store's claim keeps them from double-attempting.
type DispatchHandler struct {
	dispatcher *dispatch.Dispatcher
	batchSize  int
}

func NewDispatchHandler(dispatcher *dispatch.Dispatcher, batchSize int) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher, batchSize: batchSize}
}

func (h *DispatchHandler) Run(w http.ResponseWriter, r *http.Request) {
	limit := h.batchSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	summary, err := h.dispatcher.RunBatch(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to claim deliveries")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
