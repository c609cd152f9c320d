package api

import (
	"net/http"

	"github.com/fantasbr/hookline/internal/storage"
)

type StatsHandler struct {
	store storage.Storage
}

func NewStatsHandler(store storage.Storage) *StatsHandler {
	return &StatsHandler{store: store}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "hookline",
	})
}

type statsResponse struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.QueueCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Pending:    counts["pending"],
		Processing: counts["processing"],
		Sent:       counts["sent"],
		Failed:     counts["failed"],
	})
}
