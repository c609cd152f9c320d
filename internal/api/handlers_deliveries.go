package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/storage"
)

type DeliveryHandler struct {
	store storage.Storage
}

func NewDeliveryHandler(store storage.Storage) *DeliveryHandler {
	return &DeliveryHandler{store: store}
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetQueueEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *DeliveryHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.store.GetQueueEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}

	logs, err := h.store.ListLogsByEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list delivery attempts")
		return
	}
	if logs == nil {
		logs = []models.DeliveryLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}
