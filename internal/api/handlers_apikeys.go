package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fantasbr/hookline/internal/keys"
	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/storage"
)

type APIKeyHandler struct {
	store  storage.Storage
	issuer *keys.Issuer
}

func NewAPIKeyHandler(store storage.Storage, issuer *keys.Issuer) *APIKeyHandler {
	return &APIKeyHandler{store: store, issuer: issuer}
}

type createKeyRequest struct {
	Name          string   `json:"name"`
	Permissions   []string `json:"permissions"`
	ExpiresInDays int      `json:"expires_in_days"`
}

type createKeyResponse struct {
	Key *models.APIKey `json:"key"`
	// Plaintext appears in this response and nowhere else, ever.
	Plaintext string `json:"plaintext"`
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, plaintext, err := h.issuer.CreateKey(r.Context(), req.Name, req.Permissions, req.ExpiresInDays)
	if err != nil {
		writeDomainError(w, err, "failed to create api key")
		return
	}
	writeJSON(w, http.StatusCreated, createKeyResponse{Key: key, Plaintext: plaintext})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	if list == nil {
		list = []models.APIKey{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to revoke api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
