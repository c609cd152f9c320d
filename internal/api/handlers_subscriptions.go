package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/registry"
	"github.com/fantasbr/hookline/internal/storage"
)

type SubscriptionHandler struct {
	store    storage.Storage
	registry *registry.Registry
}

func NewSubscriptionHandler(store storage.Storage, reg *registry.Registry) *SubscriptionHandler {
	return &SubscriptionHandler{store: store, registry: reg}
}

type createSubscriptionRequest struct {
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	Events             []string          `json:"events"`
	Headers            map[string]string `json:"headers"`
	RetryCount         *int              `json:"retry_count"`
	TimeoutSeconds     *int              `json:"timeout_seconds"`
	RateLimitPerSecond int               `json:"rate_limit_per_second"`
}

type subscriptionWithSecret struct {
	*models.Subscription
	// Secret appears only in the create and rotate responses.
	Secret string `json:"secret"`
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := registry.CreateParams{
		Name:               req.Name,
		URL:                req.URL,
		Events:             req.Events,
		Headers:            req.Headers,
		RetryCount:         req.RetryCount,
		TimeoutSeconds:     req.TimeoutSeconds,
		RateLimitPerSecond: req.RateLimitPerSecond,
	}
	if key := KeyFromContext(r.Context()); key != nil {
		params.APIKeyID = &key.ID
	}

	sub, secret, err := h.registry.Create(r.Context(), params)
	if err != nil {
		writeDomainError(w, err, "failed to create subscription")
		return
	}
	writeJSON(w, http.StatusCreated, subscriptionWithSecret{Subscription: sub, Secret: secret})
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get subscription")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type updateSubscriptionRequest struct {
	Name               *string           `json:"name"`
	URL                *string           `json:"url"`
	Events             []string          `json:"events"`
	Headers            map[string]string `json:"headers"`
	Active             *bool             `json:"active"`
	RetryCount         *int              `json:"retry_count"`
	TimeoutSeconds     *int              `json:"timeout_seconds"`
	RateLimitPerSecond *int              `json:"rate_limit_per_second"`
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.registry.Update(r.Context(), chi.URLParam(r, "id"), registry.UpdateParams{
		Name:               req.Name,
		URL:                req.URL,
		Events:             req.Events,
		Headers:            req.Headers,
		Active:             req.Active,
		RetryCount:         req.RetryCount,
		TimeoutSeconds:     req.TimeoutSeconds,
		RateLimitPerSecond: req.RateLimitPerSecond,
	})
	if err != nil {
		writeDomainError(w, err, "failed to update subscription")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	secret, err := h.registry.RotateSecret(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to rotate secret")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "secret": secret})
}

func (h *SubscriptionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Activate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "failed to activate subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "failed to deactivate subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.registry.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to get subscription")
		return
	}

	entries, err := h.store.ListQueueEntriesBySubscription(r.Context(), id, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *SubscriptionHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.registry.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to get subscription")
		return
	}

	logs, err := h.store.ListLogsBySubscription(r.Context(), id, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}
	if logs == nil {
		logs = []models.DeliveryLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}

const defaultListLimit = 100

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultListLimit
	}
	return n
}
