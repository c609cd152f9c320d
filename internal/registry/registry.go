// Package registry manages the durable records describing where webhooks
// go: target URL, subscribed events, signing secret, retry policy.
package registry

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fantasbr/hookline/internal/keys"
	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/storage"
)

// reservedHeaders are set by the delivery sender and may never be supplied
// as custom headers; they would let a subscriber spoof its own signature.
var reservedHeaders = map[string]struct{}{
	"Content-Type":        {},
	"X-Webhook-Signature": {},
	"X-Webhook-Event":     {},
}

// IsReservedHeader reports whether name collides with a header the sender
// controls. Comparison is canonical (case-insensitive).
func IsReservedHeader(name string) bool {
	_, ok := reservedHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

type Registry struct {
	store storage.Storage
}

func New(store storage.Storage) *Registry {
	return &Registry{store: store}
}

type CreateParams struct {
	Name               string
	URL                string
	Events             []string
	Headers            map[string]string
	RetryCount         *int
	TimeoutSeconds     *int
	RateLimitPerSecond int
	APIKeyID           *string
}

// Create validates params, generates a fresh signing secret and persists
// the subscription. The plaintext secret is returned exactly once; after
// this call it is only ever used server-side for signing.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*models.Subscription, string, error) {
	retryCount := models.DefaultRetryCount
	if p.RetryCount != nil {
		retryCount = *p.RetryCount
	}
	timeoutSeconds := models.DefaultTimeoutSeconds
	if p.TimeoutSeconds != nil {
		timeoutSeconds = *p.TimeoutSeconds
	}

	if err := validate(p.Name, p.URL, p.Events, p.Headers, retryCount, timeoutSeconds); err != nil {
		return nil, "", err
	}

	secret, err := keys.NewWebhookSecret()
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:                 models.NewID("sub"),
		Name:               p.Name,
		URL:                p.URL,
		Events:             p.Events,
		Secret:             secret,
		Headers:            p.Headers,
		Active:             true,
		RetryCount:         retryCount,
		TimeoutSeconds:     timeoutSeconds,
		RateLimitPerSecond: p.RateLimitPerSecond,
		APIKeyID:           p.APIKeyID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if sub.Headers == nil {
		sub.Headers = map[string]string{}
	}

	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return nil, "", err
	}
	return sub, secret, nil
}

type UpdateParams struct {
	Name               *string
	URL                *string
	Events             []string
	Headers            map[string]string
	Active             *bool
	RetryCount         *int
	TimeoutSeconds     *int
	RateLimitPerSecond *int
}

// Update applies partial field updates. The secret is deliberately not
// updatable here; use RotateSecret so the shown-once contract is explicit
// at the call site.
func (r *Registry) Update(ctx context.Context, id string, p UpdateParams) (*models.Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, models.ErrNotFound
	}

	if p.Name != nil {
		sub.Name = *p.Name
	}
	if p.URL != nil {
		sub.URL = *p.URL
	}
	if p.Events != nil {
		sub.Events = p.Events
	}
	if p.Headers != nil {
		sub.Headers = p.Headers
	}
	if p.Active != nil {
		sub.Active = *p.Active
	}
	if p.RetryCount != nil {
		sub.RetryCount = *p.RetryCount
	}
	if p.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *p.TimeoutSeconds
	}
	if p.RateLimitPerSecond != nil {
		sub.RateLimitPerSecond = *p.RateLimitPerSecond
	}

	if err := validate(sub.Name, sub.URL, sub.Events, sub.Headers, sub.RetryCount, sub.TimeoutSeconds); err != nil {
		return nil, err
	}

	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// RotateSecret replaces the signing secret. Deliveries attempted after
// rotation are signed with the new value, including retries of entries
// queued before it.
func (r *Registry) RotateSecret(ctx context.Context, id string) (string, error) {
	secret, err := keys.NewWebhookSecret()
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateSubscriptionSecret(ctx, id, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// Activate makes the subscription eligible for future fan-out.
func (r *Registry) Activate(ctx context.Context, id string) error {
	return r.store.SetSubscriptionActive(ctx, id, true)
}

// Deactivate stops future fan-out; entries already queued still deliver.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	return r.store.SetSubscriptionActive(ctx, id, false)
}

// Delete hard-removes the subscription. Queue entries and delivery logs
// cascade with it; operators who need the history should deactivate
// instead.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.DeleteSubscription(ctx, id)
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, models.ErrNotFound
	}
	return sub, nil
}

func (r *Registry) List(ctx context.Context) ([]models.Subscription, error) {
	return r.store.ListSubscriptions(ctx)
}

func validate(name, rawURL string, events []string, headers map[string]string, retryCount, timeoutSeconds int) error {
	if name == "" {
		return &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if rawURL == "" {
		return &models.ValidationError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &models.ValidationError{Field: "url", Reason: "must be a valid HTTP or HTTPS URL"}
	}
	if len(events) == 0 {
		return &models.ValidationError{Field: "events", Reason: "must not be empty"}
	}
	for _, e := range events {
		if strings.TrimSpace(e) == "" {
			return &models.ValidationError{Field: "events", Reason: "must not contain empty event types"}
		}
	}
	// Every subscription gets at least one attempt; a zero budget would
	// queue entries the worker may never legally touch.
	if retryCount < 1 {
		return &models.ValidationError{Field: "retry_count", Reason: "must be at least 1"}
	}
	if timeoutSeconds <= 0 {
		return &models.ValidationError{Field: "timeout_seconds", Reason: "must be positive"}
	}
	for name := range headers {
		if IsReservedHeader(name) {
			return &models.ValidationError{Field: "headers", Reason: "header " + name + " is reserved"}
		}
	}
	return nil
}
