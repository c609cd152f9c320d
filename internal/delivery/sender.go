package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/registry"
	"github.com/fantasbr/hookline/internal/signing"
)

// SendResult captures one HTTP attempt. StatusCode is nil when no response
// was received at all (timeout, DNS failure, refused connection).
type SendResult struct {
	StatusCode *int
	Body       string
	Duration   time.Duration
	Err        string
}

// Succeeded reports whether the receiver acknowledged with any 2xx.
func (r *SendResult) Succeeded() bool {
	return r.Err == "" && r.StatusCode != nil && *r.StatusCode >= 200 && *r.StatusCode < 300
}

type Sender struct {
	client *http.Client
}

func NewSender() *Sender {
	// No client-level timeout: each request carries its subscription's
	// timeout via context.
	return &Sender{client: &http.Client{}}
}

// Send signs the payload bytes with the subscription secret and POSTs them
// to the subscription URL. The signed bytes and the transmitted body are
// the same slice, so the receiver's verification can never diverge from
// ours over serialization.
func (s *Sender) Send(ctx context.Context, sub *models.Subscription, eventType string, payload []byte) *SendResult {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Err:      fmt.Sprintf("failed to create request: %v", err),
			Duration: time.Since(start),
		}
	}

	// Custom headers first; reserved headers after, so a subscriber can
	// never override the signature or event type.
	for name, value := range sub.Headers {
		if registry.IsReservedHeader(name) {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signing.Sign([]byte(sub.Secret), payload))
	req.Header.Set("X-Webhook-Event", eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Err:      fmt.Sprintf("request failed: %v", err),
			Duration: time.Since(start),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, models.MaxLoggedBodyBytes))

	result := &SendResult{
		StatusCode: &resp.StatusCode,
		Body:       string(body),
		Duration:   time.Since(start),
	}
	if !result.Succeeded() {
		result.Err = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return result
}
