// Package delivery hands password-reset tokens to an external mailer over HTTP.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"saas-admin/backend/internal/user/domain"
)

const defaultTimeout = 10 * time.Second

// WebhookNotifier POSTs {"email","name","token"} to URL. The receiving service owns templating
// and sending. The token is never logged.
type WebhookNotifier struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// NewWebhookNotifier returns a notifier for url authenticated with apiKey (sent as a Bearer token
// when non-empty).
func NewWebhookNotifier(url, apiKey string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

type payload struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Token string `json:"token"`
}

// NotifyPasswordReset delivers token for user. Any non-2xx response is an error.
func (n *WebhookNotifier) NotifyPasswordReset(ctx context.Context, user *domain.User, token string) error {
	if n.URL == "" {
		return fmt.Errorf("delivery: webhook URL not configured")
	}
	raw, err := json.Marshal(payload{Email: user.Email, Name: user.Name, Token: token})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.APIKey)
	}
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delivery: webhook status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
