package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
)

const defaultTimeout = 10 * time.Second

// WebhookNotifier posts deliveries and notices to the bot's callback
// endpoint. The bot owns turning these into direct messages; the engine
// never talks to the chat platform itself.
type WebhookNotifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewWebhookNotifier(endpoint string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   logger,
	}
}

type deliveryPayload struct {
	Kind      string     `json:"kind"`
	UserID    string     `json:"user_id"`
	Token     string     `json:"token,omitempty"`
	Alias     string     `json:"alias,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Message   string     `json:"message,omitempty"`
}

func (n *WebhookNotifier) Deliver(ctx context.Context, userID string, token domain.Token) error {
	return n.post(ctx, deliveryPayload{
		Kind:      "token_delivery",
		UserID:    userID,
		Token:     token.Value,
		Alias:     token.SourceAlias,
		ExpiresAt: token.ExpiresAt,
	})
}

func (n *WebhookNotifier) SendNotice(ctx context.Context, userID, message string) error {
	return n.post(ctx, deliveryPayload{
		Kind:    "notice",
		UserID:  userID,
		Message: message,
	})
}

func (n *WebhookNotifier) post(ctx context.Context, payload deliveryPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
