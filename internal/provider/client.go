package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/ratelimit"
	"github.com/replypilot/tracker-api/pkg/metrics"
)

// Subscription is the provider's view of a push registration.
type Subscription struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	ChangeType  string    `json:"changeType"`
	NotifyURL   string    `json:"notificationUrl"`
	ClientState string    `json:"clientState"`
	ExpiresAt   time.Time `json:"expirationDateTime"`
}

// Client issues authenticated calls to the external mail API. Every call is
// gated by the per-account rate limiter before it leaves the process.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
}

func NewClient(cfg config.ProviderConfig, limiter *ratelimit.Limiter, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: limiter,
		metrics: m,
	}
}

// GetMessage fetches one message by provider id.
func (c *Client) GetMessage(ctx context.Context, accountID uuid.UUID, messageID string) (*model.ProviderMessage, error) {
	if err := c.gate(ctx, accountID, model.OperationMessageRead); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/accounts/%s/messages/%s", accountID, url.PathEscape(messageID))
	var msg model.ProviderMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &msg, "get_message"); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateSubscription registers a push subscription for one account resource.
func (c *Client) CreateSubscription(ctx context.Context, accountID uuid.UUID, sub *Subscription) (*Subscription, error) {
	if err := c.gate(ctx, accountID, model.OperationSubscriptionCreate); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/accounts/%s/subscriptions", accountID)
	var created Subscription
	if err := c.do(ctx, http.MethodPost, path, sub, &created, "create_subscription"); err != nil {
		return nil, err
	}
	return &created, nil
}

// RenewSubscription extends the expiry of an existing subscription.
func (c *Client) RenewSubscription(ctx context.Context, accountID uuid.UUID, subscriptionID string, expiresAt time.Time) (*Subscription, error) {
	if err := c.gate(ctx, accountID, model.OperationSubscriptionRenew); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/accounts/%s/subscriptions/%s", accountID, url.PathEscape(subscriptionID))
	body := map[string]string{"expirationDateTime": expiresAt.UTC().Format(time.RFC3339)}
	var renewed Subscription
	if err := c.do(ctx, http.MethodPatch, path, body, &renewed, "renew_subscription"); err != nil {
		return nil, err
	}
	return &renewed, nil
}

// DeleteSubscription removes a subscription at the provider. Deleting an
// unknown id is treated as success so the operation is idempotent.
func (c *Client) DeleteSubscription(ctx context.Context, accountID uuid.UUID, subscriptionID string) error {
	if err := c.gate(ctx, accountID, model.OperationSubscriptionDelete); err != nil {
		return err
	}

	path := fmt.Sprintf("/accounts/%s/subscriptions/%s", accountID, url.PathEscape(subscriptionID))
	err := c.do(ctx, http.MethodDelete, path, nil, nil, "delete_subscription")
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) gate(ctx context.Context, accountID uuid.UUID, op model.OperationType) error {
	decision, err := c.limiter.CheckAndRecord(ctx, accountID, op)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if !decision.Allowed {
		return &RateLimitedError{Operation: string(op), ResetAt: decision.ResetAt}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, operation string) error {
	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.ProviderLatency.WithLabelValues(operation))
		defer timer.ObserveDuration()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(operation, "network_error")
		return &TransientError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(operation, resp.StatusCode); err != nil {
		c.observe(operation, fmt.Sprintf("%d", resp.StatusCode))
		return err
	}
	c.observe(operation, "success")

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) observe(operation, status string) {
	if c.metrics != nil {
		c.metrics.ProviderCalls.WithLabelValues(operation, status).Inc()
	}
}

// classifyStatus sorts provider HTTP statuses into retryable and terminal
// failures. 429 and 5xx are transient; 401/403/404 will not improve with
// retries.
func classifyStatus(operation string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{
			Operation:  operation,
			StatusCode: status,
			Err:        fmt.Errorf("provider returned %d", status),
		}
	default:
		return &PermanentError{
			Operation:  operation,
			StatusCode: status,
			Err:        fmt.Errorf("provider returned %d", status),
		}
	}
}
