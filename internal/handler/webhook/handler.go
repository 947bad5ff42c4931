package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/replypilot/tracker-api/internal/config"
	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/queue"
	"github.com/replypilot/tracker-api/internal/repository"
	"github.com/replypilot/tracker-api/pkg/metrics"
)

// EntryError reports one notification entry that failed structural
// validation in a partially accepted batch.
type EntryError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Handler is the provider-facing webhook endpoint. It answers the
// validation challenge and accepts notification batches. Everything heavier
// than structural validation happens later in the worker: the provider
// expects an answer within its hard timeout.
type Handler struct {
	queue    *queue.Queue
	subs     repository.SubscriptionRepository
	cfg      config.WebhookConfig
	validate *validator.Validate
	metrics  *metrics.Metrics
}

func NewHandler(q *queue.Queue, subs repository.SubscriptionRepository, cfg config.WebhookConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		queue:    q,
		subs:     subs,
		cfg:      cfg,
		validate: validator.New(),
		metrics:  m,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.GET("/notifications", h.ValidationChallenge)
		webhooks.POST("/notifications", h.Receive)
	}
}

// ValidationChallenge echoes the provider's validation token verbatim to
// confirm endpoint ownership.
func (h *Handler) ValidationChallenge(c *gin.Context) {
	token := c.Query("validationToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "missing validation token"})
		return
	}
	c.Data(http.StatusOK, "text/plain", []byte(token))
}

// Receive accepts a notification batch. Entries are validated
// independently; one malformed entry does not reject the others.
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		h.observe("empty_body")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "empty body"})
		return
	}

	if !h.verifySignature(body, c.GetHeader(h.cfg.SignatureHeader)) {
		h.observe("bad_signature")
		// Log a hash of the payload, never the content.
		log.Warn().
			Str("payload_sha256", hashPayload(body)).
			Str("client_ip", c.ClientIP()).
			Msg("webhook signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid signature"})
		return
	}

	var batch model.ChangeNotificationBatch
	if err := json.Unmarshal(body, &batch); err != nil || len(batch.Value) == 0 {
		h.observe("malformed_batch")
		log.Warn().
			Str("payload_sha256", hashPayload(body)).
			Msg("webhook batch failed to decode")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed notification batch"})
		return
	}

	var entryErrors []EntryError
	accepted := 0
	for i := range batch.Value {
		if err := h.acceptEntry(c, &batch.Value[i]); err != nil {
			h.observe("entry_rejected")
			entryErrors = append(entryErrors, EntryError{Index: i, Error: err.Error()})
			continue
		}
		h.observe("enqueued")
		accepted++
	}

	if len(entryErrors) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "success", "accepted": accepted})
		return
	}
	c.JSON(http.StatusMultiStatus, gin.H{
		"status":   "partial",
		"accepted": accepted,
		"errors":   entryErrors,
	})
}

func (h *Handler) acceptEntry(c *gin.Context, n *model.ChangeNotification) error {
	if err := h.validate.Struct(n); err != nil {
		return fmt.Errorf("structural validation failed: %w", err)
	}
	if h.cfg.ClientState != "" && n.ClientState != h.cfg.ClientState {
		return fmt.Errorf("client state mismatch")
	}

	sub, err := h.subs.GetByProviderID(c.Request.Context(), n.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to resolve subscription: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("unknown subscription %s", n.SubscriptionID)
	}

	if _, err := h.queue.Enqueue(c.Request.Context(), n, sub.AccountID); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// verifySignature compares the HMAC-SHA256 of the raw body against the
// provided header value in constant time.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.cfg.SharedSecret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.cfg.SharedSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *Handler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.NotificationsReceived.WithLabelValues(outcome).Inc()
	}
}

func hashPayload(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
