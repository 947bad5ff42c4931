package email

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/replypilot/tracker-api/internal/model"
	"github.com/replypilot/tracker-api/internal/repository"
	"github.com/replypilot/tracker-api/internal/tracking"
	apperrors "github.com/replypilot/tracker-api/pkg/errors"
)

// Handler serves the operator-facing tracking API. Error paths attach an
// AppError and let the error middleware pick the status code.
type Handler struct {
	service *tracking.Service
	queue   repository.QueueRepository
}

func NewHandler(service *tracking.Service, queue repository.QueueRepository) *Handler {
	return &Handler{service: service, queue: queue}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	emails := r.Group("/emails")
	{
		emails.POST("/track", h.StartTracking)
		emails.GET("", h.ListEmails)
		emails.GET("/:id", h.GetEmail)
		emails.GET("/:id/responses", h.ListResponses)
		emails.POST("/:id/close", h.CloseEmail)
	}
	r.GET("/queue/dead-letter", h.ListDeadLetter)
}

type trackRequest struct {
	AccountID         uuid.UUID `json:"account_id" binding:"required"`
	ProviderMessageID string    `json:"provider_message_id" binding:"required"`
	ConversationID    *string   `json:"conversation_id"`
	Subject           string    `json:"subject"`
	SenderAddress     string    `json:"sender_address" binding:"required,email"`
	Recipients        []string  `json:"recipients" binding:"required,min=1,dive,email"`
	SentAt            time.Time `json:"sent_at"`
}

func (h *Handler) StartTracking(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest("invalid tracking request", err))
		return
	}

	if req.SentAt.IsZero() {
		req.SentAt = time.Now()
	}

	email := &model.TrackedEmail{
		AccountID:         req.AccountID,
		ProviderMessageID: req.ProviderMessageID,
		ConversationID:    req.ConversationID,
		Subject:           req.Subject,
		SenderAddress:     req.SenderAddress,
		Recipients:        req.Recipients,
		SentAt:            req.SentAt,
		Status:            model.TrackingStatusSent,
	}
	if err := h.service.StartTracking(c.Request.Context(), email); err != nil {
		if errors.Is(err, tracking.ErrAlreadyTracked) {
			c.Error(apperrors.Conflict(err.Error(), err))
			return
		}
		c.Error(apperrors.BadRequest(err.Error(), err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": email})
}

func (h *Handler) GetEmail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.BadRequest("invalid email ID", err))
		return
	}

	email, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		c.Error(apperrors.NotFound("tracked email", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": email})
}

func (h *Handler) ListEmails(c *gin.Context) {
	accountID, err := uuid.Parse(c.Query("account_id"))
	if err != nil {
		c.Error(apperrors.BadRequest("invalid account ID", err))
		return
	}

	var status *model.TrackingStatus
	if s := c.Query("status"); s != "" {
		ts := model.TrackingStatus(s)
		status = &ts
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.Error(apperrors.BadRequest("invalid limit", err))
			return
		}
	}

	emails, err := h.service.List(c.Request.Context(), accountID, status, limit)
	if err != nil {
		c.Error(apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": emails})
}

func (h *Handler) ListResponses(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.BadRequest("invalid email ID", err))
		return
	}

	responses, err := h.service.Responses(c.Request.Context(), id)
	if err != nil {
		c.Error(apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": responses})
}

func (h *Handler) CloseEmail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.BadRequest("invalid email ID", err))
		return
	}

	if err := h.service.Close(c.Request.Context(), id); err != nil {
		if tracking.IsInvalidTransition(err) {
			c.Error(apperrors.Conflict(err.Error(), err))
			return
		}
		c.Error(apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ListDeadLetter exposes buried jobs for operator inspection.
func (h *Handler) ListDeadLetter(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			c.Error(apperrors.BadRequest("invalid limit", err))
			return
		}
		limit = parsed
	}

	jobs, err := h.queue.ListDeadLetter(c.Request.Context(), limit)
	if err != nil {
		c.Error(apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": jobs})
}
