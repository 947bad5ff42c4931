package subscription

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/replypilot/tracker-api/internal/subscription"
	apperrors "github.com/replypilot/tracker-api/pkg/errors"
)

type Handler struct {
	manager *subscription.Manager
}

func NewHandler(manager *subscription.Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	subs := r.Group("/subscriptions")
	{
		subs.POST("", h.CreateSubscription)
		subs.GET("", h.ListSubscriptions)
		subs.POST("/:id/renew", h.RenewSubscription)
		subs.DELETE("/:id", h.DeleteSubscription)
	}
}

type createRequest struct {
	AccountID   uuid.UUID `json:"account_id" binding:"required"`
	Resource    string    `json:"resource" binding:"required"`
	NotifyURL   string    `json:"notify_url" binding:"required,url"`
	ClientState string    `json:"client_state"`
}

func (h *Handler) CreateSubscription(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest("invalid subscription request", err))
		return
	}

	sub, err := h.manager.CreateSubscription(c.Request.Context(), req.AccountID, req.Resource, req.NotifyURL, req.ClientState)
	if err != nil {
		c.Error(apperrors.Upstream("failed to create subscription at provider", err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": sub})
}

func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.manager.ListActive(c.Request.Context())
	if err != nil {
		c.Error(apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": subs})
}

func (h *Handler) RenewSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.BadRequest("invalid subscription ID", err))
		return
	}

	sub, err := h.manager.RenewSubscription(c.Request.Context(), id)
	if err != nil {
		c.Error(apperrors.Upstream("failed to renew subscription", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": sub})
}

func (h *Handler) DeleteSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.Error(apperrors.BadRequest("invalid subscription ID", err))
		return
	}

	if err := h.manager.DeleteSubscription(c.Request.Context(), id); err != nil {
		c.Error(apperrors.Upstream("failed to delete subscription", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
