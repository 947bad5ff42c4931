package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/replypilot/tracker-api/internal/health"
)

type Handler struct {
	db      *sqlx.DB
	monitor *health.Monitor
}

func NewHandler(db *sqlx.DB, monitor *health.Monitor) *Handler {
	return &Handler{
		db:      db,
		monitor: monitor,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/health")
	{
		group.GET("/live", h.LivenessCheck)
		group.GET("/ready", h.ReadinessCheck)
		group.GET("", h.HealthCheck)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "Database connection failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// HealthCheck returns the aggregated pipeline health report.
func (h *Handler) HealthCheck(c *gin.Context) {
	report, err := h.monitor.Check(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": err.Error(),
		})
		return
	}

	code := http.StatusOK
	if report.Status == health.StatusDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": report.Status,
		"data":   report,
	})
}
