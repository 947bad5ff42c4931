package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/replypilot/tracker-api/pkg/errors"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)

		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}

		lastErr := c.Errors.Last()
		status := http.StatusInternalServerError
		message := lastErr.Error()

		var appErr *apperrors.AppError
		if errors.As(lastErr.Err, &appErr) {
			message = appErr.Message
			switch appErr.Code {
			case apperrors.ErrNotFound:
				status = http.StatusNotFound
			case apperrors.ErrBadRequest:
				status = http.StatusBadRequest
			case apperrors.ErrUnauthorized:
				status = http.StatusUnauthorized
			case apperrors.ErrForbidden:
				status = http.StatusForbidden
			case apperrors.ErrRateLimited:
				status = http.StatusTooManyRequests
			case apperrors.ErrConflict:
				status = http.StatusConflict
			case apperrors.ErrUpstream:
				status = http.StatusBadGateway
			}
		}

		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: message,
			TraceID: requestID,
		})
	}
}
