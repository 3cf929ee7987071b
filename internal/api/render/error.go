// Package render writes API error responses.
package render

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// Status maps a service error onto an HTTP status
func Status(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrConversationBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrInvalidParameter):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error writes err as {"error": "..."} with its mapped status
func Error(c *gin.Context, err error) {
	c.JSON(Status(err), gin.H{"error": err.Error()})
}

// BadRequest writes a binding failure
func BadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
