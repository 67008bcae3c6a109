package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"portalauth/internal/service"
)

// writeError maps service errors onto HTTP responses. The message is always the
// service's user-facing text.
func writeError(c *gin.Context, err error) {
	var locked *service.LockedError
	if errors.As(err, &locked) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(locked.RetryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": locked.Error()})
		return
	}

	body := gin.H{"error": err.Error()}
	if field := service.FieldOf(err); field != "" {
		body["field"] = field
	}
	c.JSON(statusFor(err), body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountSuspended),
		errors.Is(err, service.ErrAccountInactive):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrInvalidUsername),
		errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
