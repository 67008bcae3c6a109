package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"portalauth/internal/models"
	"portalauth/internal/service"
)

const (
	currentUserKey = "current_user"
	sessionIDKey   = "session_id"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	RequireAuth(ctx context.Context, r *http.Request) (service.Identity, *service.AccessError)
}

func Auth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, accessErr := auth.RequireAuth(c.Request.Context(), c.Request)
		if accessErr != nil {
			abortAccess(c, accessErr)
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

// CurrentUser returns the user stored by Auth.
func CurrentUser(c *gin.Context) (models.PublicUser, bool) {
	val, ok := c.Get(currentUserKey)
	if !ok {
		return models.PublicUser{}, false
	}
	user, ok := val.(models.PublicUser)
	return user, ok
}

// SessionID returns the session stored by Auth.
func SessionID(c *gin.Context) string {
	return c.GetString(sessionIDKey)
}

func setIdentity(c *gin.Context, identity service.Identity) {
	c.Set(currentUserKey, identity.User)
	c.Set(sessionIDKey, identity.SessionID)
}

func abortAccess(c *gin.Context, accessErr *service.AccessError) {
	c.AbortWithStatusJSON(accessErr.Status, gin.H{"error": accessErr.Message})
}
