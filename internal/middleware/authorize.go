package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"portalauth/internal/permissions"
	"portalauth/internal/service"
)

// Authorizer resolves the caller and checks one permission.
type Authorizer interface {
	RequirePermission(ctx context.Context, r *http.Request, perm permissions.Permission) (service.Identity, *service.AccessError)
}

// RequirePermission answers 401 without a live session and 403 when the caller's
// role lacks perm. On success it stores the identity the same way Auth does.
func RequirePermission(auth Authorizer, perm permissions.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, accessErr := auth.RequirePermission(c.Request.Context(), c.Request, perm)
		if accessErr != nil {
			abortAccess(c, accessErr)
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}
