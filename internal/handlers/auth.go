package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"portalauth/internal/middleware"
	"portalauth/internal/models"
	"portalauth/internal/permissions"
	"portalauth/internal/security"
	"portalauth/internal/service"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
}

type tokensResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type authResponse struct {
	User   models.PublicUser `json:"user"`
	Tokens tokensResponse    `json:"tokens"`
}

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusCreated, result)
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.GetHeader("User-Agent"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout always answers {"success": true}. The token comes from the Authorization
// header, the access cookie or a refreshToken in the body, in that order.
func (h HandlerSet) Logout(c *gin.Context) {
	token := security.ExtractTokenFromRequest(c.Request, h.cfg.Security.AccessCookie)
	if token == "" {
		var req logoutRequest
		_ = c.ShouldBindJSON(&req)
		token = req.RefreshToken
	}

	h.auth.Logout(c.Request.Context(), token)
	h.clearAccessCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h HandlerSet) sendAuthResponse(c *gin.Context, status int, result service.AuthResult) {
	h.setAccessCookie(c, result.Tokens)
	c.JSON(status, authResponse{
		User: result.User,
		Tokens: tokensResponse{
			AccessToken:      result.Tokens.AccessToken,
			RefreshToken:     result.Tokens.RefreshToken,
			AccessExpiresAt:  result.Tokens.AccessExpiresAt,
			RefreshExpiresAt: result.Tokens.RefreshExpiresAt,
		},
	})
}

func (h HandlerSet) setAccessCookie(c *gin.Context, tokens security.TokenPair) {
	maxAge := int(time.Until(tokens.AccessExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(h.cfg.Security.AccessTTL.Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Security.AccessCookie, tokens.AccessToken, maxAge, "/", "", h.cfg.Security.SecureCookies, true)
}

func (h HandlerSet) clearAccessCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Security.AccessCookie, "", -1, "/", "", h.cfg.Security.SecureCookies, true)
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": user,
	})
}

func (h HandlerSet) Permissions(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"role":        user.Role,
		"permissions": permissions.For(user.Role),
	})
}

type sessionResponse struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current"`
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	current := middleware.SessionID(c)

	sessions, err := h.auth.ListSessions(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		resp = append(resp, sessionResponse{
			ID:        session.ID,
			IPAddress: session.IPAddress,
			UserAgent: session.UserAgent,
			CreatedAt: session.CreatedAt,
			ExpiresAt: session.ExpiresAt,
			Current:   session.ID == current,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": resp,
	})
}

func (h HandlerSet) RevokeSession(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	sessionID := c.Param("id")
	if sessionID == middleware.SessionID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "use logout to end the current session"})
		return
	}

	if err := h.auth.RevokeSession(c.Request.Context(), user.ID, sessionID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
