package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/service"
)

// AuthHandlers contains HTTP handlers for auth and token endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

type tokenResponse struct {
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	AccessExpiry  time.Time `json:"accessExpiry"`
	RefreshExpiry time.Time `json:"refreshExpiry"`
	TokenType     string    `json:"tokenType"`
}

func newTokenResponse(issued *core.Issued) tokenResponse {
	return tokenResponse{
		AccessToken:   issued.AccessToken,
		RefreshToken:  issued.RefreshToken,
		AccessExpiry:  issued.AccessExpiry,
		RefreshExpiry: issued.RefreshExpiry,
		TokenType:     "Bearer",
	}
}

type sessionView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	issued, err := h.authService.Login(c.Request.Context(), req.Identifier, req.Secret)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(issued))
}

// Refresh handles token rotation
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}

	issued, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(issued))
}

// Logout revokes the session of the presented access token
func (h *AuthHandlers) Logout(c *gin.Context) {
	claims, ok := ClaimsFrom(c)
	if !ok {
		abortWithError(c, core.ErrInvalidToken)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Invalidate revokes every session of the owner in the path
func (h *AuthHandlers) Invalidate(c *gin.Context) {
	count, err := h.authService.Invalidate(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revokedCount": count})
}

// Sessions lists the active sessions of the owner in the path
func (h *AuthHandlers) Sessions(c *gin.Context) {
	recs, err := h.authService.Sessions(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	out := make([]sessionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sessionView{ID: rec.ID, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Cleanup runs the janitor once
func (h *AuthHandlers) Cleanup(c *gin.Context) {
	count, err := h.authService.Cleanup(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deletedCount": count})
}

// Me returns the identity carried by the access token
func (h *AuthHandlers) Me(c *gin.Context) {
	claims, ok := ClaimsFrom(c)
	if !ok {
		abortWithError(c, core.ErrInvalidToken)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ownerId":   claims.OwnerID,
		"role":      claims.Role,
		"tokenId":   claims.TokenID,
		"expiresAt": claims.ExpiresAt,
	})
}

// Healthz reports liveness
func (h *AuthHandlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
