package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// HashPassword returns the bcrypt hash stored on users
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Handler serves login and identity endpoints
type Handler struct {
	repo   workflow.Repository
	issuer *TokenIssuer
	logger *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(repo workflow.Repository, issuer *TokenIssuer, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, issuer: issuer, logger: logger}
}

// RegisterRoutes registers the public login route and the authenticated identity route
func (h *Handler) RegisterRoutes(public, protected *gin.RouterGroup) {
	public.POST("/auth/login", h.Login)
	protected.GET("/auth/me", h.Me)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges a username and password for an access token
func (h *Handler) Login(c *gin.Context) {
	var body loginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.repo.GetUserByUsername(c.Request.Context(), body.Username)
	if err != nil && !errors.Is(err, workflow.ErrNotFound) {
		h.logger.Error("Failed to load user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if user == nil || user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	token, expires, err := h.issuer.Issue(user)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.logger.Info("User logged in", zap.String("username", user.Username))
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires,
		"user":         user,
	})
}

// Me returns the authenticated user
func (h *Handler) Me(c *gin.Context) {
	actor, ok := workflow.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	user, err := h.repo.GetUser(c.Request.Context(), actor.UserID)
	if err != nil {
		c.JSON(workflow.StatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
