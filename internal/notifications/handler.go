package notifications

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/notifications/websocket"
	"maintenance-portal/service-desk-backend/internal/workflow"
)

// Handler serves the live notification socket and delivery history
type Handler struct {
	store   DeliveryStore
	manager *websocket.Manager
	logger  *zap.Logger
}

// NewHandler creates a new notifications handler
func NewHandler(store DeliveryStore, manager *websocket.Manager, logger *zap.Logger) *Handler {
	return &Handler{store: store, manager: manager, logger: logger}
}

// RegisterRoutes registers notification routes on an authenticated group
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ws", h.connect)
	router.GET("/requests/:id/notifications", h.listDeliveries)
	router.GET("/notifications/connections", h.listConnections)
}

// connect handles GET /api/v1/ws
func (h *Handler) connect(c *gin.Context) {
	actor, ok := workflow.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if _, err := h.manager.HandleConnection(c.Writer, c.Request, actor.UserID.String()); err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
	}
}

// listDeliveries handles GET /api/v1/requests/:id/notifications
func (h *Handler) listDeliveries(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	logs, err := h.store.ListByRequest(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list deliveries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deliveries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": logs})
}

// listConnections handles GET /api/v1/notifications/connections
func (h *Handler) listConnections(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":       h.manager.GetConnectionCount(),
		"connections": h.manager.GetConnectionInfo(),
	})
}

func (h *Handler) requireSuperuser(c *gin.Context) bool {
	actor, ok := workflow.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return false
	}
	if !actor.IsSuperuser {
		c.JSON(http.StatusForbidden, gin.H{"error": "administrator access required"})
		return false
	}
	return true
}
