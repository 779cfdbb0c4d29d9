package dashboard

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// Handler handles HTTP requests for the dashboard
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new dashboard handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers dashboard routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	dashboard := router.Group("/dashboard")
	{
		dashboard.GET("/overview", h.getOverview)
		dashboard.GET("/stations", h.getStations)
		dashboard.GET("/stations/:id/requests", h.getStationRequests)
		dashboard.GET("/requests", h.getSpecialRequests)
		dashboard.GET("/cache", h.getCacheStats)
	}
}

// getOverview handles GET /api/v1/dashboard/overview
func (h *Handler) getOverview(c *gin.Context) {
	actor, ok := workflow.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	overview, err := h.service.Overview(c.Request.Context(), actor)
	if err != nil {
		h.writeError(c, "Failed to load overview", err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// getStations handles GET /api/v1/dashboard/stations
func (h *Handler) getStations(c *gin.Context) {
	actor, ok := workflow.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	cards, err := h.service.StationCounts(c.Request.Context(), actor)
	if err != nil {
		h.writeError(c, "Failed to count station requests", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stations": cards})
}

// getStationRequests handles GET /api/v1/dashboard/stations/:id/requests
func (h *Handler) getStationRequests(c *gin.Context) {
	actor, ok := workflow.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	stationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid station id"})
		return
	}
	view, err := h.service.StationRequests(c.Request.Context(), actor, stationID)
	if err != nil {
		h.writeError(c, "Failed to list station requests", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// getSpecialRequests handles GET /api/v1/dashboard/requests?type=unassigned_pipeline|assigned_no_pipeline
func (h *Handler) getSpecialRequests(c *gin.Context) {
	actor, ok := workflow.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	view, err := h.service.SpecialRequests(c.Request.Context(), actor, CardKind(c.Query("type")))
	if err != nil {
		h.writeError(c, "Failed to list requests", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// getCacheStats handles GET /api/v1/dashboard/cache
func (h *Handler) getCacheStats(c *gin.Context) {
	actor, ok := workflow.ActorFrom(c)
	if !ok || !actor.IsSuperuser {
		c.JSON(http.StatusForbidden, gin.H{"error": "administrator access required"})
		return
	}
	c.JSON(http.StatusOK, h.service.CacheStats())
}

func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	if errors.Is(err, ErrUnknownCard) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := workflow.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
