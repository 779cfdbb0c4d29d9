package artifacts

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// Handler handles HTTP requests for request artifacts
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new artifacts handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers artifact routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/requests/:id")
	{
		requests.GET("/artifacts", h.getArtifacts)
		requests.POST("/report", h.createReport)
		requests.POST("/purchase-order", h.createPurchaseOrder)
		requests.POST("/inventory-order", h.createInventoryOrder)
		requests.POST("/completion-report", h.createCompletionReport)
	}

	router.GET("/purchase-orders", h.listPurchaseOrders)
	router.PUT("/purchase-orders/:id/status", h.updatePurchaseOrderStatus)
	router.PUT("/inventory-orders/:id/status", h.updateInventoryOrderStatus)
	router.PUT("/completion-reports/:id", h.updateCompletionReport)
}

type statusBody struct {
	Status string `json:"status" binding:"required"`
}

// getArtifacts handles GET /api/v1/requests/:id/artifacts
func (h *Handler) getArtifacts(c *gin.Context) {
	id, ok := h.uuidParam(c)
	if !ok {
		return
	}
	bundle, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to load artifacts", err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// createReport handles POST /api/v1/requests/:id/report
func (h *Handler) createReport(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}
	var body ReportInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, res, err := h.service.CreateReport(c.Request.Context(), id, actor, body)
	h.respond(c, "Failed to create report", http.StatusCreated, "report", report, res, err)
}

// createPurchaseOrder handles POST /api/v1/requests/:id/purchase-order
func (h *Handler) createPurchaseOrder(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}
	var body OrderInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, res, err := h.service.CreatePurchaseOrder(c.Request.Context(), id, actor, body)
	h.respond(c, "Failed to create purchase order", http.StatusCreated, "purchase_order", order, res, err)
}

// createInventoryOrder handles POST /api/v1/requests/:id/inventory-order
func (h *Handler) createInventoryOrder(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}
	var body OrderInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, res, err := h.service.CreateInventoryOrder(c.Request.Context(), id, actor, body)
	h.respond(c, "Failed to create inventory order", http.StatusCreated, "inventory_order", order, res, err)
}

// createCompletionReport handles POST /api/v1/requests/:id/completion-report
func (h *Handler) createCompletionReport(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}
	var body CompletionInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, res, err := h.service.CreateCompletionReport(c.Request.Context(), id, actor, body)
	h.respond(c, "Failed to create completion report", http.StatusCreated, "completion_report", report, res, err)
}

// listPurchaseOrders handles GET /api/v1/purchase-orders?status=approved,supplied&search=PO-1
func (h *Handler) listPurchaseOrders(c *gin.Context) {
	var filter PurchaseOrderFilter
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, PurchaseOrderStatus(strings.TrimSpace(s)))
		}
	}
	filter.Search = c.Query("search")

	orders, err := h.service.ListPurchaseOrders(c.Request.Context(), filter)
	if errors.Is(err, ErrInvalidStatus) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, "Failed to list purchase orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// updatePurchaseOrderStatus handles PUT /api/v1/purchase-orders/:id/status
func (h *Handler) updatePurchaseOrderStatus(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, res, err := h.service.UpdatePurchaseOrderStatus(c.Request.Context(), id, actor, PurchaseOrderStatus(body.Status))
	h.respond(c, "Failed to update purchase order", http.StatusOK, "purchase_order", order, res, err)
}

// updateInventoryOrderStatus handles PUT /api/v1/inventory-orders/:id/status
func (h *Handler) updateInventoryOrderStatus(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, res, err := h.service.UpdateInventoryOrderStatus(c.Request.Context(), id, actor, InventoryOrderStatus(body.Status))
	h.respond(c, "Failed to update inventory order", http.StatusOK, "inventory_order", order, res, err)
}

// updateCompletionReport handles PUT /api/v1/completion-reports/:id
func (h *Handler) updateCompletionReport(c *gin.Context) {
	actor, id, ok := h.actorAndID(c)
	if !ok {
		return
	}
	var body CompletionInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, res, err := h.service.UpdateCompletionReport(c.Request.Context(), id, actor, body)
	h.respond(c, "Failed to update completion report", http.StatusOK, "completion_report", report, res, err)
}

// =====================================================
// Helpers
// =====================================================

func (h *Handler) actorAndID(c *gin.Context) (workflow.Actor, uuid.UUID, bool) {
	actor, ok := workflow.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return workflow.Actor{}, uuid.Nil, false
	}
	id, ok := h.uuidParam(c)
	return actor, id, ok
}

func (h *Handler) uuidParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respond(c *gin.Context, msg string, status int, key string, value interface{}, res workflow.Result, err error) {
	if err != nil {
		h.writeError(c, msg, err)
		return
	}
	if !res.Success {
		workflow.WriteResult(c, res)
		return
	}
	c.JSON(status, gin.H{"success": true, "message": res.Message, key: value})
}

func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := workflow.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
