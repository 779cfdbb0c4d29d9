package workflow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const actorContextKey = "workflow.actor"

// SetActor stores the authenticated actor on the request context
func SetActor(c *gin.Context, actor Actor) {
	c.Set(actorContextKey, actor)
}

// ActorFrom returns the actor stored by SetActor
func ActorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}

// Handler handles HTTP requests for workflow operations
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a new workflow handler
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes registers workflow routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/requests")
	{
		requests.POST("", h.createRequest)
		requests.GET("/:id", h.getRequest)
		requests.GET("/:id/logs", h.getHistory)
		requests.POST("/:id/pipeline", h.assignPipeline)
		requests.POST("/:id/next", h.moveToNext)
		requests.POST("/:id/move", h.moveToStation)
		requests.POST("/:id/send-back", h.sendBack)
		requests.POST("/:id/assign", h.assignUser)
		requests.POST("/:id/comments", h.addComment)
	}

	stations := router.Group("/stations")
	{
		stations.GET("", h.listStations)
		stations.POST("", h.createStation)
		stations.PUT("/:id", h.updateStation)
		stations.DELETE("/:id", h.deleteStation)
	}

	pipelines := router.Group("/pipelines")
	{
		pipelines.GET("", h.listPipelines)
		pipelines.POST("", h.createPipeline)
		pipelines.GET("/:id", h.getPipeline)
		pipelines.DELETE("/:id", h.deletePipeline)
		pipelines.PUT("/:id/order", h.reorderPipeline)
		pipelines.POST("/:id/stations", h.addPipelineStation)
		pipelines.PUT("/:id/stations/:stationId", h.updatePipelineStation)
		pipelines.DELETE("/:id/stations/:stationId", h.removePipelineStation)
	}
}

type commentBody struct {
	Comment string `json:"comment"`
}

type assignPipelineBody struct {
	PipelineID uuid.UUID `json:"pipeline_id" binding:"required"`
}

type moveBody struct {
	StationID uuid.UUID `json:"station_id" binding:"required"`
	Comment   string    `json:"comment"`
}

type assignUserBody struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

type addStationBody struct {
	BindingInput
	Position int `json:"position"`
}

type reorderBody struct {
	StationIDs []uuid.UUID `json:"station_ids" binding:"required"`
}

type bindingUpdateBody struct {
	Policy         StationPolicy `json:"policy"`
	AllowedUserIDs []uuid.UUID   `json:"allowed_user_ids"`
}

// =====================================================
// Service request endpoints
// =====================================================

// createRequest handles POST /api/v1/requests
func (h *Handler) createRequest(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var body CreateRequestInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, res, err := h.engine.CreateRequest(c.Request.Context(), body, actor)
	if err != nil {
		h.writeError(c, "Failed to create service request", err)
		return
	}
	if !res.Success {
		h.writeResult(c, res)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// getRequest handles GET /api/v1/requests/:id
func (h *Handler) getRequest(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	req, err := h.engine.GetRequest(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to load service request", err)
		return
	}
	snap, err := h.engine.Snapshot(c.Request.Context(), req, actor)
	if err != nil {
		h.writeError(c, "Failed to load workflow state", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": req, "workflow": snap})
}

// getHistory handles GET /api/v1/requests/:id/logs
func (h *Handler) getHistory(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	logs, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to load history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// assignPipeline handles POST /api/v1/requests/:id/pipeline
func (h *Handler) assignPipeline(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body assignPipelineBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.AssignPipeline(c.Request.Context(), id, body.PipelineID, actor)
	if err != nil {
		h.writeError(c, "Failed to assign pipeline", err)
		return
	}
	h.writeResult(c, res)
}

// moveToNext handles POST /api/v1/requests/:id/next
func (h *Handler) moveToNext(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body commentBody
	_ = c.ShouldBindJSON(&body)

	res, err := h.engine.MoveToNextStation(c.Request.Context(), id, actor, body.Comment)
	if err != nil {
		h.writeError(c, "Failed to move service request", err)
		return
	}
	h.writeResult(c, res)
}

// moveToStation handles POST /api/v1/requests/:id/move
func (h *Handler) moveToStation(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body moveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	req, err := h.engine.GetRequest(ctx, id)
	if err != nil {
		h.writeError(c, "Failed to load service request", err)
		return
	}
	allowed, err := h.engine.Access().CanUserAccessStation(ctx, actor.UserID, body.StationID, req)
	if err != nil {
		h.writeError(c, "Failed to check station access", err)
		return
	}
	if !allowed && !actor.IsSuperuser {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "You do not have access to this station"})
		return
	}

	res, err := h.engine.MoveToStation(ctx, id, body.StationID, actor, body.Comment)
	if err != nil {
		h.writeError(c, "Failed to move service request", err)
		return
	}
	h.writeResult(c, res)
}

// sendBack handles POST /api/v1/requests/:id/send-back
func (h *Handler) sendBack(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body commentBody
	_ = c.ShouldBindJSON(&body)

	res, err := h.engine.SendBack(c.Request.Context(), id, actor, body.Comment)
	if err != nil {
		h.writeError(c, "Failed to send service request back", err)
		return
	}
	h.writeResult(c, res)
}

// assignUser handles POST /api/v1/requests/:id/assign
func (h *Handler) assignUser(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body assignUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.AssignUser(c.Request.Context(), id, body.UserID, actor)
	if err != nil {
		h.writeError(c, "Failed to assign service request", err)
		return
	}
	h.writeResult(c, res)
}

// addComment handles POST /api/v1/requests/:id/comments
func (h *Handler) addComment(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body commentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.AddComment(c.Request.Context(), id, actor, body.Comment)
	if err != nil {
		h.writeError(c, "Failed to add comment", err)
		return
	}
	h.writeResult(c, res)
}

// =====================================================
// Topology endpoints
// =====================================================

// listStations handles GET /api/v1/stations
func (h *Handler) listStations(c *gin.Context) {
	stations, err := h.engine.Topology().ListStations(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to list stations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stations": stations})
}

// createStation handles POST /api/v1/stations
func (h *Handler) createStation(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	var body StationInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	station, err := h.engine.Topology().CreateStation(c.Request.Context(), body)
	if err != nil {
		h.writeError(c, "Failed to create station", err)
		return
	}
	c.JSON(http.StatusCreated, station)
}

// updateStation handles PUT /api/v1/stations/:id
func (h *Handler) updateStation(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body StationInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	station, err := h.engine.Topology().UpdateStation(c.Request.Context(), id, body)
	if err != nil {
		h.writeError(c, "Failed to update station", err)
		return
	}
	c.JSON(http.StatusOK, station)
}

// deleteStation handles DELETE /api/v1/stations/:id
func (h *Handler) deleteStation(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.engine.Topology().DeleteStation(c.Request.Context(), id); err != nil {
		h.writeError(c, "Failed to delete station", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listPipelines handles GET /api/v1/pipelines
func (h *Handler) listPipelines(c *gin.Context) {
	pipelines, err := h.engine.Topology().ListPipelines(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		h.writeError(c, "Failed to list pipelines", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": pipelines})
}

// createPipeline handles POST /api/v1/pipelines
func (h *Handler) createPipeline(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	var body PipelineInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pipeline, err := h.engine.Topology().CreatePipeline(c.Request.Context(), body)
	if err != nil {
		h.writeError(c, "Failed to create pipeline", err)
		return
	}
	c.JSON(http.StatusCreated, pipeline)
}

// getPipeline handles GET /api/v1/pipelines/:id
func (h *Handler) getPipeline(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	pipeline, err := h.engine.Topology().GetPipeline(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to load pipeline", err)
		return
	}
	c.JSON(http.StatusOK, pipeline)
}

// deletePipeline handles DELETE /api/v1/pipelines/:id
func (h *Handler) deletePipeline(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.engine.Topology().DeletePipeline(c.Request.Context(), id); err != nil {
		h.writeError(c, "Failed to delete pipeline", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// reorderPipeline handles PUT /api/v1/pipelines/:id/order
func (h *Handler) reorderPipeline(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body reorderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.Topology().Reorder(c.Request.Context(), id, body.StationIDs); err != nil {
		h.writeError(c, "Failed to reorder pipeline", err)
		return
	}
	h.getPipeline(c)
}

// addPipelineStation handles POST /api/v1/pipelines/:id/stations
func (h *Handler) addPipelineStation(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var body addStationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ps, err := h.engine.Topology().AddStation(c.Request.Context(), id, body.BindingInput, body.Position)
	if err != nil {
		h.writeError(c, "Failed to add station to pipeline", err)
		return
	}
	c.JSON(http.StatusCreated, ps)
}

// updatePipelineStation handles PUT /api/v1/pipelines/:id/stations/:stationId
func (h *Handler) updatePipelineStation(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	stationID, ok := h.uuidParam(c, "stationId")
	if !ok {
		return
	}
	var body bindingUpdateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ps, err := h.engine.Topology().UpdateBinding(c.Request.Context(), id, stationID, body.Policy, body.AllowedUserIDs)
	if err != nil {
		h.writeError(c, "Failed to update pipeline station", err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

// removePipelineStation handles DELETE /api/v1/pipelines/:id/stations/:stationId
func (h *Handler) removePipelineStation(c *gin.Context) {
	if !h.requireSuperuser(c) {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	stationID, ok := h.uuidParam(c, "stationId")
	if !ok {
		return
	}

	if err := h.engine.Topology().RemoveStation(c.Request.Context(), id, stationID); err != nil {
		h.writeError(c, "Failed to remove station from pipeline", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// =====================================================
// Helpers
// =====================================================

func (h *Handler) actor(c *gin.Context) (Actor, bool) {
	actor, ok := ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return Actor{}, false
	}
	return actor, true
}

func (h *Handler) requireSuperuser(c *gin.Context) bool {
	actor, ok := h.actor(c)
	if !ok {
		return false
	}
	if !actor.IsSuperuser {
		c.JSON(http.StatusForbidden, gin.H{"error": "administrator access required"})
		return false
	}
	return true
}

func (h *Handler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// WriteResult renders a workflow Result; refusals become 422, or 403 when not authorized
func WriteResult(c *gin.Context, res Result) {
	switch {
	case res.Success:
		c.JSON(http.StatusOK, res)
	case errors.Is(res.Reason, ErrNotAuthorized), errors.Is(res.Reason, ErrForbidden):
		c.JSON(http.StatusForbidden, res)
	default:
		c.JSON(http.StatusUnprocessableEntity, res)
	}
}

// StatusFor maps workflow errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrStationInUse), errors.Is(err, ErrPipelineInUse):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTopology):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeResult(c *gin.Context, res Result) {
	WriteResult(c, res)
}

func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
