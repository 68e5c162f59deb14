package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests made by drivers about their own work.
type DriverHandler struct {
	dispatch *service.DispatchService
	routes   *service.RouteService
	log      *logger.Logger
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(dispatch *service.DispatchService, routes *service.RouteService, log *logger.Logger) *DriverHandler {
	return &DriverHandler{dispatch: dispatch, routes: routes, log: log}
}

// UpdateLocationBody is the HTTP request body for a driver position report.
type UpdateLocationBody struct {
	Lat *float64 `json:"lat" binding:"required,latitude"`
	Lng *float64 `json:"lng" binding:"required,longitude"`
}

// Assignments handles GET /v1/drivers/me/assignments
func (h *DriverHandler) Assignments(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	views, err := h.dispatch.ListForDriver(c.Request.Context(), actor)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"assignments": toAssignmentResponses(views)})
}

// Route handles GET /v1/drivers/me/route
func (h *DriverHandler) Route(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	route, err := h.routes.PlanRoute(c.Request.Context(), actor, actor.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, toRouteResponse(route))
}

// UpdateLocation handles POST /v1/drivers/me/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	var body UpdateLocationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	loc := domain.Location{Lat: *body.Lat, Lng: *body.Lng}
	if err := h.routes.UpdateDriverLocation(c.Request.Context(), actor, loc); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearLocation handles DELETE /v1/drivers/me/location
func (h *DriverHandler) ClearLocation(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	if err := h.routes.ClearDriverLocation(c.Request.Context(), actor); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
