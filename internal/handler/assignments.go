package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/realtime"
	"dispatch/internal/service"
)

// AssignmentHandler handles HTTP requests for driver assignments.
type AssignmentHandler struct {
	dispatch *service.DispatchService
	log      *logger.Logger
}

// NewAssignmentHandler creates a new AssignmentHandler.
func NewAssignmentHandler(dispatch *service.DispatchService, log *logger.Logger) *AssignmentHandler {
	return &AssignmentHandler{dispatch: dispatch, log: log}
}

// AssignBody is the HTTP request body for assigning a request.
type AssignBody struct {
	RequestID string `json:"request_id" binding:"required"`
	DriverID  string `json:"driver_id" binding:"required"`
}

// BulkAssignBody is the HTTP request body for assigning many requests to one driver.
type BulkAssignBody struct {
	RequestIDs []string `json:"request_ids" binding:"required,min=1,max=200,dive,required"`
	DriverID   string   `json:"driver_id" binding:"required"`
}

// ReassignBody is the HTTP request body for moving an assignment to another driver.
type ReassignBody struct {
	DriverID string `json:"driver_id" binding:"required"`
}

// ListAssignmentsQuery holds the dispatcher's assignment listing filters.
type ListAssignmentsQuery struct {
	DriverID string `form:"driver_id"`
	Status   string `form:"status" binding:"omitempty,oneof=assigned in_progress picked_up delivered"`
}

// Assign handles POST /v1/assignments
func (h *AssignmentHandler) Assign(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	var body AssignBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	a, err := h.dispatch.Assign(c.Request.Context(), actor, body.RequestID, body.DriverID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusCreated, realtime.NewAssignmentPayload(a))
}

// BulkAssign handles POST /v1/assignments/bulk
func (h *AssignmentHandler) BulkAssign(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	var body BulkAssignBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	result, err := h.dispatch.BulkAssign(c.Request.Context(), actor, body.RequestIDs, body.DriverID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if len(result.Failed) > 0 && len(result.Assigned) > 0 {
		status = http.StatusMultiStatus
	}
	respondJSON(c, status, toBulkAssignResponse(result))
}

// List handles GET /v1/assignments
func (h *AssignmentHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	var q ListAssignmentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}

	views, err := h.dispatch.ListAssignments(c.Request.Context(), actor, service.ListAssignmentsInput{
		DriverID: q.DriverID,
		Status:   domain.AssignmentStatus(q.Status),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"assignments": toAssignmentResponses(views)})
}

// Reassign handles POST /v1/assignments/:id/reassign
func (h *AssignmentHandler) Reassign(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	var body ReassignBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	a, err := h.dispatch.Reassign(c.Request.Context(), actor, c.Param("id"), body.DriverID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, realtime.NewAssignmentPayload(a))
}

// Unassign handles POST /v1/assignments/:id/unassign
func (h *AssignmentHandler) Unassign(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	if err := h.dispatch.Unassign(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Start handles POST /v1/assignments/:id/start
func (h *AssignmentHandler) Start(c *gin.Context) {
	h.advance(c, h.dispatch.StartPickup)
}

// PickUp handles POST /v1/assignments/:id/pickup
func (h *AssignmentHandler) PickUp(c *gin.Context) {
	h.advance(c, h.dispatch.MarkPickedUp)
}

// Deliver handles POST /v1/assignments/:id/deliver
func (h *AssignmentHandler) Deliver(c *gin.Context) {
	h.advance(c, h.dispatch.MarkDelivered)
}

type progressFunc func(ctx context.Context, actor domain.Actor, assignmentID string) (*domain.DriverAssignment, error)

func (h *AssignmentHandler) advance(c *gin.Context, step progressFunc) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	a, err := step(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, realtime.NewAssignmentPayload(a))
}

func toAssignmentResponses(views []*service.AssignmentView) []AssignmentResponse {
	out := make([]AssignmentResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toAssignmentResponse(v))
	}
	return out
}
