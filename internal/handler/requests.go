package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/service"
	"dispatch/internal/urgency"
)

// RequestHandler handles HTTP requests for pickup requests.
type RequestHandler struct {
	requests *service.RequestService
	dispatch *service.DispatchService
	routes   *service.RouteService
	log      *logger.Logger
}

// NewRequestHandler creates a new RequestHandler.
func NewRequestHandler(requests *service.RequestService, dispatch *service.DispatchService, routes *service.RouteService, log *logger.Logger) *RequestHandler {
	return &RequestHandler{
		requests: requests,
		dispatch: dispatch,
		routes:   routes,
		log:      log,
	}
}

// CreateRequestBody is the HTTP request body for filing a pickup request.
type CreateRequestBody struct {
	ClientID  string   `json:"client_id"`
	WasteType string   `json:"waste_type" binding:"required"`
	FillLevel int      `json:"fill_level" binding:"required,oneof=50 75 100"`
	SLAClass  string   `json:"sla_class" binding:"required,slaclass"`
	Note      string   `json:"note" binding:"max=2000"`
	Lat       *float64 `json:"lat" binding:"omitempty,latitude"`
	Lng       *float64 `json:"lng" binding:"omitempty,longitude"`
}

// ProcessRequestBody is the HTTP request body for processing a request.
type ProcessRequestBody struct {
	ProofURL   string   `json:"proof_url" binding:"omitempty,url"`
	Weight     *float64 `json:"weight" binding:"omitempty,gt=0"`
	WeightUnit string   `json:"weight_unit" binding:"omitempty,oneof=kg lb t"`
	Note       string   `json:"note" binding:"max=2000"`
}

// ListRequestsQuery holds the request listing filters.
type ListRequestsQuery struct {
	Status         string `form:"status" binding:"omitempty,oneof=pending processed rejected"`
	Tier           string `form:"tier" binding:"omitempty,slaclass"`
	WasteType      string `form:"waste_type"`
	IncludeDeleted bool   `form:"include_deleted"`
	Limit          int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// NearbyDriversQuery holds the nearby-driver search parameters.
type NearbyDriversQuery struct {
	RadiusKm float64 `form:"radius_km" binding:"omitempty,gt=0"`
	Limit    int     `form:"limit" binding:"omitempty,min=1"`
}

// Create handles POST /v1/requests
func (h *RequestHandler) Create(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBindError(c, err)
		return
	}

	in := service.CreateRequestInput{
		ClientID:  body.ClientID,
		WasteType: body.WasteType,
		FillLevel: domain.FillLevel(body.FillLevel),
		SLAClass:  domain.SLAClass(body.SLAClass),
		Note:      body.Note,
	}
	if body.Lat != nil || body.Lng != nil {
		if body.Lat == nil || body.Lng == nil {
			respondError(c, h.log, &service.ValidationError{Field: "location", Reason: "lat and lng must be given together"})
			return
		}
		in.Location = &domain.Location{Lat: *body.Lat, Lng: *body.Lng}
	}

	req, err := h.requests.Create(c.Request.Context(), actor, in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	view, err := h.requests.Get(c.Request.Context(), actor, req.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusCreated, toRequestResponse(view))
}

// List handles GET /v1/requests
func (h *RequestHandler) List(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	var q ListRequestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}

	views, err := h.requests.List(c.Request.Context(), actor, service.ListRequestsInput{
		Status:         domain.RequestStatus(q.Status),
		Tier:           urgency.Tier(q.Tier),
		WasteType:      q.WasteType,
		IncludeDeleted: q.IncludeDeleted,
		Limit:          q.Limit,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	out := make([]RequestResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toRequestResponse(v))
	}
	respondJSON(c, http.StatusOK, gin.H{"requests": out})
}

// Get handles GET /v1/requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	view, err := h.requests.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, toRequestResponse(view))
}

// Process handles POST /v1/requests/:id/process
func (h *RequestHandler) Process(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	// Proof of service is optional, so an empty body is accepted.
	var body ProcessRequestBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respondBindError(c, err)
		return
	}

	req, err := h.requests.Process(c.Request.Context(), actor, c.Param("id"), service.ProcessInput{
		ProofURL:   body.ProofURL,
		Weight:     body.Weight,
		WeightUnit: domain.WeightUnit(body.WeightUnit),
		Note:       body.Note,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, toRequestPayload(req))
}

// Reject handles POST /v1/requests/:id/reject
func (h *RequestHandler) Reject(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	if err := h.requests.Reject(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History handles GET /v1/requests/:id/assignments
func (h *RequestHandler) History(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	rows, err := h.dispatch.History(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"assignments": toAssignmentPayloads(rows)})
}

// NearbyDrivers handles GET /v1/requests/:id/nearby-drivers
func (h *RequestHandler) NearbyDrivers(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	var q NearbyDriversQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}

	drivers, err := h.routes.NearbyDrivers(c.Request.Context(), actor, c.Param("id"), q.RadiusKm, q.Limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	out := make([]DriverLocationResponse, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, DriverLocationResponse{DriverID: d.DriverID, Lat: d.Lat, Lng: d.Lng, DistanceKm: d.DistanceKm})
	}
	respondJSON(c, http.StatusOK, gin.H{"drivers": out})
}
