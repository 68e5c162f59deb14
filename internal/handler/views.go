package handler

import (
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/realtime"
	"dispatch/internal/service"
	"dispatch/internal/urgency"
)

// UrgencyResponse is the urgency of an open request at response time.
type UrgencyResponse struct {
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Overdue          bool      `json:"overdue"`
	Tier             string    `json:"tier"`
	Countdown        string    `json:"countdown"`
}

// RequestResponse is a pickup request with its derived dispatch state.
type RequestResponse struct {
	realtime.RequestPayload
	DispatchStatus string                      `json:"dispatch_status"`
	Urgency        *UrgencyResponse            `json:"urgency,omitempty"`
	Assignment     *realtime.AssignmentPayload `json:"assignment,omitempty"`
}

// AssignmentResponse is an assignment with the request it serves.
type AssignmentResponse struct {
	realtime.AssignmentPayload
	Request *realtime.RequestPayload `json:"request,omitempty"`
	Urgency *UrgencyResponse         `json:"urgency,omitempty"`
}

// BulkFailureResponse is one request a bulk assignment could not assign.
type BulkFailureResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

// BulkAssignResponse reports each distinct request of a bulk assignment.
type BulkAssignResponse struct {
	Assigned []realtime.AssignmentPayload `json:"assigned"`
	Failed   []BulkFailureResponse        `json:"failed"`
}

// DriverLocationResponse is a driver near a request.
type DriverLocationResponse struct {
	DriverID   string  `json:"driver_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceKm float64 `json:"distance_km"`
}

// RouteStopResponse is one stop on a planned route.
type RouteStopResponse struct {
	Assignment realtime.AssignmentPayload `json:"assignment"`
	Request    *realtime.RequestPayload   `json:"request,omitempty"`
	Urgency    *UrgencyResponse           `json:"urgency,omitempty"`
	DistanceKm float64                    `json:"distance_km"`
}

// RouteResponse is the suggested visiting order of a driver's assignments.
type RouteResponse struct {
	DriverID string              `json:"driver_id"`
	StartLat *float64            `json:"start_lat,omitempty"`
	StartLng *float64            `json:"start_lng,omitempty"`
	Stops    []RouteStopResponse `json:"stops"`
	TotalKm  float64             `json:"total_km"`
}

func toUrgencyResponse(s *urgency.Status) *UrgencyResponse {
	if s == nil {
		return nil
	}
	return &UrgencyResponse{
		Deadline:         s.Deadline,
		RemainingSeconds: int64(s.Remaining / time.Second),
		Overdue:          s.Overdue,
		Tier:             string(s.Tier),
		Countdown:        s.Countdown,
	}
}

func toRequestResponse(v *service.RequestView) RequestResponse {
	resp := RequestResponse{
		RequestPayload: realtime.NewRequestPayload(v.Request),
		DispatchStatus: string(v.Dispatch),
		Urgency:        toUrgencyResponse(v.Urgency),
	}
	if v.Assignment != nil {
		a := realtime.NewAssignmentPayload(v.Assignment)
		resp.Assignment = &a
	}
	return resp
}

func toRequestPayload(r *domain.PickupRequest) *realtime.RequestPayload {
	if r == nil {
		return nil
	}
	p := realtime.NewRequestPayload(r)
	return &p
}

func toAssignmentResponse(v *service.AssignmentView) AssignmentResponse {
	return AssignmentResponse{
		AssignmentPayload: realtime.NewAssignmentPayload(v.Assignment),
		Request:           toRequestPayload(v.Request),
		Urgency:           toUrgencyResponse(v.Urgency),
	}
}

func toAssignmentPayloads(as []*domain.DriverAssignment) []realtime.AssignmentPayload {
	out := make([]realtime.AssignmentPayload, 0, len(as))
	for _, a := range as {
		out = append(out, realtime.NewAssignmentPayload(a))
	}
	return out
}

func toBulkAssignResponse(r *service.BulkResult) BulkAssignResponse {
	resp := BulkAssignResponse{
		Assigned: toAssignmentPayloads(r.Assigned),
		Failed:   make([]BulkFailureResponse, 0, len(r.Failed)),
	}
	for _, f := range r.Failed {
		resp.Failed = append(resp.Failed, BulkFailureResponse{RequestID: f.RequestID, Code: f.Code, Reason: f.Reason})
	}
	return resp
}

func toRouteResponse(r *service.Route) RouteResponse {
	resp := RouteResponse{
		DriverID: r.DriverID,
		Stops:    make([]RouteStopResponse, 0, len(r.Stops)),
		TotalKm:  r.TotalKm,
	}
	if r.Start != nil {
		lat, lng := r.Start.Lat, r.Start.Lng
		resp.StartLat, resp.StartLng = &lat, &lng
	}
	for _, s := range r.Stops {
		resp.Stops = append(resp.Stops, RouteStopResponse{
			Assignment: realtime.NewAssignmentPayload(s.Assignment),
			Request:    toRequestPayload(s.Request),
			Urgency:    toUrgencyResponse(s.Urgency),
			DistanceKm: s.DistanceKm,
		})
	}
	return resp
}
