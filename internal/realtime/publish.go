package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
)

// RequestPayload is the wire form of a pickup request in events.
type RequestPayload struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"client_id"`
	WasteType      string     `json:"waste_type"`
	FillLevel      int        `json:"fill_level"`
	Note           string     `json:"note,omitempty"`
	SLAClass       string     `json:"sla_class"`
	CreatedAt      time.Time  `json:"created_at"`
	Lat            *float64   `json:"lat,omitempty"`
	Lng            *float64   `json:"lng,omitempty"`
	Status         string     `json:"status"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	ProofURL       string     `json:"proof_url,omitempty"`
	Weight         *float64   `json:"weight,omitempty"`
	WeightUnit     string     `json:"weight_unit,omitempty"`
	ProcessingNote string     `json:"processing_note,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	Version        int64      `json:"version"`
}

// AssignmentPayload is the wire form of a driver assignment in events.
type AssignmentPayload struct {
	ID          string     `json:"id"`
	RequestID   string     `json:"request_id"`
	DriverID    string     `json:"driver_id"`
	AssignedBy  string     `json:"assigned_by"`
	Status      string     `json:"status"`
	AssignedAt  time.Time  `json:"assigned_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	Version     int64      `json:"version"`
}

// NewRequestPayload converts a request to its wire form.
func NewRequestPayload(r *domain.PickupRequest) RequestPayload {
	p := RequestPayload{
		ID:             r.ID,
		ClientID:       r.ClientID,
		WasteType:      r.WasteType,
		FillLevel:      int(r.FillLevel),
		Note:           r.Note,
		SLAClass:       string(r.SLAClass),
		CreatedAt:      r.CreatedAt,
		Status:         string(r.EffectiveStatus()),
		ProcessedAt:    r.ProcessedAt,
		ProofURL:       r.ProofURL,
		Weight:         r.Weight,
		WeightUnit:     string(r.WeightUnit),
		ProcessingNote: r.ProcessingNote,
		DeletedAt:      r.DeletedAt,
		Version:        r.Version,
	}
	if r.Location != nil {
		lat, lng := r.Location.Lat, r.Location.Lng
		p.Lat, p.Lng = &lat, &lng
	}
	return p
}

// NewAssignmentPayload converts an assignment to its wire form.
func NewAssignmentPayload(a *domain.DriverAssignment) AssignmentPayload {
	return AssignmentPayload{
		ID:          a.ID,
		RequestID:   a.RequestID,
		DriverID:    a.DriverID,
		AssignedBy:  a.AssignedBy,
		Status:      string(a.Status),
		AssignedAt:  a.AssignedAt,
		StartedAt:   a.StartedAt,
		PickedUpAt:  a.PickedUpAt,
		DeliveredAt: a.DeliveredAt,
		DeletedAt:   a.DeletedAt,
		Version:     a.Version,
	}
}

// RequestEvent builds the event for a committed request change. driverID is
// the driver currently holding the request, if any.
func RequestEvent(kind ChangeKind, r *domain.PickupRequest, driverID string, at time.Time) (Event, error) {
	payload, err := json.Marshal(NewRequestPayload(r))
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.NewString(),
		TenantID:    r.TenantID,
		DriverID:    driverID,
		ClientID:    r.ClientID,
		EntityType:  EntityRequest,
		EntityID:    r.ID,
		ChangeKind:  kind,
		Version:     r.Version,
		Payload:     payload,
		CommittedAt: at,
	}, nil
}

// AssignmentEvent builds the event for a committed assignment change.
func AssignmentEvent(kind ChangeKind, a *domain.DriverAssignment, clientID string, at time.Time) (Event, error) {
	payload, err := json.Marshal(NewAssignmentPayload(a))
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.NewString(),
		TenantID:    a.TenantID,
		DriverID:    a.DriverID,
		ClientID:    clientID,
		EntityType:  EntityAssignment,
		EntityID:    a.ID,
		ChangeKind:  kind,
		Version:     a.Version,
		Payload:     payload,
		CommittedAt: at,
	}, nil
}

// Discard is a Publisher that drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Fanout publishes to every publisher in order and returns the first error.
// Later publishers still run when an earlier one fails.
func Fanout(publishers ...Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, ev Event) error {
		var first error
		for _, p := range publishers {
			if err := p.Publish(ctx, ev); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
