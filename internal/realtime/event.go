// Package realtime fans committed dispatch changes out to connected dashboards.
//
// Topics are per tenant. Delivery is at-least-once and ordered per entity by
// the entity version; consumers merge events idempotently (see Projection).
package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// EntityType names the kind of record an event describes.
type EntityType string

const (
	EntityRequest    EntityType = "request"
	EntityAssignment EntityType = "assignment"
)

// ChangeKind names the committed change.
type ChangeKind string

const (
	RequestCreated   ChangeKind = "request.created"
	RequestProcessed ChangeKind = "request.processed"
	RequestRejected  ChangeKind = "request.rejected"

	AssignmentCreated    ChangeKind = "assignment.created"
	AssignmentStarted    ChangeKind = "assignment.started"
	AssignmentPickedUp   ChangeKind = "assignment.picked_up"
	AssignmentDelivered  ChangeKind = "assignment.delivered"
	AssignmentUnassigned ChangeKind = "assignment.unassigned"
	AssignmentReassigned ChangeKind = "assignment.reassigned"
)

// Event is a committed state change. Payload holds the full entity state at
// Version, so applying the newest event for an entity is sufficient.
type Event struct {
	ID          string          `json:"id"`
	Offset      uint64          `json:"offset,omitempty"`
	TenantID    string          `json:"tenant_id"`
	DriverID    string          `json:"driver_id,omitempty"`
	ClientID    string          `json:"client_id,omitempty"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	ChangeKind  ChangeKind      `json:"change_kind"`
	Version     int64           `json:"version"`
	Payload     json.RawMessage `json:"payload"`
	CommittedAt time.Time       `json:"committed_at"`
}

// Key identifies the entity an event describes.
func (e Event) Key() string {
	return string(e.EntityType) + ":" + e.EntityID
}

// Publisher accepts committed events for delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
