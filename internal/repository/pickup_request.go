package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// RequestFilter narrows a request listing. Zero values mean "any".
type RequestFilter struct {
	Status         domain.RequestStatus
	WasteType      string
	ClientID       string
	IDs            []string
	IncludeDeleted bool
	Limit          int
}

// RequestRepository defines the persistence operations for pickup requests.
type RequestRepository interface {
	// Create persists a new request.
	Create(ctx context.Context, req *domain.PickupRequest) error

	// GetByID retrieves a request by ID, including soft-deleted rows.
	GetByID(ctx context.Context, id string) (*domain.PickupRequest, error)

	// List returns the tenant's requests matching filter. Status filters on
	// the effective status, so "rejected" selects soft-deleted pending rows.
	List(ctx context.Context, tenantID string, filter RequestFilter) ([]*domain.PickupRequest, error)

	// MarkProcessed stores the processing fields of req if the stored row is
	// still open and at expectedVersion. Returns ErrVersionConflict otherwise.
	MarkProcessed(ctx context.Context, req *domain.PickupRequest, expectedVersion int64) error

	// SoftDelete sets deleted_at on an open row at expectedVersion.
	SoftDelete(ctx context.Context, id string, expectedVersion int64, at time.Time) error
}
