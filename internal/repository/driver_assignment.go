package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// AssignmentFilter narrows an assignment listing. Only active rows are listed.
type AssignmentFilter struct {
	DriverID   string
	RequestIDs []string
	Status     domain.AssignmentStatus
}

// AssignmentRepository defines the persistence operations for driver assignments.
//
// Implementations enforce at most one active row per request atomically on
// Create and Replace, and apply every mutation conditionally on the row version.
type AssignmentRepository interface {
	// Create inserts a new active assignment.
	// Returns ErrActiveAssignmentExists if the request already has one.
	Create(ctx context.Context, a *domain.DriverAssignment) error

	// GetByID retrieves an assignment by ID, including tombstones.
	GetByID(ctx context.Context, id string) (*domain.DriverAssignment, error)

	// GetActiveByRequestID returns the active assignment of a request, or nil.
	GetActiveByRequestID(ctx context.Context, requestID string) (*domain.DriverAssignment, error)

	// List returns the tenant's active assignments matching filter.
	List(ctx context.Context, tenantID string, filter AssignmentFilter) ([]*domain.DriverAssignment, error)

	// History returns every row for a request, tombstones included, oldest first.
	History(ctx context.Context, requestID string) ([]*domain.DriverAssignment, error)

	// UpdateProgress writes status and progress timestamps of an active row
	// at expectedVersion and bumps its version.
	UpdateProgress(ctx context.Context, a *domain.DriverAssignment, expectedVersion int64) error

	// SoftDelete tombstones an active row at expectedVersion.
	SoftDelete(ctx context.Context, id string, expectedVersion int64, at time.Time) error

	// Replace tombstones the active row oldID at expectedVersion and inserts
	// next in the same atomic step.
	Replace(ctx context.Context, oldID string, expectedVersion int64, at time.Time, next *domain.DriverAssignment) error

	// FindDuplicateActive returns request IDs that have more than one active row.
	FindDuplicateActive(ctx context.Context, tenantID string) ([]string, error)
}
