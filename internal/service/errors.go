package service

import (
	"errors"
	"fmt"

	"dispatch/internal/domain"
)

var (
	// ErrValidation is returned when input is malformed or outside the tenant catalog.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for unknown or soft-deleted entities.
	ErrNotFound = errors.New("not found")

	// ErrTenantMismatch is returned when an operation references another tenant's data.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrForbidden is returned when the actor's role or ownership does not permit the operation.
	ErrForbidden = errors.New("operation not permitted for actor")

	// ErrInvalidState is returned when a request or assignment is no longer in a mutable state.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidTransition is returned when an assignment action is not allowed from its status.
	ErrInvalidTransition = errors.New("invalid assignment transition")

	// ErrAlreadyAssigned is returned when a request already has an active assignment.
	ErrAlreadyAssigned = errors.New("request already assigned")

	// ErrRequestNotPending is returned when assigning a request that is not pending.
	ErrRequestNotPending = errors.New("request not pending")

	// ErrConflict is returned when a concurrent writer changed the row first.
	ErrConflict = errors.New("concurrent modification")
)

// ValidationError describes the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports an assignment action rejected by the state machine,
// with the status the assignment was in.
type TransitionError struct {
	Action domain.AssignmentAction
	From   domain.AssignmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", ErrInvalidTransition, e.Action, e.From)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Reason is a short machine-readable explanation for UIs.
func (e *TransitionError) Reason() string {
	switch {
	case e.From == domain.AssignmentStatusDelivered:
		return "already_delivered"
	case e.Action == domain.ActionDeliver && (e.From == domain.AssignmentStatusAssigned || e.From == domain.AssignmentStatusInProgress):
		return "not_picked_up"
	case e.Action == domain.ActionPickUp && e.From == domain.AssignmentStatusPickedUp:
		return "already_picked_up"
	case e.Action == domain.ActionStart && e.From != domain.AssignmentStatusAssigned:
		return "already_started"
	default:
		return "invalid_transition"
	}
}

// ErrorCode maps an error to the stable code surfaced to callers.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrTenantMismatch):
		return "TENANT_MISMATCH"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrAlreadyAssigned):
		return "ALREADY_ASSIGNED"
	case errors.Is(err, ErrRequestNotPending):
		return "REQUEST_NOT_PENDING"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}
