package domain

import "time"

// AssignmentStatus represents the progress of a driver assignment.
type AssignmentStatus string

const (
	AssignmentStatusAssigned   AssignmentStatus = "assigned"
	AssignmentStatusInProgress AssignmentStatus = "in_progress"
	AssignmentStatusPickedUp   AssignmentStatus = "picked_up"
	AssignmentStatusDelivered  AssignmentStatus = "delivered"
)

// IsValid reports whether s is a known assignment status.
func (s AssignmentStatus) IsValid() bool {
	switch s {
	case AssignmentStatusAssigned, AssignmentStatusInProgress, AssignmentStatusPickedUp, AssignmentStatusDelivered:
		return true
	default:
		return false
	}
}

// DispatchStatus is the derived assignment state of a request.
type DispatchStatus string

// DispatchStatusNotAssigned is reported when a request has no active assignment.
const DispatchStatusNotAssigned DispatchStatus = "not_assigned"

// DispatchStatusOf derives the display dispatch status from the active assignment, if any.
func DispatchStatusOf(active *DriverAssignment) DispatchStatus {
	if active == nil || active.DeletedAt != nil {
		return DispatchStatusNotAssigned
	}
	return DispatchStatus(active.Status)
}

// DriverAssignment binds a request to a driver. Rows are never removed:
// unassignment and reassignment leave a tombstone with DeletedAt set.
type DriverAssignment struct {
	ID         string
	TenantID   string
	RequestID  string
	DriverID   string
	AssignedBy string
	Status     AssignmentStatus

	AssignedAt  time.Time
	StartedAt   *time.Time
	PickedUpAt  *time.Time
	DeliveredAt *time.Time
	DeletedAt   *time.Time
	Version     int64
}

// IsActive reports whether the assignment has not been soft-deleted.
func (a *DriverAssignment) IsActive() bool {
	return a.DeletedAt == nil
}

// Clone returns a deep copy of the assignment.
func (a *DriverAssignment) Clone() *DriverAssignment {
	c := *a
	c.StartedAt = cloneTime(a.StartedAt)
	c.PickedUpAt = cloneTime(a.PickedUpAt)
	c.DeliveredAt = cloneTime(a.DeliveredAt)
	c.DeletedAt = cloneTime(a.DeletedAt)
	return &c
}

// Clone returns a deep copy of the request.
func (r *PickupRequest) Clone() *PickupRequest {
	c := *r
	if r.Location != nil {
		loc := *r.Location
		c.Location = &loc
	}
	if r.Weight != nil {
		w := *r.Weight
		c.Weight = &w
	}
	c.ProcessedAt = cloneTime(r.ProcessedAt)
	c.DeletedAt = cloneTime(r.DeletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
