package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dispatch/internal/domain"
	"dispatch/internal/realtime"
	"dispatch/internal/repository"
	"dispatch/internal/urgency"
)

const (
	// MaxBulkAssign is the largest batch BulkAssign accepts.
	MaxBulkAssign = 200

	bulkAssignConcurrency = 8
)

// DispatchService is the only writer of driver assignments.
type DispatchService struct {
	deps    Deps
	auditor *IntegrityAuditor
}

// NewDispatchService creates a new DispatchService. auditor may be nil.
func NewDispatchService(deps Deps, auditor *IntegrityAuditor) *DispatchService {
	return &DispatchService{deps: deps.withDefaults(), auditor: auditor}
}

// BulkFailure describes one request a bulk assignment could not assign.
type BulkFailure struct {
	RequestID string
	Code      string
	Reason    string
}

// BulkResult reports the outcome of every distinct request in a bulk assignment.
type BulkResult struct {
	Assigned []*domain.DriverAssignment
	Failed   []BulkFailure
}

// AssignmentView is an assignment with the request it serves.
type AssignmentView struct {
	Assignment *domain.DriverAssignment
	Request    *domain.PickupRequest
	Urgency    *urgency.Status
}

// Assign binds a pending request to a driver.
func (s *DispatchService) Assign(ctx context.Context, actor domain.Actor, requestID, driverID string) (*domain.DriverAssignment, error) {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	if err := requireID("request_id", requestID); err != nil {
		return nil, err
	}
	driver, err := loadMember(ctx, s.deps.Members, actor, "driver_id", driverID, domain.RoleDriver)
	if err != nil {
		s.deps.Metrics.ObserveOperation("assign", ErrorCode(err))
		return nil, err
	}

	a, err := s.assign(ctx, actor, requestID, driver.UserID)
	s.deps.Metrics.ObserveOperation("assign", outcome(err))
	return a, err
}

func (s *DispatchService) assign(ctx context.Context, actor domain.Actor, requestID, driverID string) (*domain.DriverAssignment, error) {
	req, err := loadRequest(ctx, s.deps.Requests, actor, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsOpen() {
		return nil, fmt.Errorf("%w: request is %s", ErrRequestNotPending, req.EffectiveStatus())
	}

	now := s.deps.Clock.Now().UTC()
	a := &domain.DriverAssignment{
		ID:         uuid.New().String(),
		TenantID:   actor.TenantID,
		RequestID:  requestID,
		DriverID:   driverID,
		AssignedBy: actor.ID,
		Status:     domain.AssignmentStatusAssigned,
		AssignedAt: now,
	}
	if err := s.deps.Assignments.Create(ctx, a); err != nil {
		if errors.Is(err, repository.ErrActiveAssignmentExists) {
			return nil, fmt.Errorf("%w: request %s", ErrAlreadyAssigned, requestID)
		}
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	// A reject may have committed between the pending check and the insert.
	// Reject unassigns after it commits, so one of the two sides always sees
	// the other; here we withdraw our own row.
	current, err := s.deps.Requests.GetByID(ctx, requestID)
	if err == nil && !current.IsOpen() {
		if delErr := s.deps.Assignments.SoftDelete(ctx, a.ID, a.Version, now); delErr != nil && !errors.Is(delErr, repository.ErrVersionConflict) {
			s.deps.Logger.Error(s.deps.Logger.WithField(ctx, "assignment_id", a.ID), "failed to withdraw assignment of closed request", delErr)
		}
		return nil, fmt.Errorf("%w: request is %s", ErrRequestNotPending, current.EffectiveStatus())
	}

	ev, evErr := realtime.AssignmentEvent(realtime.AssignmentCreated, a, req.ClientID, now)
	publish(ctx, s.deps, ev, evErr)
	s.auditor.CheckRequest(ctx, a.TenantID, requestID)
	return a, nil
}

// BulkAssign assigns each distinct request to the driver independently.
// Per-request failures are reported in the result, never as the error.
func (s *DispatchService) BulkAssign(ctx context.Context, actor domain.Actor, requestIDs []string, driverID string) (*BulkResult, error) {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	ids := dedupe(requestIDs)
	if len(ids) == 0 {
		return nil, invalid("request_ids", "must not be empty")
	}
	if len(ids) > MaxBulkAssign {
		return nil, invalid("request_ids", fmt.Sprintf("must not exceed %d", MaxBulkAssign))
	}
	driver, err := loadMember(ctx, s.deps.Members, actor, "driver_id", driverID, domain.RoleDriver)
	if err != nil {
		return nil, err
	}

	assigned := make([]*domain.DriverAssignment, len(ids))
	failures := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(bulkAssignConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			assigned[i], failures[i] = s.assign(ctx, actor, id, driver.UserID)
			s.deps.Metrics.ObserveOperation("bulk_assign", outcome(failures[i]))
			return nil
		})
	}
	_ = g.Wait()

	result := &BulkResult{
		Assigned: make([]*domain.DriverAssignment, 0, len(ids)),
		Failed:   make([]BulkFailure, 0),
	}
	for i, id := range ids {
		if failures[i] != nil {
			result.Failed = append(result.Failed, BulkFailure{
				RequestID: id,
				Code:      ErrorCode(failures[i]),
				Reason:    failures[i].Error(),
			})
			continue
		}
		result.Assigned = append(result.Assigned, assigned[i])
	}
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// StartPickup moves an assignment to in_progress.
func (s *DispatchService) StartPickup(ctx context.Context, actor domain.Actor, assignmentID string) (*domain.DriverAssignment, error) {
	return s.advance(ctx, actor, assignmentID, domain.ActionStart, realtime.AssignmentStarted)
}

// MarkPickedUp records that the driver collected the waste.
func (s *DispatchService) MarkPickedUp(ctx context.Context, actor domain.Actor, assignmentID string) (*domain.DriverAssignment, error) {
	return s.advance(ctx, actor, assignmentID, domain.ActionPickUp, realtime.AssignmentPickedUp)
}

// MarkDelivered records that the driver delivered the waste. Delivered is terminal.
func (s *DispatchService) MarkDelivered(ctx context.Context, actor domain.Actor, assignmentID string) (*domain.DriverAssignment, error) {
	return s.advance(ctx, actor, assignmentID, domain.ActionDeliver, realtime.AssignmentDelivered)
}

func (s *DispatchService) advance(ctx context.Context, actor domain.Actor, assignmentID string, action domain.AssignmentAction, kind realtime.ChangeKind) (*domain.DriverAssignment, error) {
	op := string(action)
	if err := requireRole(actor, domain.RoleDriver, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	if err := requireID("assignment_id", assignmentID); err != nil {
		return nil, err
	}

	a, err := s.loadActive(ctx, actor, assignmentID, action)
	if err != nil {
		s.deps.Metrics.ObserveOperation(op, ErrorCode(err))
		return nil, err
	}

	now := s.deps.Clock.Now().UTC()
	next := a.Clone()
	next.Status, _ = domain.TargetStatus(action)
	switch action {
	case domain.ActionStart:
		next.StartedAt = &now
	case domain.ActionPickUp:
		next.PickedUpAt = &now
	case domain.ActionDeliver:
		next.DeliveredAt = &now
	}

	if err := s.deps.Assignments.UpdateProgress(ctx, next, a.Version); err != nil {
		err = s.resolveConflict(ctx, actor, assignmentID, action, err)
		s.deps.Metrics.ObserveOperation(op, ErrorCode(err))
		return nil, err
	}
	s.deps.Metrics.ObserveOperation(op, "ok")

	ev, evErr := realtime.AssignmentEvent(kind, next, s.clientOf(ctx, next.RequestID), now)
	publish(ctx, s.deps, ev, evErr)
	return next, nil
}

// Unassign soft-deletes an assignment; the request returns to the pool.
func (s *DispatchService) Unassign(ctx context.Context, actor domain.Actor, assignmentID string) error {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return err
	}
	if err := requireID("assignment_id", assignmentID); err != nil {
		return err
	}

	a, err := s.loadActive(ctx, actor, assignmentID, domain.ActionUnassign)
	if err != nil {
		s.deps.Metrics.ObserveOperation("unassign", ErrorCode(err))
		return err
	}

	now := s.deps.Clock.Now().UTC()
	if err := s.deps.Assignments.SoftDelete(ctx, a.ID, a.Version, now); err != nil {
		err = s.resolveConflict(ctx, actor, assignmentID, domain.ActionUnassign, err)
		s.deps.Metrics.ObserveOperation("unassign", ErrorCode(err))
		return err
	}
	s.deps.Metrics.ObserveOperation("unassign", "ok")

	tombstone := a.Clone()
	tombstone.DeletedAt = &now
	tombstone.Version = a.Version + 1
	ev, evErr := realtime.AssignmentEvent(realtime.AssignmentUnassigned, tombstone, s.clientOf(ctx, a.RequestID), now)
	publish(ctx, s.deps, ev, evErr)
	return nil
}

// Reassign tombstones the assignment and creates a fresh assigned row for
// newDriverID in one atomic step. The tombstone keeps the previous driver's
// progress timestamps; the new row starts with none.
func (s *DispatchService) Reassign(ctx context.Context, actor domain.Actor, assignmentID, newDriverID string) (*domain.DriverAssignment, error) {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	if err := requireID("assignment_id", assignmentID); err != nil {
		return nil, err
	}
	driver, err := loadMember(ctx, s.deps.Members, actor, "driver_id", newDriverID, domain.RoleDriver)
	if err != nil {
		s.deps.Metrics.ObserveOperation("reassign", ErrorCode(err))
		return nil, err
	}

	next, err := s.reassign(ctx, actor, assignmentID, driver.UserID)
	s.deps.Metrics.ObserveOperation("reassign", outcome(err))
	return next, err
}

func (s *DispatchService) reassign(ctx context.Context, actor domain.Actor, assignmentID, driverID string) (*domain.DriverAssignment, error) {
	old, err := s.loadActive(ctx, actor, assignmentID, domain.ActionReassign)
	if err != nil {
		return nil, err
	}
	if old.DriverID == driverID {
		return nil, invalid("driver_id", "already holds the assignment")
	}
	req, err := loadRequest(ctx, s.deps.Requests, actor, old.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.IsOpen() {
		return nil, fmt.Errorf("%w: request is %s", ErrRequestNotPending, req.EffectiveStatus())
	}

	now := s.deps.Clock.Now().UTC()
	next := &domain.DriverAssignment{
		ID:         uuid.New().String(),
		TenantID:   old.TenantID,
		RequestID:  old.RequestID,
		DriverID:   driverID,
		AssignedBy: actor.ID,
		Status:     domain.AssignmentStatusAssigned,
		AssignedAt: now,
	}
	if err := s.deps.Assignments.Replace(ctx, old.ID, old.Version, now, next); err != nil {
		if errors.Is(err, repository.ErrActiveAssignmentExists) {
			return nil, fmt.Errorf("%w: request %s", ErrAlreadyAssigned, old.RequestID)
		}
		return nil, s.resolveConflict(ctx, actor, assignmentID, domain.ActionReassign, err)
	}

	tombstone := old.Clone()
	tombstone.DeletedAt = &now
	tombstone.Version = old.Version + 1
	ev, evErr := realtime.AssignmentEvent(realtime.AssignmentReassigned, tombstone, req.ClientID, now)
	publish(ctx, s.deps, ev, evErr)
	ev, evErr = realtime.AssignmentEvent(realtime.AssignmentCreated, next, req.ClientID, now)
	publish(ctx, s.deps, ev, evErr)

	s.auditor.CheckRequest(ctx, next.TenantID, next.RequestID)
	return next, nil
}

// loadActive reads an assignment the actor may act on and checks that
// action is allowed from its current status.
func (s *DispatchService) loadActive(ctx context.Context, actor domain.Actor, assignmentID string, action domain.AssignmentAction) (*domain.DriverAssignment, error) {
	a, err := loadAssignment(ctx, s.deps.Assignments, actor, assignmentID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleDriver && a.DriverID != actor.ID {
		return nil, fmt.Errorf("%w: assignment belongs to another driver", ErrForbidden)
	}
	if !a.IsActive() {
		return nil, fmt.Errorf("%w: assignment no longer active", ErrInvalidState)
	}
	if !domain.CanTransition(action, a.Status) {
		return nil, &TransitionError{Action: action, From: a.Status}
	}
	return a, nil
}

// resolveConflict re-reads an assignment after a failed conditional write
// and reports why the write lost.
func (s *DispatchService) resolveConflict(ctx context.Context, actor domain.Actor, assignmentID string, action domain.AssignmentAction, cause error) error {
	if !errors.Is(cause, repository.ErrVersionConflict) && !errors.Is(cause, repository.ErrNotFound) {
		return fmt.Errorf("failed to update assignment: %w", cause)
	}
	current, err := loadAssignment(ctx, s.deps.Assignments, actor, assignmentID)
	if err != nil {
		return err
	}
	if !current.IsActive() {
		return fmt.Errorf("%w: assignment no longer active", ErrInvalidState)
	}
	if !domain.CanTransition(action, current.Status) {
		return &TransitionError{Action: action, From: current.Status}
	}
	return fmt.Errorf("%w: assignment %s", ErrConflict, assignmentID)
}

func (s *DispatchService) clientOf(ctx context.Context, requestID string) string {
	req, err := s.deps.Requests.GetByID(ctx, requestID)
	if err != nil {
		return ""
	}
	return req.ClientID
}

// ListForDriver returns the calling driver's active assignments with their requests.
func (s *DispatchService) ListForDriver(ctx context.Context, actor domain.Actor) ([]*AssignmentView, error) {
	if err := requireRole(actor, domain.RoleDriver); err != nil {
		return nil, err
	}
	return s.listViews(ctx, actor, repository.AssignmentFilter{DriverID: actor.ID})
}

// ListAssignmentsInput narrows the dispatcher's assignment listing.
type ListAssignmentsInput struct {
	DriverID string
	Status   domain.AssignmentStatus
}

// ListAssignments returns the tenant's active assignments.
func (s *DispatchService) ListAssignments(ctx context.Context, actor domain.Actor, in ListAssignmentsInput) ([]*AssignmentView, error) {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	if in.Status != "" && !in.Status.IsValid() {
		return nil, invalid("status", "is not an assignment status")
	}
	return s.listViews(ctx, actor, repository.AssignmentFilter{DriverID: in.DriverID, Status: in.Status})
}

func (s *DispatchService) listViews(ctx context.Context, actor domain.Actor, filter repository.AssignmentFilter) ([]*AssignmentView, error) {
	assignments, err := s.deps.Assignments.List(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	views := make([]*AssignmentView, 0, len(assignments))
	if len(assignments) == 0 {
		return views, nil
	}

	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.RequestID)
	}
	requests, err := s.deps.Requests.List(ctx, actor.TenantID, repository.RequestFilter{IDs: ids, IncludeDeleted: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	byID := make(map[string]*domain.PickupRequest, len(requests))
	for _, r := range requests {
		byID[r.ID] = r
	}

	now := s.deps.Clock.Now()
	for _, a := range assignments {
		view := &AssignmentView{Assignment: a, Request: byID[a.RequestID]}
		if view.Request != nil && view.Request.IsOpen() {
			if status, err := urgency.EvaluateRequest(view.Request, now); err == nil {
				view.Urgency = &status
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// History returns every assignment row of a request, tombstones included, oldest first.
func (s *DispatchService) History(ctx context.Context, actor domain.Actor, requestID string) ([]*domain.DriverAssignment, error) {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	if err := requireID("request_id", requestID); err != nil {
		return nil, err
	}
	if _, err := loadRequest(ctx, s.deps.Requests, actor, requestID); err != nil {
		return nil, err
	}
	history, err := s.deps.Assignments.History(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment history: %w", err)
	}
	return history, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}
