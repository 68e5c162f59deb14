package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/realtime"
	"dispatch/internal/repository"
	"dispatch/internal/urgency"
)

const maxNoteLength = 2000

// RequestService handles pickup request operations.
type RequestService struct {
	deps Deps
}

// NewRequestService creates a new RequestService.
func NewRequestService(deps Deps) *RequestService {
	return &RequestService{deps: deps.withDefaults()}
}

// CreateRequestInput contains the parameters for filing a pickup request.
type CreateRequestInput struct {
	ClientID  string // Required when a dispatcher files on behalf of a client.
	WasteType string
	FillLevel domain.FillLevel
	SLAClass  domain.SLAClass
	Note      string
	Location  *domain.Location
}

// ProcessInput contains the optional proof-of-service fields.
type ProcessInput struct {
	ProofURL   string
	Weight     *float64
	WeightUnit domain.WeightUnit
	Note       string
}

// ListRequestsInput narrows a request listing. Zero values mean "any".
type ListRequestsInput struct {
	Status         domain.RequestStatus
	Tier           urgency.Tier
	WasteType      string
	IncludeDeleted bool
	Limit          int
}

// RequestView is a request with its urgency and dispatch state derived at one instant.
// Urgency is only set for open requests.
type RequestView struct {
	Request    *domain.PickupRequest
	Urgency    *urgency.Status
	Dispatch   domain.DispatchStatus
	Assignment *domain.DriverAssignment
}

// Create files a new pending request.
func (s *RequestService) Create(ctx context.Context, actor domain.Actor, in CreateRequestInput) (*domain.PickupRequest, error) {
	if err := requireRole(actor, domain.RoleClient, domain.RoleDispatcher); err != nil {
		return nil, err
	}

	clientID := actor.ID
	if actor.Role == domain.RoleClient {
		if in.ClientID != "" && in.ClientID != actor.ID {
			return nil, fmt.Errorf("%w: clients file requests for themselves", ErrForbidden)
		}
	} else {
		client, err := loadMember(ctx, s.deps.Members, actor, "client_id", in.ClientID, domain.RoleClient)
		if err != nil {
			return nil, err
		}
		clientID = client.UserID
	}

	if err := s.validateCreate(ctx, actor.TenantID, in); err != nil {
		s.deps.Metrics.ObserveOperation("create_request", ErrorCode(err))
		return nil, err
	}

	req := &domain.PickupRequest{
		ID:        uuid.New().String(),
		TenantID:  actor.TenantID,
		ClientID:  clientID,
		WasteType: in.WasteType,
		FillLevel: in.FillLevel,
		Note:      strings.TrimSpace(in.Note),
		SLAClass:  in.SLAClass,
		CreatedAt: s.deps.Clock.Now().UTC(),
		Status:    domain.RequestStatusPending,
	}
	if in.Location != nil {
		loc := *in.Location
		req.Location = &loc
	}

	if err := s.deps.Requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.deps.Metrics.ObserveOperation("create_request", "ok")

	ev, err := realtime.RequestEvent(realtime.RequestCreated, req, "", req.CreatedAt)
	publish(ctx, s.deps, ev, err)
	return req, nil
}

func (s *RequestService) validateCreate(ctx context.Context, tenantID string, in CreateRequestInput) error {
	if in.WasteType == "" {
		return invalid("waste_type", "is required")
	}
	if !in.FillLevel.IsValid() {
		return invalid("fill_level", "must be 50, 75 or 100")
	}
	if !in.SLAClass.IsValid() {
		return invalid("sla_class", "must be 24h, 48h or 72h")
	}
	if len(in.Note) > maxNoteLength {
		return invalid("note", "is too long")
	}
	if in.Location != nil && !in.Location.Valid() {
		return invalid("location", "is out of range")
	}

	catalog, err := s.deps.Catalogs.GetCatalog(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalid("waste_type", "tenant has no catalog")
		}
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if !catalog.AllowsWasteType(in.WasteType) {
		return invalid("waste_type", "is not offered by the tenant")
	}
	if !catalog.AllowsSLAClass(in.SLAClass) {
		return invalid("sla_class", "is not offered by the tenant")
	}
	if !catalog.AllowsFillLevel(in.FillLevel) {
		return invalid("fill_level", "is not offered by the tenant")
	}
	return nil
}

// Process marks a pending request processed with optional proof of service.
func (s *RequestService) Process(ctx context.Context, actor domain.Actor, requestID string, in ProcessInput) (*domain.PickupRequest, error) {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	if err := requireID("request_id", requestID); err != nil {
		return nil, err
	}
	if err := validateProcess(in); err != nil {
		return nil, err
	}

	req, err := s.loadOpen(ctx, actor, requestID)
	if err != nil {
		s.deps.Metrics.ObserveOperation("process_request", ErrorCode(err))
		return nil, err
	}

	now := s.deps.Clock.Now().UTC()
	next := req.Clone()
	next.ProcessedAt = &now
	next.ProofURL = in.ProofURL
	next.Weight = in.Weight
	next.WeightUnit = in.WeightUnit
	next.ProcessingNote = strings.TrimSpace(in.Note)

	if err := s.deps.Requests.MarkProcessed(ctx, next, req.Version); err != nil {
		err = s.resolveRequestConflict(ctx, actor, requestID, err)
		s.deps.Metrics.ObserveOperation("process_request", ErrorCode(err))
		return nil, err
	}
	s.deps.Metrics.ObserveOperation("process_request", "ok")

	driverID := ""
	if active, err := s.deps.Assignments.GetActiveByRequestID(ctx, requestID); err == nil && active != nil {
		driverID = active.DriverID
	}
	ev, err := realtime.RequestEvent(realtime.RequestProcessed, next, driverID, now)
	publish(ctx, s.deps, ev, err)
	return next, nil
}

func validateProcess(in ProcessInput) error {
	if in.ProofURL != "" {
		u, err := url.Parse(in.ProofURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("proof_url", "must be an http(s) URL")
		}
	}
	if in.Weight != nil {
		if *in.Weight <= 0 {
			return invalid("weight", "must be positive")
		}
		if !in.WeightUnit.IsValid() {
			return invalid("weight_unit", "must be kg, lb or t")
		}
	} else if in.WeightUnit != "" {
		return invalid("weight_unit", "requires a weight")
	}
	if len(in.Note) > maxNoteLength {
		return invalid("note", "is too long")
	}
	return nil
}

// Reject soft-deletes a pending request. The request keeps status pending in
// storage and reads back as rejected. Any active assignment is unassigned.
// A request whose assignment is already delivered cannot be rejected.
func (s *RequestService) Reject(ctx context.Context, actor domain.Actor, requestID string) error {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return err
	}
	if err := requireID("request_id", requestID); err != nil {
		return err
	}

	req, err := s.loadOpen(ctx, actor, requestID)
	if err != nil {
		s.deps.Metrics.ObserveOperation("reject_request", ErrorCode(err))
		return err
	}
	active, err := s.deps.Assignments.GetActiveByRequestID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to load active assignment: %w", err)
	}
	if active != nil && active.Status == domain.AssignmentStatusDelivered {
		err := fmt.Errorf("%w: request was already delivered", ErrInvalidState)
		s.deps.Metrics.ObserveOperation("reject_request", ErrorCode(err))
		return err
	}

	now := s.deps.Clock.Now().UTC()
	if err := s.deps.Requests.SoftDelete(ctx, requestID, req.Version, now); err != nil {
		err = s.resolveRequestConflict(ctx, actor, requestID, err)
		s.deps.Metrics.ObserveOperation("reject_request", ErrorCode(err))
		return err
	}
	s.deps.Metrics.ObserveOperation("reject_request", "ok")

	rejected := req.Clone()
	rejected.DeletedAt = &now
	rejected.Version = req.Version + 1

	driverID, err := releaseActive(ctx, s.deps, rejected, now)
	if err != nil {
		s.deps.Logger.Error(s.deps.Logger.WithField(ctx, "request_id", requestID), "failed to unassign rejected request", err)
	}

	ev, err := realtime.RequestEvent(realtime.RequestRejected, rejected, driverID, now)
	publish(ctx, s.deps, ev, err)
	return nil
}

// releaseActive tombstones the active assignment of a request that left the
// pending state. It returns the driver that held the request, if any.
func releaseActive(ctx context.Context, d Deps, req *domain.PickupRequest, at time.Time) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		active, err := d.Assignments.GetActiveByRequestID(ctx, req.ID)
		if err != nil {
			return "", fmt.Errorf("failed to load active assignment: %w", err)
		}
		if active == nil {
			return "", nil
		}
		// Delivered is terminal; the row stays as it is.
		if !domain.CanTransition(domain.ActionUnassign, active.Status) {
			return active.DriverID, nil
		}
		err = d.Assignments.SoftDelete(ctx, active.ID, active.Version, at)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to unassign: %w", err)
		}

		tombstone := active.Clone()
		tombstone.DeletedAt = &at
		tombstone.Version = active.Version + 1
		ev, evErr := realtime.AssignmentEvent(realtime.AssignmentUnassigned, tombstone, req.ClientID, at)
		publish(ctx, d, ev, evErr)
		return active.DriverID, nil
	}
	return "", ErrConflict
}

// loadOpen reads a request that must still be pending and not deleted.
// Unknown ids are ErrNotFound. A soft-deleted (rejected) request is
// ErrInvalidState rather than ErrNotFound, as is a processed one.
func (s *RequestService) loadOpen(ctx context.Context, actor domain.Actor, requestID string) (*domain.PickupRequest, error) {
	req, err := loadRequest(ctx, s.deps.Requests, actor, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsOpen() {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidState, req.EffectiveStatus())
	}
	return req, nil
}

// resolveRequestConflict turns a failed conditional write into a typed error.
func (s *RequestService) resolveRequestConflict(ctx context.Context, actor domain.Actor, requestID string, cause error) error {
	if !errors.Is(cause, repository.ErrVersionConflict) && !errors.Is(cause, repository.ErrNotFound) {
		return fmt.Errorf("failed to update request: %w", cause)
	}
	current, err := loadRequest(ctx, s.deps.Requests, actor, requestID)
	if err != nil {
		return err
	}
	if !current.IsOpen() {
		return fmt.Errorf("%w: request is %s", ErrInvalidState, current.EffectiveStatus())
	}
	return ErrConflict
}

// Get returns a single request. Clients only see their own requests and
// drivers only the requests they currently hold.
func (s *RequestService) Get(ctx context.Context, actor domain.Actor, requestID string) (*RequestView, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if err := requireID("request_id", requestID); err != nil {
		return nil, err
	}
	req, err := loadRequest(ctx, s.deps.Requests, actor, requestID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleClient && req.ClientID != actor.ID {
		return nil, fmt.Errorf("%w: request belongs to another client", ErrForbidden)
	}

	active, err := s.deps.Assignments.GetActiveByRequestID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active assignment: %w", err)
	}
	if actor.Role == domain.RoleDriver && (active == nil || active.DriverID != actor.ID) {
		return nil, fmt.Errorf("%w: request is not assigned to driver", ErrForbidden)
	}
	return newRequestView(req, active, s.deps.Clock.Now()), nil
}

// List returns a snapshot of the tenant's requests with urgency derived at a
// single instant. Pending listings are ordered most urgent first.
func (s *RequestService) List(ctx context.Context, actor domain.Actor, in ListRequestsInput) ([]*RequestView, error) {
	if err := requireRole(actor, domain.RoleDispatcher, domain.RoleClient); err != nil {
		return nil, err
	}
	if in.Status != "" && !in.Status.IsValid() {
		return nil, invalid("status", "is not a request status")
	}
	if in.Tier != "" && !in.Tier.IsValid() {
		return nil, invalid("tier", "must be 24h, 48h or 72h")
	}
	if in.Limit < 0 {
		return nil, invalid("limit", "must not be negative")
	}

	filter := repository.RequestFilter{
		Status:         in.Status,
		WasteType:      in.WasteType,
		IncludeDeleted: in.IncludeDeleted,
		Limit:          in.Limit,
	}
	if actor.Role == domain.RoleClient {
		filter.ClientID = actor.ID
	}
	// Tier and deadline order are only known after evaluation, so the limit
	// applies afterwards.
	byDeadline := in.Status == domain.RequestStatusPending || in.Tier != ""
	if byDeadline {
		filter.Limit = 0
	}

	requests, err := s.deps.Requests.List(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	active, err := s.activeByRequest(ctx, actor.TenantID, requests)
	if err != nil {
		return nil, err
	}

	now := s.deps.Clock.Now()
	views := make([]*RequestView, 0, len(requests))
	for _, req := range requests {
		view := newRequestView(req, active[req.ID], now)
		if in.Tier != "" && (view.Urgency == nil || view.Urgency.Tier != in.Tier) {
			continue
		}
		views = append(views, view)
	}

	if byDeadline {
		sort.SliceStable(views, func(i, j int) bool {
			a, b := views[i].Urgency, views[j].Urgency
			if a == nil || b == nil {
				return b == nil && a != nil
			}
			return a.Deadline.Before(b.Deadline)
		})
	}
	if in.Limit > 0 && len(views) > in.Limit {
		views = views[:in.Limit]
	}
	return views, nil
}

func (s *RequestService) activeByRequest(ctx context.Context, tenantID string, requests []*domain.PickupRequest) (map[string]*domain.DriverAssignment, error) {
	result := make(map[string]*domain.DriverAssignment)
	if len(requests) == 0 {
		return result, nil
	}
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.ID)
	}
	assignments, err := s.deps.Assignments.List(ctx, tenantID, repository.AssignmentFilter{RequestIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	for _, a := range assignments {
		result[a.RequestID] = a
	}
	return result, nil
}

func newRequestView(req *domain.PickupRequest, active *domain.DriverAssignment, now time.Time) *RequestView {
	view := &RequestView{
		Request:    req,
		Dispatch:   domain.DispatchStatusOf(active),
		Assignment: active,
	}
	if req.IsOpen() {
		if status, err := urgency.EvaluateRequest(req, now); err == nil {
			view.Urgency = &status
		}
	}
	return view
}
