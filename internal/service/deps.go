package service

import (
	"context"
	"errors"
	"fmt"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/metrics"
	"dispatch/internal/realtime"
	"dispatch/internal/repository"
	"dispatch/internal/urgency"
)

// Deps contains the collaborators shared by the dispatch services.
type Deps struct {
	Requests    repository.RequestRepository
	Assignments repository.AssignmentRepository
	Catalogs    repository.CatalogRepository
	Members     repository.MemberRepository
	Publisher   realtime.Publisher
	Clock       urgency.Clock
	Logger      *logger.Logger
	Metrics     *metrics.DispatchMetrics
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = realtime.Discard
	}
	if d.Clock == nil {
		d.Clock = urgency.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

// checkActor rejects calls without a resolved actor triple.
func checkActor(actor domain.Actor) error {
	if actor.TenantID == "" || actor.ID == "" || !actor.Role.IsValid() {
		return fmt.Errorf("%w: actor is not resolved", ErrForbidden)
	}
	return nil
}

// requireRole checks the actor and that it holds one of roles.
func requireRole(actor domain.Actor, roles ...domain.Role) error {
	if err := checkActor(actor); err != nil {
		return err
	}
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s", ErrForbidden, actor.Role)
}

func requireID(field, value string) error {
	if value == "" {
		return invalid(field, "is required")
	}
	return nil
}

// loadRequest reads a request and checks it belongs to the actor's tenant.
func loadRequest(ctx context.Context, repo repository.RequestRepository, actor domain.Actor, id string) (*domain.PickupRequest, error) {
	req, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	if req.TenantID != actor.TenantID {
		return nil, fmt.Errorf("%w: request %s", ErrTenantMismatch, id)
	}
	return req, nil
}

// loadAssignment reads an assignment and checks it belongs to the actor's tenant.
func loadAssignment(ctx context.Context, repo repository.AssignmentRepository, actor domain.Actor, id string) (*domain.DriverAssignment, error) {
	a, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: assignment %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if a.TenantID != actor.TenantID {
		return nil, fmt.Errorf("%w: assignment %s", ErrTenantMismatch, id)
	}
	return a, nil
}

// loadMember resolves a tenant member with the expected role.
func loadMember(ctx context.Context, repo repository.MemberRepository, actor domain.Actor, field, userID string, role domain.Role) (*domain.Member, error) {
	if err := requireID(field, userID); err != nil {
		return nil, err
	}
	m, err := repo.GetMember(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, role, userID)
		}
		return nil, fmt.Errorf("failed to load member: %w", err)
	}
	if m.TenantID != actor.TenantID {
		return nil, fmt.Errorf("%w: %s %s", ErrTenantMismatch, role, userID)
	}
	if m.Role != role {
		return nil, invalid(field, "is not a "+string(role))
	}
	return m, nil
}

// publish hands a committed change to the broadcaster. The change is already
// durable, so a failed publish is logged and not returned.
func publish(ctx context.Context, d Deps, ev realtime.Event, err error) {
	if err == nil {
		err = d.Publisher.Publish(ctx, ev)
	}
	if err != nil {
		d.Metrics.IncRealtimeDropped("publish_failed")
		d.Logger.Error(d.Logger.WithFields(ctx, map[string]any{
			"entity_id":   ev.EntityID,
			"change_kind": string(ev.ChangeKind),
		}), "failed to publish realtime event", err)
	}
}
