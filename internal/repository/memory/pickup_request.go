// Package memory holds in-process repository implementations. They honour the
// same atomicity contract as the postgres repositories and back the service
// when DISPATCH_STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// RequestRepository is an in-memory implementation of repository.RequestRepository.
type RequestRepository struct {
	mu       sync.RWMutex
	requests map[string]*domain.PickupRequest
}

// NewRequestRepository creates an empty request repository.
func NewRequestRepository() *RequestRepository {
	return &RequestRepository{requests: make(map[string]*domain.PickupRequest)}
}

var _ repository.RequestRepository = (*RequestRepository)(nil)

// Create persists a new request.
func (r *RequestRepository) Create(ctx context.Context, req *domain.PickupRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := req.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	req.Version = stored.Version
	r.requests[req.ID] = stored
	return nil
}

// GetByID retrieves a request by ID.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.PickupRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return req.Clone(), nil
}

// List returns the tenant's requests matching filter, newest first.
func (r *RequestRepository) List(ctx context.Context, tenantID string, filter repository.RequestFilter) ([]*domain.PickupRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids map[string]struct{}
	if len(filter.IDs) > 0 {
		ids = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = struct{}{}
		}
	}

	result := make([]*domain.PickupRequest, 0)
	for _, req := range r.requests {
		if req.TenantID != tenantID {
			continue
		}
		if ids != nil {
			if _, ok := ids[req.ID]; !ok {
				continue
			}
		}
		if req.IsDeleted() && !filter.IncludeDeleted && filter.Status != domain.RequestStatusRejected {
			continue
		}
		if filter.Status != "" && req.EffectiveStatus() != filter.Status {
			continue
		}
		if filter.WasteType != "" && req.WasteType != filter.WasteType {
			continue
		}
		if filter.ClientID != "" && req.ClientID != filter.ClientID {
			continue
		}
		result = append(result, req.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// MarkProcessed stores the processing fields of an open request.
func (r *RequestRepository) MarkProcessed(ctx context.Context, req *domain.PickupRequest, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.requests[req.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if !stored.IsOpen() || stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	next := req.Clone()
	next.Status = domain.RequestStatusProcessed
	next.Version = expectedVersion + 1
	// Immutable fields always come from the stored row.
	next.SLAClass = stored.SLAClass
	next.CreatedAt = stored.CreatedAt
	r.requests[req.ID] = next
	req.Status = next.Status
	req.Version = next.Version
	return nil
}

// SoftDelete marks an open request deleted.
func (r *RequestRepository) SoftDelete(ctx context.Context, id string, expectedVersion int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.requests[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !stored.IsOpen() || stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	deletedAt := at
	stored.DeletedAt = &deletedAt
	stored.Version++
	return nil
}
