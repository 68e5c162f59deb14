package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// AssignmentRepository is an in-memory implementation of repository.AssignmentRepository.
// The active index plays the role of the partial unique index on request_id.
type AssignmentRepository struct {
	mu          sync.RWMutex
	assignments map[string]*domain.DriverAssignment
	active      map[string]string // request id -> active assignment id
	byRequest   map[string][]string
}

// NewAssignmentRepository creates an empty assignment repository.
func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{
		assignments: make(map[string]*domain.DriverAssignment),
		active:      make(map[string]string),
		byRequest:   make(map[string][]string),
	}
}

var _ repository.AssignmentRepository = (*AssignmentRepository)(nil)

// Create inserts a new active assignment.
func (r *AssignmentRepository) Create(ctx context.Context, a *domain.DriverAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(a)
}

func (r *AssignmentRepository) insertLocked(a *domain.DriverAssignment) error {
	if _, exists := r.active[a.RequestID]; exists {
		return repository.ErrActiveAssignmentExists
	}
	stored := a.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	a.Version = stored.Version
	r.assignments[a.ID] = stored
	r.active[a.RequestID] = a.ID
	r.byRequest[a.RequestID] = append(r.byRequest[a.RequestID], a.ID)
	return nil
}

// GetByID retrieves an assignment by ID.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*domain.DriverAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a.Clone(), nil
}

// GetActiveByRequestID returns the active assignment of a request, or nil.
func (r *AssignmentRepository) GetActiveByRequestID(ctx context.Context, requestID string) (*domain.DriverAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[requestID]
	if !ok {
		return nil, nil
	}
	return r.assignments[id].Clone(), nil
}

// List returns the tenant's active assignments matching filter, oldest first.
func (r *AssignmentRepository) List(ctx context.Context, tenantID string, filter repository.AssignmentFilter) ([]*domain.DriverAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var requests map[string]struct{}
	if len(filter.RequestIDs) > 0 {
		requests = make(map[string]struct{}, len(filter.RequestIDs))
		for _, id := range filter.RequestIDs {
			requests[id] = struct{}{}
		}
	}

	result := make([]*domain.DriverAssignment, 0)
	for _, id := range r.active {
		a := r.assignments[id]
		if a.TenantID != tenantID {
			continue
		}
		if filter.DriverID != "" && a.DriverID != filter.DriverID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if requests != nil {
			if _, ok := requests[a.RequestID]; !ok {
				continue
			}
		}
		result = append(result, a.Clone())
	}
	sortByAssignedAt(result)
	return result, nil
}

// History returns every row for a request in insertion order.
func (r *AssignmentRepository) History(ctx context.Context, requestID string) ([]*domain.DriverAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byRequest[requestID]
	result := make([]*domain.DriverAssignment, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.assignments[id].Clone())
	}
	return result, nil
}

// UpdateProgress writes status and progress timestamps of an active row.
func (r *AssignmentRepository) UpdateProgress(ctx context.Context, a *domain.DriverAssignment, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.activeAtVersionLocked(a.ID, expectedVersion)
	if err != nil {
		return err
	}
	stored.Status = a.Status
	stored.StartedAt = cloneTime(a.StartedAt)
	stored.PickedUpAt = cloneTime(a.PickedUpAt)
	stored.DeliveredAt = cloneTime(a.DeliveredAt)
	stored.Version++
	a.Version = stored.Version
	return nil
}

// SoftDelete tombstones an active row.
func (r *AssignmentRepository) SoftDelete(ctx context.Context, id string, expectedVersion int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.activeAtVersionLocked(id, expectedVersion)
	if err != nil {
		return err
	}
	r.tombstoneLocked(stored, at)
	return nil
}

// Replace tombstones oldID and inserts next atomically.
func (r *AssignmentRepository) Replace(ctx context.Context, oldID string, expectedVersion int64, at time.Time, next *domain.DriverAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.activeAtVersionLocked(oldID, expectedVersion)
	if err != nil {
		return err
	}
	if next.RequestID != stored.RequestID {
		return repository.ErrVersionConflict
	}
	r.tombstoneLocked(stored, at)
	return r.insertLocked(next)
}

// FindDuplicateActive scans rows for requests with more than one active row.
func (r *AssignmentRepository) FindDuplicateActive(ctx context.Context, tenantID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, a := range r.assignments {
		if a.TenantID == tenantID && a.IsActive() {
			counts[a.RequestID]++
		}
	}
	var dupes []string
	for requestID, n := range counts {
		if n > 1 {
			dupes = append(dupes, requestID)
		}
	}
	sort.Strings(dupes)
	return dupes, nil
}

func (r *AssignmentRepository) activeAtVersionLocked(id string, expectedVersion int64) (*domain.DriverAssignment, error) {
	stored, ok := r.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !stored.IsActive() || stored.Version != expectedVersion {
		return nil, repository.ErrVersionConflict
	}
	return stored, nil
}

func (r *AssignmentRepository) tombstoneLocked(stored *domain.DriverAssignment, at time.Time) {
	deletedAt := at
	stored.DeletedAt = &deletedAt
	stored.Version++
	if r.active[stored.RequestID] == stored.ID {
		delete(r.active, stored.RequestID)
	}
}

func sortByAssignedAt(list []*domain.DriverAssignment) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].AssignedAt.Equal(list[j].AssignedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].AssignedAt.Before(list[j].AssignedAt)
	})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
