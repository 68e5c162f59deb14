package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// ActiveAssignmentIndex is the partial unique index allowing one active row per request.
const ActiveAssignmentIndex = "driver_assignments_active_request_idx"

const uniqueViolation = pq.ErrorCode("23505")

const assignmentColumns = `id, tenant_id, request_id, driver_id, assigned_by, status,
	assigned_at, started_at, picked_up_at, delivered_at, deleted_at, version`

// AssignmentRepository is a PostgreSQL implementation of repository.AssignmentRepository.
type AssignmentRepository struct {
	q  Querier
	db *sql.DB // nil when bound to a caller's transaction
}

// NewAssignmentRepository creates a new PostgreSQL assignment repository.
func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{q: db, db: db}
}

// NewAssignmentRepositoryWithTx creates an assignment repository using a transaction.
func NewAssignmentRepositoryWithTx(tx *sql.Tx) *AssignmentRepository {
	return &AssignmentRepository{q: tx}
}

var _ repository.AssignmentRepository = (*AssignmentRepository)(nil)

// Create inserts a new active assignment. The partial unique index rejects a
// second active row for the same request.
func (r *AssignmentRepository) Create(ctx context.Context, a *domain.DriverAssignment) error {
	query := `
		INSERT INTO driver_assignments (id, tenant_id, request_id, driver_id, assigned_by, status, assigned_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
	`
	_, err := r.q.ExecContext(ctx, query,
		a.ID,
		a.TenantID,
		a.RequestID,
		a.DriverID,
		a.AssignedBy,
		string(a.Status),
		a.AssignedAt,
	)
	if err != nil {
		if isActiveAssignmentViolation(err) {
			return repository.ErrActiveAssignmentExists
		}
		return err
	}
	a.Version = 1
	return nil
}

func isActiveAssignmentViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == ActiveAssignmentIndex
}

// GetByID retrieves an assignment by ID, including tombstones.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*domain.DriverAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM driver_assignments WHERE id = $1`
	a, err := scanAssignment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetActiveByRequestID returns the active assignment of a request, or nil.
func (r *AssignmentRepository) GetActiveByRequestID(ctx context.Context, requestID string) (*domain.DriverAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM driver_assignments WHERE request_id = $1 AND deleted_at IS NULL`
	a, err := scanAssignment(r.q.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// List returns the tenant's active assignments matching filter, oldest first.
func (r *AssignmentRepository) List(ctx context.Context, tenantID string, filter repository.AssignmentFilter) ([]*domain.DriverAssignment, error) {
	conditions := []string{"tenant_id = $1", "deleted_at IS NULL"}
	args := []any{tenantID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.DriverID != "" {
		conditions = append(conditions, "driver_id = "+arg(filter.DriverID))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
	}
	if len(filter.RequestIDs) > 0 {
		conditions = append(conditions, "request_id = ANY("+arg(pq.Array(filter.RequestIDs))+")")
	}

	query := `SELECT ` + assignmentColumns + ` FROM driver_assignments WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY assigned_at, id`
	return r.query(ctx, query, args...)
}

// History returns every row for a request, tombstones included, oldest first.
func (r *AssignmentRepository) History(ctx context.Context, requestID string) ([]*domain.DriverAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM driver_assignments WHERE request_id = $1 ORDER BY assigned_at, id`
	return r.query(ctx, query, requestID)
}

func (r *AssignmentRepository) query(ctx context.Context, query string, args ...any) ([]*domain.DriverAssignment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assignments := make([]*domain.DriverAssignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// UpdateProgress writes status and progress timestamps of an active row at expectedVersion.
func (r *AssignmentRepository) UpdateProgress(ctx context.Context, a *domain.DriverAssignment, expectedVersion int64) error {
	query := `
		UPDATE driver_assignments
		SET status = $1, started_at = $2, picked_up_at = $3, delivered_at = $4, version = version + 1
		WHERE id = $5 AND version = $6 AND deleted_at IS NULL
	`
	result, err := r.q.ExecContext(ctx, query,
		string(a.Status),
		nullTime(a.StartedAt),
		nullTime(a.PickedUpAt),
		nullTime(a.DeliveredAt),
		a.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if err := expectOneRow(result); err != nil {
		return err
	}
	a.Version = expectedVersion + 1
	return nil
}

// SoftDelete tombstones an active row at expectedVersion.
func (r *AssignmentRepository) SoftDelete(ctx context.Context, id string, expectedVersion int64, at time.Time) error {
	query := `
		UPDATE driver_assignments
		SET deleted_at = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND deleted_at IS NULL
	`
	result, err := r.q.ExecContext(ctx, query, at, id, expectedVersion)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// Replace tombstones oldID and inserts next in one transaction.
func (r *AssignmentRepository) Replace(ctx context.Context, oldID string, expectedVersion int64, at time.Time, next *domain.DriverAssignment) error {
	if r.db == nil {
		return r.replace(ctx, oldID, expectedVersion, at, next)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return NewAssignmentRepositoryWithTx(tx).replace(ctx, oldID, expectedVersion, at, next)
	})
}

func (r *AssignmentRepository) replace(ctx context.Context, oldID string, expectedVersion int64, at time.Time, next *domain.DriverAssignment) error {
	query := `
		UPDATE driver_assignments
		SET deleted_at = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND deleted_at IS NULL AND request_id = $4
	`
	result, err := r.q.ExecContext(ctx, query, at, oldID, expectedVersion, next.RequestID)
	if err != nil {
		return err
	}
	if err := expectOneRow(result); err != nil {
		return err
	}
	return r.Create(ctx, next)
}

// FindDuplicateActive returns request IDs with more than one active row.
func (r *AssignmentRepository) FindDuplicateActive(ctx context.Context, tenantID string) ([]string, error) {
	query := `
		SELECT request_id FROM driver_assignments
		WHERE tenant_id = $1 AND deleted_at IS NULL
		GROUP BY request_id HAVING COUNT(*) > 1
		ORDER BY request_id
	`
	rows, err := r.q.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAssignment(row rowScanner) (*domain.DriverAssignment, error) {
	var a domain.DriverAssignment
	var status string
	var startedAt, pickedUpAt, deliveredAt, deletedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.RequestID,
		&a.DriverID,
		&a.AssignedBy,
		&status,
		&a.AssignedAt,
		&startedAt,
		&pickedUpAt,
		&deliveredAt,
		&deletedAt,
		&a.Version,
	)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AssignmentStatus(status)
	a.StartedAt = nullTimePtr(startedAt)
	a.PickedUpAt = nullTimePtr(pickedUpAt)
	a.DeliveredAt = nullTimePtr(deliveredAt)
	a.DeletedAt = nullTimePtr(deletedAt)
	return &a, nil
}
