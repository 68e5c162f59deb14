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

const requestColumns = `id, tenant_id, client_id, waste_type, fill_level, note, sla_class, created_at,
	lat, lng, status, processed_at, proof_url, weight, weight_unit, processing_note, deleted_at, version`

// RequestRepository is a PostgreSQL implementation of repository.RequestRepository.
type RequestRepository struct {
	q Querier
}

// NewRequestRepository creates a new PostgreSQL request repository.
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{q: db}
}

// NewRequestRepositoryWithTx creates a request repository using a transaction.
func NewRequestRepositoryWithTx(tx *sql.Tx) *RequestRepository {
	return &RequestRepository{q: tx}
}

var _ repository.RequestRepository = (*RequestRepository)(nil)

// Create persists a new request.
func (r *RequestRepository) Create(ctx context.Context, req *domain.PickupRequest) error {
	query := `
		INSERT INTO pickup_requests (id, tenant_id, client_id, waste_type, fill_level, note, sla_class, created_at, lat, lng, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
	`

	var lat, lng sql.NullFloat64
	if req.Location != nil {
		lat = sql.NullFloat64{Float64: req.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: req.Location.Lng, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		req.ID,
		req.TenantID,
		req.ClientID,
		req.WasteType,
		int(req.FillLevel),
		req.Note,
		string(req.SLAClass),
		req.CreatedAt,
		lat,
		lng,
		string(req.Status),
	)
	if err != nil {
		return err
	}
	req.Version = 1
	return nil
}

// GetByID retrieves a request by ID, including soft-deleted rows.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*domain.PickupRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM pickup_requests WHERE id = $1`

	req, err := scanRequest(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// List returns the tenant's requests matching filter, newest first.
func (r *RequestRepository) List(ctx context.Context, tenantID string, filter repository.RequestFilter) ([]*domain.PickupRequest, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch filter.Status {
	case "":
		if !filter.IncludeDeleted {
			conditions = append(conditions, "deleted_at IS NULL")
		}
	case domain.RequestStatusRejected:
		conditions = append(conditions, "deleted_at IS NOT NULL", "status = "+arg(string(domain.RequestStatusPending)))
	default:
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
		if filter.Status == domain.RequestStatusPending || !filter.IncludeDeleted {
			conditions = append(conditions, "deleted_at IS NULL")
		}
	}
	if filter.WasteType != "" {
		conditions = append(conditions, "waste_type = "+arg(filter.WasteType))
	}
	if filter.ClientID != "" {
		conditions = append(conditions, "client_id = "+arg(filter.ClientID))
	}
	if len(filter.IDs) > 0 {
		conditions = append(conditions, "id = ANY("+arg(pq.Array(filter.IDs))+")")
	}

	query := `SELECT ` + requestColumns + ` FROM pickup_requests WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]*domain.PickupRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// MarkProcessed stores the processing fields of an open request at expectedVersion.
func (r *RequestRepository) MarkProcessed(ctx context.Context, req *domain.PickupRequest, expectedVersion int64) error {
	query := `
		UPDATE pickup_requests
		SET status = $1, processed_at = $2, proof_url = $3, weight = $4, weight_unit = $5, processing_note = $6, version = version + 1
		WHERE id = $7 AND version = $8 AND status = $9 AND deleted_at IS NULL
	`

	var processedAt sql.NullTime
	if req.ProcessedAt != nil {
		processedAt = sql.NullTime{Time: *req.ProcessedAt, Valid: true}
	}
	var weight sql.NullFloat64
	if req.Weight != nil {
		weight = sql.NullFloat64{Float64: *req.Weight, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		string(domain.RequestStatusProcessed),
		processedAt,
		nullString(req.ProofURL),
		weight,
		nullString(string(req.WeightUnit)),
		nullString(req.ProcessingNote),
		req.ID,
		expectedVersion,
		string(domain.RequestStatusPending),
	)
	if err != nil {
		return err
	}
	if err := expectOneRow(result); err != nil {
		return err
	}
	req.Status = domain.RequestStatusProcessed
	req.Version = expectedVersion + 1
	return nil
}

// SoftDelete sets deleted_at on an open request at expectedVersion.
func (r *RequestRepository) SoftDelete(ctx context.Context, id string, expectedVersion int64, at time.Time) error {
	query := `
		UPDATE pickup_requests
		SET deleted_at = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND status = $4 AND deleted_at IS NULL
	`
	result, err := r.q.ExecContext(ctx, query, at, id, expectedVersion, string(domain.RequestStatusPending))
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func scanRequest(row rowScanner) (*domain.PickupRequest, error) {
	var req domain.PickupRequest
	var fillLevel int
	var slaClass, status string
	var lat, lng, weight sql.NullFloat64
	var processedAt, deletedAt sql.NullTime
	var note, proofURL, weightUnit, processingNote sql.NullString

	err := row.Scan(
		&req.ID,
		&req.TenantID,
		&req.ClientID,
		&req.WasteType,
		&fillLevel,
		&note,
		&slaClass,
		&req.CreatedAt,
		&lat,
		&lng,
		&status,
		&processedAt,
		&proofURL,
		&weight,
		&weightUnit,
		&processingNote,
		&deletedAt,
		&req.Version,
	)
	if err != nil {
		return nil, err
	}

	req.FillLevel = domain.FillLevel(fillLevel)
	req.SLAClass = domain.SLAClass(slaClass)
	req.Status = domain.RequestStatus(status)
	req.Note = note.String
	req.ProofURL = proofURL.String
	req.WeightUnit = domain.WeightUnit(weightUnit.String)
	req.ProcessingNote = processingNote.String
	if lat.Valid && lng.Valid {
		req.Location = &domain.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	if weight.Valid {
		w := weight.Float64
		req.Weight = &w
	}
	req.ProcessedAt = nullTimePtr(processedAt)
	req.DeletedAt = nullTimePtr(deletedAt)
	return &req, nil
}
