package postgres

import (
	"context"
	"database/sql"
	"errors"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// DirectoryRepository reads the collaborator-owned membership and catalog tables.
type DirectoryRepository struct {
	q Querier
}

// NewDirectoryRepository creates a new PostgreSQL directory repository.
func NewDirectoryRepository(db *sql.DB) *DirectoryRepository {
	return &DirectoryRepository{q: db}
}

var (
	_ repository.MemberRepository  = (*DirectoryRepository)(nil)
	_ repository.CatalogRepository = (*DirectoryRepository)(nil)
)

// GetMember retrieves a user's tenant and role.
func (r *DirectoryRepository) GetMember(ctx context.Context, userID string) (*domain.Member, error) {
	query := `SELECT user_id, tenant_id, role, name FROM tenant_members WHERE user_id = $1`

	var m domain.Member
	var role string
	err := r.q.QueryRowContext(ctx, query, userID).Scan(&m.UserID, &m.TenantID, &role, &m.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	m.Role = domain.Role(role)
	return &m, nil
}

// ListTenants returns every tenant with at least one member.
func (r *DirectoryRepository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM tenant_members ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// GetCatalog returns the allowed inputs of a tenant. A tenant without any
// waste type or SLA class row has no catalog.
func (r *DirectoryRepository) GetCatalog(ctx context.Context, tenantID string) (*domain.Catalog, error) {
	catalog := &domain.Catalog{TenantID: tenantID}

	wasteRows, err := r.q.QueryContext(ctx, `SELECT waste_type FROM tenant_waste_types WHERE tenant_id = $1 ORDER BY waste_type`, tenantID)
	if err != nil {
		return nil, err
	}
	defer wasteRows.Close()
	for wasteRows.Next() {
		var w string
		if err := wasteRows.Scan(&w); err != nil {
			return nil, err
		}
		catalog.WasteTypes = append(catalog.WasteTypes, w)
	}
	if err := wasteRows.Err(); err != nil {
		return nil, err
	}

	classRows, err := r.q.QueryContext(ctx, `SELECT sla_class FROM tenant_sla_classes WHERE tenant_id = $1 ORDER BY sla_class`, tenantID)
	if err != nil {
		return nil, err
	}
	defer classRows.Close()
	for classRows.Next() {
		var c string
		if err := classRows.Scan(&c); err != nil {
			return nil, err
		}
		catalog.SLAClasses = append(catalog.SLAClasses, domain.SLAClass(c))
	}
	if err := classRows.Err(); err != nil {
		return nil, err
	}

	if len(catalog.WasteTypes) == 0 && len(catalog.SLAClasses) == 0 {
		return nil, repository.ErrNotFound
	}
	return catalog, nil
}
