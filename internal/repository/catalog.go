package repository

import (
	"context"

	"dispatch/internal/domain"
)

// CatalogRepository reads tenant catalogs owned by the catalog collaborator.
type CatalogRepository interface {
	// GetCatalog returns the allowed inputs of a tenant.
	GetCatalog(ctx context.Context, tenantID string) (*domain.Catalog, error)
}

// MemberRepository reads tenant membership owned by the directory collaborator.
type MemberRepository interface {
	// GetMember retrieves a user's tenant and role.
	GetMember(ctx context.Context, userID string) (*domain.Member, error)

	// ListTenants returns every tenant with at least one member.
	ListTenants(ctx context.Context) ([]string, error)
}
