package memory

import (
	"context"
	"sort"
	"sync"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// Directory is an in-memory catalog and membership source.
type Directory struct {
	mu       sync.RWMutex
	members  map[string]*domain.Member
	catalogs map[string]*domain.Catalog
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		members:  make(map[string]*domain.Member),
		catalogs: make(map[string]*domain.Catalog),
	}
}

var (
	_ repository.CatalogRepository = (*Directory)(nil)
	_ repository.MemberRepository  = (*Directory)(nil)
)

// AddMember registers a tenant member.
func (d *Directory) AddMember(m *domain.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy := *m
	d.members[m.UserID] = &copy
}

// SetCatalog replaces a tenant's catalog.
func (d *Directory) SetCatalog(c *domain.Catalog) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catalogs[c.TenantID] = cloneCatalog(c)
}

// GetMember retrieves a user's tenant and role.
func (d *Directory) GetMember(ctx context.Context, userID string) (*domain.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *m
	return &copy, nil
}

// ListTenants returns every tenant with at least one member.
func (d *Directory) ListTenants(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]struct{})
	tenants := make([]string, 0)
	for _, m := range d.members {
		if _, ok := seen[m.TenantID]; ok {
			continue
		}
		seen[m.TenantID] = struct{}{}
		tenants = append(tenants, m.TenantID)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// GetCatalog returns the allowed inputs of a tenant.
func (d *Directory) GetCatalog(ctx context.Context, tenantID string) (*domain.Catalog, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.catalogs[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneCatalog(c), nil
}

func cloneCatalog(c *domain.Catalog) *domain.Catalog {
	return &domain.Catalog{
		TenantID:   c.TenantID,
		WasteTypes: append([]string(nil), c.WasteTypes...),
		SLAClasses: append([]domain.SLAClass(nil), c.SLAClasses...),
		FillLevels: append([]domain.FillLevel(nil), c.FillLevels...),
	}
}
