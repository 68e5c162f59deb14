package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// CatalogCacheTTL bounds how long a catalog edit can take to reach request validation.
const CatalogCacheTTL = 5 * time.Minute

const catalogCachePrefix = "cache:catalog:"

// cachedCatalog is the stored form of a tenant catalog.
type cachedCatalog struct {
	TenantID   string   `json:"tenant_id"`
	WasteTypes []string `json:"waste_types"`
	SLAClasses []string `json:"sla_classes"`
	FillLevels []int    `json:"fill_levels"`
}

// CatalogCache is a read-through cache in front of a CatalogRepository.
// Cache failures fall back to the source.
type CatalogCache struct {
	client redis.Cmdable
	source repository.CatalogRepository
	ttl    time.Duration
}

// NewCatalogCache creates a new CatalogCache. A zero ttl uses CatalogCacheTTL.
func NewCatalogCache(client redis.Cmdable, source repository.CatalogRepository, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = CatalogCacheTTL
	}
	return &CatalogCache{client: client, source: source, ttl: ttl}
}

var _ repository.CatalogRepository = (*CatalogCache)(nil)

// GetCatalog returns the tenant catalog from cache or the source.
func (s *CatalogCache) GetCatalog(ctx context.Context, tenantID string) (*domain.Catalog, error) {
	key := catalogCachePrefix + tenantID
	data, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		if catalog, decodeErr := decodeCatalog(data); decodeErr == nil {
			return catalog, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return s.source.GetCatalog(ctx, tenantID)
	}

	catalog, err := s.source.GetCatalog(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if encoded, err := encodeCatalog(catalog); err == nil {
		_ = s.client.Set(ctx, key, encoded, s.ttl).Err()
	}
	return catalog, nil
}

func encodeCatalog(c *domain.Catalog) ([]byte, error) {
	stored := cachedCatalog{
		TenantID:   c.TenantID,
		WasteTypes: c.WasteTypes,
		SLAClasses: make([]string, 0, len(c.SLAClasses)),
		FillLevels: make([]int, 0, len(c.FillLevels)),
	}
	for _, class := range c.SLAClasses {
		stored.SLAClasses = append(stored.SLAClasses, string(class))
	}
	for _, level := range c.FillLevels {
		stored.FillLevels = append(stored.FillLevels, int(level))
	}
	return json.Marshal(stored)
}

func decodeCatalog(data []byte) (*domain.Catalog, error) {
	var stored cachedCatalog
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	catalog := &domain.Catalog{
		TenantID:   stored.TenantID,
		WasteTypes: stored.WasteTypes,
	}
	for _, class := range stored.SLAClasses {
		catalog.SLAClasses = append(catalog.SLAClasses, domain.SLAClass(class))
	}
	for _, level := range stored.FillLevels {
		catalog.FillLevels = append(catalog.FillLevels, domain.FillLevel(level))
	}
	return catalog, nil
}
