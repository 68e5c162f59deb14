package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const driverLocationPrefix = "drivers:locations:"

// DriverLocation represents a driver's last reported position.
type DriverLocation struct {
	DriverID   string
	Lat        float64
	Lng        float64
	DistanceKm float64
}

// LocationStore keeps driver positions in a per-tenant Redis GEO set.
type LocationStore struct {
	client redis.Cmdable
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client redis.Cmdable) *LocationStore {
	return &LocationStore{client: client}
}

func locationKey(tenantID string) string {
	return driverLocationPrefix + tenantID
}

// UpdateLocation stores a driver's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, tenantID, driverID string, lat, lng float64) error {
	err := s.client.GeoAdd(ctx, locationKey(tenantID), &redis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store driver location: %w", err)
	}
	return nil
}

// GetLocation returns the last position of a driver, or nil if none was reported.
func (s *LocationStore) GetLocation(ctx context.Context, tenantID, driverID string) (*DriverLocation, error) {
	positions, err := s.client.GeoPos(ctx, locationKey(tenantID), driverID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read driver location: %w", err)
	}
	if len(positions) == 0 || positions[0] == nil {
		return nil, nil
	}
	return &DriverLocation{
		DriverID: driverID,
		Lat:      positions[0].Latitude,
		Lng:      positions[0].Longitude,
	}, nil
}

// FindNearbyDrivers returns drivers within radiusKm of the point, nearest first.
// A non-positive limit returns every match.
func (s *LocationStore) FindNearbyDrivers(ctx context.Context, tenantID string, lat, lng, radiusKm float64, limit int) ([]DriverLocation, error) {
	query := &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}
	if limit > 0 {
		query.Count = limit
	}
	results, err := s.client.GeoRadius(ctx, locationKey(tenantID), lng, lat, query).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search driver locations: %w", err)
	}

	locations := make([]DriverLocation, 0, len(results))
	for _, r := range results {
		locations = append(locations, DriverLocation{
			DriverID:   r.Name,
			Lat:        r.Latitude,
			Lng:        r.Longitude,
			DistanceKm: r.Dist,
		})
	}
	return locations, nil
}

// RemoveLocation removes a driver from the tenant's geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, tenantID, driverID string) error {
	return s.client.ZRem(ctx, locationKey(tenantID), driverID).Err()
}
