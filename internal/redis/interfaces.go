package redis

import (
	"context"
	"time"
)

// LocationStoreInterface defines the interface for driver location operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, tenantID, driverID string, lat, lng float64) error
	GetLocation(ctx context.Context, tenantID, driverID string) (*DriverLocation, error)
	FindNearbyDrivers(ctx context.Context, tenantID string, lat, lng, radiusKm float64, limit int) ([]DriverLocation, error)
	RemoveLocation(ctx context.Context, tenantID, driverID string) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error)
	ReleaseLock(ctx context.Context, lock *Lock) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
)
