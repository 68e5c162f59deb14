package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/realtime"
	"dispatch/internal/redis"
	"dispatch/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────
// CLOCK
// ──────────────────────────────────────────────

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────
// RECORDING PUBLISHER
// ──────────────────────────────────────────────

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Kinds() []realtime.ChangeKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]realtime.ChangeKind, 0, len(p.events))
	for _, ev := range p.events {
		kinds = append(kinds, ev.ChangeKind)
	}
	return kinds
}

func (p *recordingPublisher) Events() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event(nil), p.events...)
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is an in-memory LocationStoreInterface.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations map[string]redis.DriverLocation

	UpdateCallCount int32
	UpdateError     error
}

func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{locations: make(map[string]redis.DriverLocation)}
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, tenantID, driverID string, lat, lng float64) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[tenantID+"/"+driverID] = redis.DriverLocation{DriverID: driverID, Lat: lat, Lng: lng}
	return nil
}

func (m *MockLocationStore) GetLocation(ctx context.Context, tenantID, driverID string) (*redis.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[tenantID+"/"+driverID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *MockLocationStore) FindNearbyDrivers(ctx context.Context, tenantID string, lat, lng, radiusKm float64, limit int) ([]redis.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	origin := domain.Location{Lat: lat, Lng: lng}
	result := make([]redis.DriverLocation, 0)
	for key, loc := range m.locations {
		if !strings.HasPrefix(key, tenantID+"/") {
			continue
		}
		loc.DistanceKm = haversineKm(origin, domain.Location{Lat: loc.Lat, Lng: loc.Lng})
		if loc.DistanceKm <= radiusKm {
			result = append(result, loc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DistanceKm < result[j].DistanceKm })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, tenantID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, tenantID+"/"+driverID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

type MockLockStore struct {
	mu   sync.Mutex
	held map[string]bool

	ReleaseCallCount int32
}

func NewMockLockStore() *MockLockStore {
	return &MockLockStore{held: make(map[string]bool)}
}

func (m *MockLockStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*redis.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] {
		return nil, nil
	}
	m.held[name] = true
	return &redis.Lock{Name: name}, nil
}

func (m *MockLockStore) ReleaseLock(ctx context.Context, lock *redis.Lock) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, lock.Name)
	return nil
}

// ──────────────────────────────────────────────
// FIXTURE
// ──────────────────────────────────────────────

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
)

var (
	dispatcher  = domain.Actor{TenantID: tenantA, ID: "dispatcher-1", Role: domain.RoleDispatcher}
	client      = domain.Actor{TenantID: tenantA, ID: "client-1", Role: domain.RoleClient}
	otherClient = domain.Actor{TenantID: tenantA, ID: "client-2", Role: domain.RoleClient}
	driver1     = domain.Actor{TenantID: tenantA, ID: "driver-1", Role: domain.RoleDriver}
	driver2     = domain.Actor{TenantID: tenantA, ID: "driver-2", Role: domain.RoleDriver}
	foreignDisp = domain.Actor{TenantID: tenantB, ID: "dispatcher-b", Role: domain.RoleDispatcher}
)

type fixture struct {
	clock       *testClock
	requests    *memory.RequestRepository
	assignments *memory.AssignmentRepository
	directory   *memory.Directory
	publisher   *recordingPublisher
	locations   *MockLocationStore

	deps     Deps
	request  *RequestService
	dispatch *DispatchService
	auditor  *IntegrityAuditor
	route    *RouteService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:       &testClock{now: t0},
		requests:    memory.NewRequestRepository(),
		assignments: memory.NewAssignmentRepository(),
		directory:   memory.NewDirectory(),
		publisher:   &recordingPublisher{},
		locations:   NewMockLocationStore(),
	}

	for _, m := range []*domain.Member{
		{UserID: dispatcher.ID, TenantID: tenantA, Role: domain.RoleDispatcher},
		{UserID: client.ID, TenantID: tenantA, Role: domain.RoleClient},
		{UserID: otherClient.ID, TenantID: tenantA, Role: domain.RoleClient},
		{UserID: driver1.ID, TenantID: tenantA, Role: domain.RoleDriver},
		{UserID: driver2.ID, TenantID: tenantA, Role: domain.RoleDriver},
		{UserID: foreignDisp.ID, TenantID: tenantB, Role: domain.RoleDispatcher},
		{UserID: "driver-b", TenantID: tenantB, Role: domain.RoleDriver},
	} {
		f.directory.AddMember(m)
	}
	f.directory.SetCatalog(&domain.Catalog{
		TenantID:   tenantA,
		WasteTypes: []string{"paper", "glass", "organic"},
		SLAClasses: []domain.SLAClass{domain.SLAClass24h, domain.SLAClass48h, domain.SLAClass72h},
	})

	f.deps = Deps{
		Requests:    f.requests,
		Assignments: f.assignments,
		Catalogs:    f.directory,
		Members:     f.directory,
		Publisher:   f.publisher,
		Clock:       f.clock,
	}
	f.auditor = NewIntegrityAuditor(f.deps, nil, 0)
	f.request = NewRequestService(f.deps)
	f.dispatch = NewDispatchService(f.deps, f.auditor)
	f.route = NewRouteService(f.deps, f.locations)
	return f
}

func (f *fixture) createRequest(t *testing.T, class domain.SLAClass, loc *domain.Location) *domain.PickupRequest {
	t.Helper()
	req, err := f.request.Create(context.Background(), client, CreateRequestInput{
		WasteType: "paper",
		FillLevel: domain.FillLevel75,
		SLAClass:  class,
		Location:  loc,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func (f *fixture) assign(t *testing.T, requestID, driverID string) *domain.DriverAssignment {
	t.Helper()
	a, err := f.dispatch.Assign(context.Background(), dispatcher, requestID, driverID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return a
}
