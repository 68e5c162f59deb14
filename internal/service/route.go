package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"dispatch/internal/domain"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/urgency"
)

const (
	earthRadiusKm = 6371.0

	defaultNearbyRadiusKm = 10.0
	maxNearbyRadiusKm     = 200.0
	defaultNearbyLimit    = 10
	maxNearbyLimit        = 100
)

// RouteService tracks driver positions and suggests stop orders. Ordering is
// best effort: greedy nearest neighbour, not an optimiser.
type RouteService struct {
	deps      Deps
	locations redis.LocationStoreInterface
}

// NewRouteService creates a new RouteService.
func NewRouteService(deps Deps, locations redis.LocationStoreInterface) *RouteService {
	return &RouteService{deps: deps.withDefaults(), locations: locations}
}

// RouteStop is one pickup on a planned route.
type RouteStop struct {
	Assignment *domain.DriverAssignment
	Request    *domain.PickupRequest
	Urgency    *urgency.Status
	// DistanceKm is measured from the previous stop; zero when either end has no location.
	DistanceKm float64
}

// Route is the suggested visiting order of a driver's open assignments.
type Route struct {
	DriverID string
	Start    *domain.Location
	Stops    []RouteStop
	TotalKm  float64
}

// UpdateDriverLocation records the calling driver's position.
func (s *RouteService) UpdateDriverLocation(ctx context.Context, actor domain.Actor, loc domain.Location) error {
	if err := requireRole(actor, domain.RoleDriver); err != nil {
		return err
	}
	if !loc.Valid() {
		return invalid("location", "is out of range")
	}
	return s.locations.UpdateLocation(ctx, actor.TenantID, actor.ID, loc.Lat, loc.Lng)
}

// ClearDriverLocation drops the calling driver's position, e.g. at the end of
// a shift, so the driver no longer shows up as nearby.
func (s *RouteService) ClearDriverLocation(ctx context.Context, actor domain.Actor) error {
	if err := requireRole(actor, domain.RoleDriver); err != nil {
		return err
	}
	if err := s.locations.RemoveLocation(ctx, actor.TenantID, actor.ID); err != nil {
		return fmt.Errorf("failed to clear driver location: %w", err)
	}
	return nil
}

// NearbyDrivers lists tenant drivers close to a request's location.
func (s *RouteService) NearbyDrivers(ctx context.Context, actor domain.Actor, requestID string, radiusKm float64, limit int) ([]redis.DriverLocation, error) {
	if err := requireRole(actor, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	if err := requireID("request_id", requestID); err != nil {
		return nil, err
	}
	switch {
	case radiusKm == 0:
		radiusKm = defaultNearbyRadiusKm
	case radiusKm < 0 || radiusKm > maxNearbyRadiusKm:
		return nil, invalid("radius_km", fmt.Sprintf("must be between 0 and %.0f", maxNearbyRadiusKm))
	}
	switch {
	case limit == 0:
		limit = defaultNearbyLimit
	case limit < 0 || limit > maxNearbyLimit:
		return nil, invalid("limit", fmt.Sprintf("must be between 1 and %d", maxNearbyLimit))
	}

	req, err := loadRequest(ctx, s.deps.Requests, actor, requestID)
	if err != nil {
		return nil, err
	}
	if req.Location == nil {
		return nil, invalid("request_id", "request has no location")
	}
	return s.locations.FindNearbyDrivers(ctx, actor.TenantID, req.Location.Lat, req.Location.Lng, radiusKm, limit)
}

// PlanRoute orders a driver's undelivered assignments starting from the
// driver's last known position. Drivers may only plan their own route.
// Stops without a location follow the located ones, most urgent first.
func (s *RouteService) PlanRoute(ctx context.Context, actor domain.Actor, driverID string) (*Route, error) {
	if err := requireRole(actor, domain.RoleDriver, domain.RoleDispatcher); err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleDriver {
		if driverID != "" && driverID != actor.ID {
			return nil, fmt.Errorf("%w: drivers plan their own route", ErrForbidden)
		}
		driverID = actor.ID
	}
	if err := requireID("driver_id", driverID); err != nil {
		return nil, err
	}

	assignments, err := s.deps.Assignments.List(ctx, actor.TenantID, repository.AssignmentFilter{DriverID: driverID})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	route := &Route{DriverID: driverID, Stops: make([]RouteStop, 0, len(assignments))}
	if pos, err := s.locations.GetLocation(ctx, actor.TenantID, driverID); err != nil {
		s.deps.Logger.Warn(s.deps.Logger.WithField(ctx, "driver_id", driverID), "driver location unavailable, planning without start")
	} else if pos != nil {
		route.Start = &domain.Location{Lat: pos.Lat, Lng: pos.Lng}
	}

	pending := make([]*domain.DriverAssignment, 0, len(assignments))
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if a.Status == domain.AssignmentStatusDelivered {
			continue
		}
		pending = append(pending, a)
		ids = append(ids, a.RequestID)
	}
	if len(pending) == 0 {
		return route, nil
	}

	requests, err := s.deps.Requests.List(ctx, actor.TenantID, repository.RequestFilter{IDs: ids, IncludeDeleted: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	byID := make(map[string]*domain.PickupRequest, len(requests))
	for _, r := range requests {
		byID[r.ID] = r
	}

	now := s.deps.Clock.Now()
	var located, unlocated []RouteStop
	for _, a := range pending {
		stop := RouteStop{Assignment: a, Request: byID[a.RequestID]}
		if stop.Request != nil && stop.Request.IsOpen() {
			if status, err := urgency.EvaluateRequest(stop.Request, now); err == nil {
				stop.Urgency = &status
			}
		}
		if stop.Request != nil && stop.Request.Location != nil {
			located = append(located, stop)
		} else {
			unlocated = append(unlocated, stop)
		}
	}

	byUrgency(located)
	byUrgency(unlocated)
	route.Stops = append(route.Stops, nearestNeighbour(route.Start, located)...)
	route.Stops = append(route.Stops, unlocated...)
	for _, stop := range route.Stops {
		route.TotalKm += stop.DistanceKm
	}
	return route, nil
}

// nearestNeighbour orders stops greedily. Without a start the most urgent stop goes first.
func nearestNeighbour(start *domain.Location, stops []RouteStop) []RouteStop {
	ordered := make([]RouteStop, 0, len(stops))
	remaining := append([]RouteStop(nil), stops...)
	current := start
	for len(remaining) > 0 {
		best := 0
		if current != nil {
			bestDist := math.Inf(1)
			for i, stop := range remaining {
				if d := haversineKm(*current, *stop.Request.Location); d < bestDist {
					best, bestDist = i, d
				}
			}
		}
		stop := remaining[best]
		if current != nil {
			stop.DistanceKm = haversineKm(*current, *stop.Request.Location)
		}
		ordered = append(ordered, stop)
		current = stop.Request.Location
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return ordered
}

func byUrgency(stops []RouteStop) {
	sort.SliceStable(stops, func(i, j int) bool {
		a, b := stops[i].Urgency, stops[j].Urgency
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Deadline.Before(b.Deadline)
	})
}

func haversineKm(a, b domain.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
