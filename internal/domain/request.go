package domain

import "time"

// RequestStatus represents the stored status of a pickup request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusProcessed RequestStatus = "processed"
	RequestStatusRejected  RequestStatus = "rejected"
)

// IsValid reports whether s is a known request status.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusPending, RequestStatusProcessed, RequestStatusRejected:
		return true
	default:
		return false
	}
}

// SLAClass is the declared total SLA window of a request.
type SLAClass string

const (
	SLAClass24h SLAClass = "24h"
	SLAClass48h SLAClass = "48h"
	SLAClass72h SLAClass = "72h"
)

// IsValid reports whether c is a known SLA class.
func (c SLAClass) IsValid() bool {
	switch c {
	case SLAClass24h, SLAClass48h, SLAClass72h:
		return true
	default:
		return false
	}
}

// FillLevel is the container fill percentage reported by the client.
type FillLevel int

const (
	FillLevel50  FillLevel = 50
	FillLevel75  FillLevel = 75
	FillLevel100 FillLevel = 100
)

// IsValid reports whether f is a known fill level.
func (f FillLevel) IsValid() bool {
	return f == FillLevel50 || f == FillLevel75 || f == FillLevel100
}

// WeightUnit is the unit of a recorded pickup weight.
type WeightUnit string

const (
	WeightUnitKg    WeightUnit = "kg"
	WeightUnitLb    WeightUnit = "lb"
	WeightUnitTonne WeightUnit = "t"
)

// IsValid reports whether u is a known weight unit.
func (u WeightUnit) IsValid() bool {
	return u == WeightUnitKg || u == WeightUnitLb || u == WeightUnitTonne
}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64
	Lng float64
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// PickupRequest is a waste pickup filed by a client.
// SLAClass and CreatedAt never change after creation.
type PickupRequest struct {
	ID        string
	TenantID  string
	ClientID  string
	WasteType string
	FillLevel FillLevel
	Note      string
	SLAClass  SLAClass
	CreatedAt time.Time
	Location  *Location
	Status    RequestStatus

	ProcessedAt    *time.Time
	ProofURL       string
	Weight         *float64
	WeightUnit     WeightUnit
	ProcessingNote string

	DeletedAt *time.Time
	Version   int64
}

// IsDeleted reports whether the request has been soft-deleted.
func (r *PickupRequest) IsDeleted() bool {
	return r.DeletedAt != nil
}

// EffectiveStatus is the status shown to callers. A rejected request keeps
// status pending in storage and carries a deletion marker.
func (r *PickupRequest) EffectiveStatus() RequestStatus {
	if r.DeletedAt != nil && r.Status == RequestStatusPending {
		return RequestStatusRejected
	}
	return r.Status
}

// IsOpen reports whether the request can still be assigned or processed.
func (r *PickupRequest) IsOpen() bool {
	return r.DeletedAt == nil && r.Status == RequestStatusPending
}
