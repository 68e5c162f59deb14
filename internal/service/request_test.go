package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/realtime"
	"dispatch/internal/urgency"
)

func TestRequestService_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.request.Create(ctx, client, CreateRequestInput{
		WasteType: "glass",
		FillLevel: domain.FillLevel100,
		SLAClass:  domain.SLAClass48h,
		Note:      "  behind the gate  ",
		Location:  &domain.Location{Lat: 52.52, Lng: 13.40},
	})
	require.NoError(t, err)

	assert.Equal(t, tenantA, req.TenantID)
	assert.Equal(t, client.ID, req.ClientID)
	assert.Equal(t, domain.RequestStatusPending, req.Status)
	assert.Equal(t, t0, req.CreatedAt)
	assert.Equal(t, "behind the gate", req.Note)
	assert.Equal(t, int64(1), req.Version)
	assert.Equal(t, []realtime.ChangeKind{realtime.RequestCreated}, f.publisher.Kinds())
}

func TestRequestService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    CreateRequestInput
		field string
	}{
		{"missing waste type", CreateRequestInput{FillLevel: 50, SLAClass: "24h"}, "waste_type"},
		{"waste type not in catalog", CreateRequestInput{WasteType: "asbestos", FillLevel: 50, SLAClass: "24h"}, "waste_type"},
		{"bad fill level", CreateRequestInput{WasteType: "paper", FillLevel: 60, SLAClass: "24h"}, "fill_level"},
		{"bad sla class", CreateRequestInput{WasteType: "paper", FillLevel: 50, SLAClass: "12h"}, "sla_class"},
		{"bad location", CreateRequestInput{WasteType: "paper", FillLevel: 50, SLAClass: "24h", Location: &domain.Location{Lat: 95}}, "location"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.request.Create(ctx, client, tc.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRequestService_CreateOnBehalf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateRequestInput{WasteType: "paper", FillLevel: 50, SLAClass: "72h"}

	in.ClientID = client.ID
	req, err := f.request.Create(ctx, dispatcher, in)
	require.NoError(t, err)
	assert.Equal(t, client.ID, req.ClientID)

	in.ClientID = driver1.ID
	_, err = f.request.Create(ctx, dispatcher, in)
	assert.ErrorIs(t, err, ErrValidation)

	in.ClientID = otherClient.ID
	_, err = f.request.Create(ctx, client, in)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.request.Create(ctx, driver1, CreateRequestInput{WasteType: "paper", FillLevel: 50, SLAClass: "72h"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRequestService_Process(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, domain.SLAClass24h, nil)

	weight := 12.5
	f.clock.Advance(3 * time.Hour)
	processed, err := f.request.Process(ctx, dispatcher, req.ID, ProcessInput{
		ProofURL:   "https://files.example.com/proof/1.jpg",
		Weight:     &weight,
		WeightUnit: domain.WeightUnitKg,
		Note:       "done",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RequestStatusProcessed, processed.Status)
	require.NotNil(t, processed.ProcessedAt)
	assert.Equal(t, t0.Add(3*time.Hour), *processed.ProcessedAt)
	assert.Equal(t, int64(2), processed.Version)
	// Immutable fields survive.
	assert.Equal(t, req.CreatedAt, processed.CreatedAt)
	assert.Equal(t, req.SLAClass, processed.SLAClass)
}

func TestRequestService_ProcessTwiceLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, domain.SLAClass24h, nil)

	_, err := f.request.Process(ctx, dispatcher, req.ID, ProcessInput{Note: "first"})
	require.NoError(t, err)
	before, err := f.requests.GetByID(ctx, req.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.request.Process(ctx, dispatcher, req.ID, ProcessInput{Note: "second"})
	assert.ErrorIs(t, err, ErrInvalidState)

	after, err := f.requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRequestService_ProcessErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, domain.SLAClass24h, nil)

	_, err := f.request.Process(ctx, dispatcher, "missing", ProcessInput{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.request.Process(ctx, foreignDisp, req.ID, ProcessInput{})
	assert.ErrorIs(t, err, ErrTenantMismatch)

	_, err = f.request.Process(ctx, client, req.ID, ProcessInput{})
	assert.ErrorIs(t, err, ErrForbidden)

	weight := 3.0
	_, err = f.request.Process(ctx, dispatcher, req.ID, ProcessInput{Weight: &weight})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.request.Process(ctx, dispatcher, req.ID, ProcessInput{ProofURL: "ftp://x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRequestService_RejectUnassigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, domain.SLAClass48h, nil)
	a := f.assign(t, req.ID, driver1.ID)

	require.NoError(t, f.request.Reject(ctx, dispatcher, req.ID))

	stored, err := f.requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusPending, stored.Status)
	assert.NotNil(t, stored.DeletedAt)
	assert.Equal(t, domain.RequestStatusRejected, stored.EffectiveStatus())

	active, err := f.assignments.GetActiveByRequestID(ctx, req.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	tomb, err := f.assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, tomb.IsActive())

	assert.Contains(t, f.publisher.Kinds(), realtime.AssignmentUnassigned)
	assert.Equal(t, realtime.RequestRejected, f.publisher.Kinds()[len(f.publisher.Kinds())-1])

	err = f.request.Reject(ctx, dispatcher, req.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.request.Process(ctx, dispatcher, req.ID, ProcessInput{})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.dispatch.Assign(ctx, dispatcher, req.ID, driver2.ID)
	assert.ErrorIs(t, err, ErrRequestNotPending)
}

func TestRequestService_RejectKeepsDeliveredAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, domain.SLAClass24h, nil)
	a := f.assign(t, req.ID, driver1.ID)
	_, err := f.dispatch.MarkPickedUp(ctx, driver1, a.ID)
	require.NoError(t, err)
	_, err = f.dispatch.MarkDelivered(ctx, driver1, a.ID)
	require.NoError(t, err)
	published := len(f.publisher.Kinds())

	err = f.request.Reject(ctx, dispatcher, req.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	stored, err := f.requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())

	row, err := f.assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentStatusDelivered, row.Status)
	assert.True(t, row.IsActive())
	assert.Len(t, f.publisher.Kinds(), published)

	// Processing the delivered request is still allowed.
	_, err = f.request.Process(ctx, dispatcher, req.ID, ProcessInput{})
	assert.NoError(t, err)
}

func TestReleaseActive_LeavesDeliveredRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, domain.SLAClass24h, nil)
	a := f.assign(t, req.ID, driver1.ID)
	_, err := f.dispatch.MarkPickedUp(ctx, driver1, a.ID)
	require.NoError(t, err)
	_, err = f.dispatch.MarkDelivered(ctx, driver1, a.ID)
	require.NoError(t, err)

	driverID, err := releaseActive(ctx, f.request.deps, req, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, driver1.ID, driverID)

	row, err := f.assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, row.DeletedAt)
	assert.NotContains(t, f.publisher.Kinds(), realtime.AssignmentUnassigned)
}

func TestRequestService_ListTierFilterAndOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Created at t0: 72h class. After 49h it has 23h left and is critical.
	old72 := f.createRequest(t, domain.SLAClass72h, nil)
	f.clock.Advance(20 * time.Hour)
	// Created at t0+20h: 48h class, 19h left at t0+49h.
	mid48 := f.createRequest(t, domain.SLAClass48h, nil)
	f.clock.Advance(29 * time.Hour)
	// Created at t0+49h: 72h class, full window left.
	fresh72 := f.createRequest(t, domain.SLAClass72h, nil)

	views, err := f.request.List(ctx, dispatcher, ListRequestsInput{Tier: urgency.TierCritical})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, mid48.ID, views[0].Request.ID)
	assert.Equal(t, old72.ID, views[1].Request.ID)
	for _, v := range views {
		assert.Equal(t, urgency.TierCritical, v.Urgency.Tier)
		assert.Equal(t, domain.DispatchStatusNotAssigned, v.Dispatch)
	}

	views, err = f.request.List(ctx, dispatcher, ListRequestsInput{Tier: urgency.TierNormal})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, fresh72.ID, views[0].Request.ID)

	views, err = f.request.List(ctx, dispatcher, ListRequestsInput{Status: domain.RequestStatusPending, Limit: 1})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, mid48.ID, views[0].Request.ID)
}

func TestRequestService_ListDispatchStatusAndOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.createRequest(t, domain.SLAClass24h, nil)
	f.assign(t, mine.ID, driver1.ID)

	theirs, err := f.request.Create(ctx, otherClient, CreateRequestInput{WasteType: "paper", FillLevel: 50, SLAClass: "24h"})
	require.NoError(t, err)

	views, err := f.request.List(ctx, client, ListRequestsInput{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, mine.ID, views[0].Request.ID)
	assert.Equal(t, domain.DispatchStatus(domain.AssignmentStatusAssigned), views[0].Dispatch)

	_, err = f.request.Get(ctx, client, theirs.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.request.Get(ctx, driver1, mine.ID)
	assert.NoError(t, err)
	_, err = f.request.Get(ctx, driver2, mine.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.request.List(ctx, driver1, ListRequestsInput{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRequestService_ConcurrentProcessAndReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t, domain.SLAClass24h, nil)

	errs := make(chan error, 2)
	go func() {
		_, err := f.request.Process(ctx, dispatcher, req.ID, ProcessInput{})
		errs <- err
	}()
	go func() {
		errs <- f.request.Reject(ctx, dispatcher, req.ID)
	}()

	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrInvalidState) || errors.Is(failures[0], ErrConflict))

	stored, err := f.requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())
	assert.Equal(t, int64(2), stored.Version)
}
