//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/app"
	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/repository"
	"dispatch/internal/repository/postgres"
)

// These tests run against a disposable database:
//
//	DISPATCH_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/repository/postgres/
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DISPATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, app.Migrate(ctx, db, logger.Nop()))
	return db
}

type pgFixture struct {
	tenantID    string
	now         time.Time
	requests    *postgres.RequestRepository
	assignments *postgres.AssignmentRepository
}

func newPGFixture(t *testing.T) *pgFixture {
	db := openTestDB(t)
	return &pgFixture{
		tenantID:    "tenant-" + uuid.NewString(),
		now:         time.Now().UTC().Truncate(time.Microsecond),
		requests:    postgres.NewRequestRepository(db),
		assignments: postgres.NewAssignmentRepository(db),
	}
}

func (f *pgFixture) createRequest(t *testing.T) *domain.PickupRequest {
	t.Helper()
	req := &domain.PickupRequest{
		ID:        uuid.NewString(),
		TenantID:  f.tenantID,
		ClientID:  "client-1",
		WasteType: "paper",
		FillLevel: domain.FillLevel75,
		SLAClass:  domain.SLAClass48h,
		CreatedAt: f.now,
		Location:  &domain.Location{Lat: 52.52, Lng: 13.405},
		Status:    domain.RequestStatusPending,
	}
	require.NoError(t, f.requests.Create(context.Background(), req))
	return req
}

func (f *pgFixture) newAssignment(requestID, driverID string) *domain.DriverAssignment {
	return &domain.DriverAssignment{
		ID:         uuid.NewString(),
		TenantID:   f.tenantID,
		RequestID:  requestID,
		DriverID:   driverID,
		AssignedBy: "dispatcher-1",
		Status:     domain.AssignmentStatusAssigned,
		AssignedAt: f.now,
	}
}

func TestIntegration_AssignmentCreateRejectsSecondActive(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	first := f.newAssignment(req.ID, "driver-1")
	require.NoError(t, f.assignments.Create(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	err := f.assignments.Create(ctx, f.newAssignment(req.ID, "driver-2"))
	assert.ErrorIs(t, err, repository.ErrActiveAssignmentExists)

	// A tombstoned row frees the slot.
	require.NoError(t, f.assignments.SoftDelete(ctx, first.ID, first.Version, f.now))
	require.NoError(t, f.assignments.Create(ctx, f.newAssignment(req.ID, "driver-2")))

	dups, err := f.assignments.FindDuplicateActive(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Empty(t, dups)
}

func TestIntegration_AssignmentStaleVersion(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	a := f.newAssignment(req.ID, "driver-1")
	require.NoError(t, f.assignments.Create(ctx, a))

	started := f.now.Add(time.Minute)
	a.Status = domain.AssignmentStatusInProgress
	a.StartedAt = &started
	require.NoError(t, f.assignments.UpdateProgress(ctx, a, 1))
	assert.Equal(t, int64(2), a.Version)

	a.Status = domain.AssignmentStatusPickedUp
	err := f.assignments.UpdateProgress(ctx, a, 1)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	err = f.assignments.SoftDelete(ctx, a.ID, 1, f.now)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	stored, err := f.assignments.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentStatusInProgress, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
	assert.True(t, stored.IsActive())
}

func TestIntegration_RequestConditionalWrites(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	processedAt := f.now.Add(time.Hour)
	req.ProcessedAt = &processedAt
	req.ProofURL = "https://proof.example/1.jpg"

	err := f.requests.MarkProcessed(ctx, req, 7)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	require.NoError(t, f.requests.MarkProcessed(ctx, req, 1))
	assert.Equal(t, domain.RequestStatusProcessed, req.Status)
	assert.Equal(t, int64(2), req.Version)

	// Processed requests can no longer be deleted, even at the current version.
	err = f.requests.SoftDelete(ctx, req.ID, req.Version, f.now)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	other := f.createRequest(t)
	require.NoError(t, f.requests.SoftDelete(ctx, other.ID, 1, f.now))
	err = f.requests.MarkProcessed(ctx, other, 2)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	stored, err := f.requests.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.DeletedAt)
	assert.Equal(t, domain.RequestStatusPending, stored.Status)
}

func TestIntegration_ReplaceStaleVersionWritesNothing(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	old := f.newAssignment(req.ID, "driver-1")
	require.NoError(t, f.assignments.Create(ctx, old))

	next := f.newAssignment(req.ID, "driver-2")
	err := f.assignments.Replace(ctx, old.ID, 5, f.now, next)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	_, err = f.assignments.GetByID(ctx, next.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	active, err := f.assignments.GetActiveByRequestID(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, old.ID, active.ID)
}

func TestIntegration_ReplaceRollsBackWhenInsertFails(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	old := f.newAssignment(req.ID, "driver-1")
	require.NoError(t, f.assignments.Create(ctx, old))

	// Reusing the old primary key makes the insert fail after the tombstone.
	next := f.newAssignment(req.ID, "driver-2")
	next.ID = old.ID
	err := f.assignments.Replace(ctx, old.ID, old.Version, f.now, next)
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrActiveAssignmentExists)

	stored, err := f.assignments.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())
	assert.Equal(t, "driver-1", stored.DriverID)
	assert.Equal(t, int64(1), stored.Version)
}

func TestIntegration_ReplaceSwapsActiveRow(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	old := f.newAssignment(req.ID, "driver-1")
	require.NoError(t, f.assignments.Create(ctx, old))

	next := f.newAssignment(req.ID, "driver-2")
	next.AssignedAt = f.now.Add(time.Minute)
	require.NoError(t, f.assignments.Replace(ctx, old.ID, old.Version, next.AssignedAt, next))

	active, err := f.assignments.GetActiveByRequestID(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, next.ID, active.ID)

	history, err := f.assignments.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, old.ID, history[0].ID)
	assert.NotNil(t, history[0].DeletedAt)
}
