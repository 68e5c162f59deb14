package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

func newAssignment(requestID, driverID string) *domain.DriverAssignment {
	return &domain.DriverAssignment{
		ID:         uuid.NewString(),
		TenantID:   "tenant-1",
		RequestID:  requestID,
		DriverID:   driverID,
		AssignedBy: "dispatcher-1",
		Status:     domain.AssignmentStatusAssigned,
		AssignedAt: time.Now(),
	}
}

func TestAssignmentRepository_CreateRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	repo := NewAssignmentRepository()

	require.NoError(t, repo.Create(ctx, newAssignment("req-1", "driver-a")))
	err := repo.Create(ctx, newAssignment("req-1", "driver-b"))
	assert.ErrorIs(t, err, repository.ErrActiveAssignmentExists)
}

func TestAssignmentRepository_ConcurrentCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewAssignmentRepository()

	const attempts = 64
	var wins, losses int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := repo.Create(ctx, newAssignment("req-race", uuid.NewString()))
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, repository.ErrActiveAssignmentExists):
				atomic.AddInt32(&losses, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(attempts-1), losses)

	history, err := repo.History(ctx, "req-race")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAssignmentRepository_UpdateProgressChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewAssignmentRepository()
	a := newAssignment("req-1", "driver-a")
	require.NoError(t, repo.Create(ctx, a))

	now := time.Now()
	a.Status = domain.AssignmentStatusPickedUp
	a.PickedUpAt = &now
	require.NoError(t, repo.UpdateProgress(ctx, a, 1))
	assert.Equal(t, int64(2), a.Version)

	err := repo.UpdateProgress(ctx, a, 1)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
}

func TestAssignmentRepository_ReplaceKeepsTombstone(t *testing.T) {
	ctx := context.Background()
	repo := NewAssignmentRepository()
	old := newAssignment("req-1", "driver-a")
	require.NoError(t, repo.Create(ctx, old))

	next := newAssignment("req-1", "driver-b")
	require.NoError(t, repo.Replace(ctx, old.ID, old.Version, time.Now(), next))

	active, err := repo.GetActiveByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, next.ID, active.ID)

	tomb, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.NotNil(t, tomb.DeletedAt)

	history, err := repo.History(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, old.ID, history[0].ID)
	assert.Equal(t, next.ID, history[1].ID)
}

func TestAssignmentRepository_SoftDeleteFreesRequest(t *testing.T) {
	ctx := context.Background()
	repo := NewAssignmentRepository()
	a := newAssignment("req-1", "driver-a")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.SoftDelete(ctx, a.ID, a.Version, time.Now()))

	active, err := repo.GetActiveByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, repo.Create(ctx, newAssignment("req-1", "driver-b")))

	dupes, err := repo.FindDuplicateActive(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, dupes)
}
