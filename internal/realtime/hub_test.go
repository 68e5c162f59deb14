package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assignmentEvent(id string, version int64, kind ChangeKind, driverID string) Event {
	payload, _ := json.Marshal(map[string]any{"id": id, "version": version, "driver_id": driverID})
	return Event{
		ID:          id + "-" + string(kind),
		TenantID:    "tenant-1",
		DriverID:    driverID,
		EntityType:  EntityAssignment,
		EntityID:    id,
		ChangeKind:  kind,
		Version:     version,
		Payload:     payload,
		CommittedAt: time.Now(),
	}
}

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(HubOptions{})

	sub1, err := hub.Subscribe("tenant-1", Audience{}, 0)
	require.NoError(t, err)
	sub2, err := hub.Subscribe("tenant-2", Audience{}, 0)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 1, AssignmentCreated, "driver-1")))

	assert.Len(t, drain(sub1), 1)
	assert.Empty(t, drain(sub2))
}

func TestHub_DriverAudience(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(HubOptions{})

	mine, err := hub.Subscribe("tenant-1", Audience{DriverID: "driver-1"}, 0)
	require.NoError(t, err)
	dispatcher, err := hub.Subscribe("tenant-1", Audience{}, 0)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 1, AssignmentCreated, "driver-1")))
	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-2", 1, AssignmentCreated, "driver-2")))

	got := drain(mine)
	require.Len(t, got, 1)
	assert.Equal(t, "a-1", got[0].EntityID)
	assert.Len(t, drain(dispatcher), 2)
}

func TestHub_PerEntityOrderDropsStale(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(HubOptions{})
	sub, err := hub.Subscribe("tenant-1", Audience{}, 0)
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 1, AssignmentCreated, "d")))
	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 3, AssignmentPickedUp, "d")))
	// A slower committer publishing an older version must not regress subscribers.
	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 2, AssignmentStarted, "d")))
	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 3, AssignmentPickedUp, "d")))

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Version)
	assert.Equal(t, int64(3), got[1].Version)
	assert.Less(t, got[0].Offset, got[1].Offset)
}

func TestHub_ReplaySinceOffset(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(HubOptions{})

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", i, AssignmentStarted, "d")))
	}
	assert.Equal(t, uint64(5), hub.Offset("tenant-1"))

	sub, err := hub.Subscribe("tenant-1", Audience{}, 3)
	require.NoError(t, err)
	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].Offset)
	assert.Equal(t, uint64(5), got[1].Offset)
}

func TestHub_LaggedSubscriberIsClosed(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(HubOptions{BufferSize: 2})
	sub, err := hub.Subscribe("tenant-1", Audience{}, 0)
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", i, AssignmentStarted, "d")))
	}

	assert.True(t, sub.Lagged())
	got := drain(sub)
	assert.Len(t, got, 2)
	_, open := <-sub.Events()
	assert.False(t, open)

	// Close after lag is a no-op.
	sub.Close()
}

func TestHub_RequiresTenant(t *testing.T) {
	hub := NewHub(HubOptions{})
	_, err := hub.Subscribe("", Audience{}, 0)
	assert.ErrorIs(t, err, ErrTenantRequired)
	assert.ErrorIs(t, hub.Publish(context.Background(), Event{}), ErrTenantRequired)
}

func TestProjection_RedeliveryIsNoop(t *testing.T) {
	created := assignmentEvent("a-1", 1, AssignmentCreated, "d")
	created.Offset = 1
	picked := assignmentEvent("a-1", 2, AssignmentPickedUp, "d")
	picked.Offset = 2

	once := NewProjection()
	assert.True(t, once.Apply(created))
	assert.True(t, once.Apply(picked))

	twice := NewProjection()
	twice.Apply(created)
	twice.Apply(picked)
	assert.False(t, twice.Apply(picked))
	assert.False(t, twice.Apply(created))

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
	assert.Equal(t, uint64(2), twice.Cursor())

	ev, ok := twice.Get(EntityAssignment, "a-1")
	require.True(t, ok)
	assert.Equal(t, AssignmentPickedUp, ev.ChangeKind)
}

func TestFanout_LocalAndRelayDeliverOnce(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(HubOptions{})
	sub, err := hub.Subscribe("tenant-1", Audience{}, 0)
	require.NoError(t, err)

	// The relay echoes the event back into the same hub, as Redis does for
	// the publishing instance.
	relay := PublisherFunc(func(ctx context.Context, ev Event) error {
		return hub.Publish(ctx, ev)
	})
	pub := Fanout(hub, relay)

	require.NoError(t, pub.Publish(ctx, assignmentEvent("a-1", 1, AssignmentCreated, "d")))
	assert.Len(t, drain(sub), 1)
}

func TestHub_SnapshotKeepsNewestPerEntity(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(HubOptions{})

	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 1, AssignmentCreated, "driver-1")))
	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 2, AssignmentStarted, "driver-1")))
	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-2", 1, AssignmentCreated, "driver-2")))

	all := hub.Snapshot("tenant-1", Audience{})
	assert.Len(t, all.Snapshot(), 2)
	assert.Equal(t, uint64(3), all.Cursor())
	ev, ok := all.Get(EntityAssignment, "a-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), ev.Version)

	mine := hub.Snapshot("tenant-1", Audience{DriverID: "driver-2"})
	assert.Len(t, mine.Snapshot(), 1)
	assert.Equal(t, uint64(3), mine.Cursor())

	assert.Empty(t, hub.Snapshot("tenant-9", Audience{}).Snapshot())
}

func TestHub_SubscribeAheadOfTopicRequestsResync(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(HubOptions{})
	require.NoError(t, hub.Publish(ctx, assignmentEvent("a-1", 1, AssignmentCreated, "driver-1")))

	sub, err := hub.Subscribe("tenant-1", Audience{}, 42)
	require.NoError(t, err)
	defer sub.Close()

	assert.True(t, sub.Resync)
	assert.Equal(t, uint64(1), sub.Offset)
	assert.Empty(t, drain(sub))

	current, err := hub.Subscribe("tenant-1", Audience{}, 1)
	require.NoError(t, err)
	defer current.Close()
	assert.False(t, current.Resync)
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(HubOptions{})
	a, err := hub.Subscribe("tenant-1", Audience{}, 0)
	require.NoError(t, err)
	b, err := hub.Subscribe("tenant-2", Audience{}, 0)
	require.NoError(t, err)

	hub.Close()

	_, open := <-a.Events()
	assert.False(t, open)
	_, open = <-b.Events()
	assert.False(t, open)
	assert.False(t, a.Lagged())

	// Closing a subscription the hub already ended is a no-op.
	a.Close()
}
