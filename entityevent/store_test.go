package entityevent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcGrol/idmevents/lib/mystore"
	"github.com/MarcGrol/idmevents/lib/mytime"
)

func TestEventCodec(t *testing.T) {
	t.Run("Round trip keeps every field except transient properties", func(t *testing.T) {
		// given
		order := 20
		event := NewEventWithOriginal(EventTypeUpdate, &person{UID: "1", Name: "new"}, &person{UID: "1", Name: "old"})
		event.ID = "event-1"
		event.ContentType = personContentType
		event.ProcessedOrder = &order
		event.Suspended = true
		event.SetTransactionID("tx-1")
		event.SetRootID("root-1")
		event.SetParentID("parent-1")
		event.SetParentType(EventTypeDelete)
		event.SetSuperOwnerID("owner-1")
		event.SetPriority(PriorityHigh)
		event.SetExecuteDate(mytime.ExampleTime)
		event.SetPermission(PermissionUpdate)
		event.Properties.Set("forceDelete", true)

		// when
		record, err := encodeEvent(event, EventStateSuspended)
		require.NoError(t, err)
		decoded, err := decodeEvent[*person](record)

		// then
		require.NoError(t, err)
		assert.Equal(t, EventStateSuspended, record.State)
		assert.Equal(t, "1", record.ContentUID)
		assert.Equal(t, PriorityHigh, record.Priority)
		assert.Equal(t, "root-1", record.RootID)
		assert.Equal(t, mytime.ExampleTime, record.ExecuteDate)
		assert.Equal(t, PropertiesVersion, record.PropertiesVersion)

		assert.Equal(t, "event-1", decoded.ID)
		assert.Equal(t, EventTypeUpdate, decoded.Type)
		assert.Equal(t, personContentType, decoded.ContentType)
		assert.Equal(t, &person{UID: "1", Name: "new"}, decoded.Content)
		require.NotNil(t, decoded.OriginalSource)
		assert.Equal(t, "old", (*decoded.OriginalSource).Name)
		require.NotNil(t, decoded.ProcessedOrder)
		assert.Equal(t, 20, *decoded.ProcessedOrder)
		assert.True(t, decoded.Suspended)
		assert.Equal(t, "tx-1", decoded.TransactionID())
		assert.Equal(t, "root-1", decoded.RootID())
		assert.Equal(t, "parent-1", decoded.ParentID())
		assert.Equal(t, EventTypeDelete, decoded.ParentType())
		assert.Equal(t, "owner-1", decoded.SuperOwnerID())
		assert.Equal(t, PriorityHigh, decoded.Priority())
		executeDate, found := decoded.ExecuteDate()
		assert.True(t, found)
		assert.True(t, mytime.ExampleTime.Equal(executeDate))
		assert.True(t, decoded.Properties.GetBool("forceDelete"))
		assert.Empty(t, decoded.Permission())
		assert.True(t, event.Properties.Has(PropertyPermission))
	})

	t.Run("Not started event has no processed order", func(t *testing.T) {
		// given
		event := NewEvent(EventTypeCreate, &person{UID: "1"})

		// when
		record, err := encodeEvent(event, EventStateCreated)
		require.NoError(t, err)
		decoded, err := decodeEvent[*person](record)

		// then
		require.NoError(t, err)
		assert.False(t, record.HasProcessedOrder)
		assert.Nil(t, decoded.ProcessedOrder)
		assert.Nil(t, decoded.OriginalSource)
	})
}

func TestEventStore(t *testing.T) {
	setupStore := func(t *testing.T) (*eventStore, context.Context) {
		c := context.TODO()
		store, _, err := mystore.NewInMemoryStore[PersistedEvent](c)
		require.NoError(t, err)
		return NewEventStore(store), c
	}

	t.Run("Executable events are ordered by priority and execute date", func(t *testing.T) {
		// given
		eventStore, c := setupStore(t)
		now := mytime.ExampleTime
		_ = eventStore.Save(c, PersistedEvent{UID: "normal-old", State: EventStateCreated, Priority: PriorityNormal, ExecuteDate: now.Add(-2 * time.Hour)})
		_ = eventStore.Save(c, PersistedEvent{UID: "normal-new", State: EventStateSuspended, Priority: PriorityNormal, ExecuteDate: now.Add(-time.Hour)})
		_ = eventStore.Save(c, PersistedEvent{UID: "high", State: EventStateCreated, Priority: PriorityHigh, ExecuteDate: now})
		_ = eventStore.Save(c, PersistedEvent{UID: "future", State: EventStateCreated, Priority: PriorityHigh, ExecuteDate: now.Add(time.Minute)})
		_ = eventStore.Save(c, PersistedEvent{UID: "waiting", State: EventStateSuspended, Priority: PriorityHigh})
		_ = eventStore.Save(c, PersistedEvent{UID: "failed", State: EventStateException, Priority: PriorityHigh, ExecuteDate: now})
		_ = eventStore.Save(c, PersistedEvent{UID: "running", State: EventStateRunning, Priority: PriorityHigh, ExecuteDate: now})

		// when
		executable, err := eventStore.FindExecutable(c, now, 0)

		// then
		require.NoError(t, err)
		uids := []string{}
		for _, e := range executable {
			uids = append(uids, e.UID)
		}
		assert.Equal(t, []string{"high", "normal-old", "normal-new"}, uids)
	})

	t.Run("Executable events are limited", func(t *testing.T) {
		// given
		eventStore, c := setupStore(t)
		now := mytime.ExampleTime
		_ = eventStore.Save(c, PersistedEvent{UID: "a", State: EventStateCreated, ExecuteDate: now})
		_ = eventStore.Save(c, PersistedEvent{UID: "b", State: EventStateCreated, ExecuteDate: now})

		// when
		executable, err := eventStore.FindExecutable(c, now, 1)

		// then
		require.NoError(t, err)
		assert.Len(t, executable, 1)
	})

	t.Run("Find by root", func(t *testing.T) {
		// given
		eventStore, c := setupStore(t)
		now := mytime.ExampleTime
		_ = eventStore.Save(c, PersistedEvent{UID: "child-2", RootID: "root", CreatedAt: now.Add(time.Second)})
		_ = eventStore.Save(c, PersistedEvent{UID: "child-1", RootID: "root", CreatedAt: now})
		_ = eventStore.Save(c, PersistedEvent{UID: "other", RootID: "other-root", CreatedAt: now})

		// when
		events, err := eventStore.FindByRoot(c, "root")

		// then
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "child-1", events[0].UID)
		assert.Equal(t, "child-2", events[1].UID)
	})

	t.Run("Load, save and delete", func(t *testing.T) {
		// given
		eventStore, c := setupStore(t)

		// when
		err := eventStore.Save(c, PersistedEvent{UID: "e1", ContentUID: "1"})
		require.NoError(t, err)
		loaded, found, err := eventStore.Load(c, "e1")

		// then
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "1", loaded.ContentUID)

		// when
		err = eventStore.Delete(c, "e1")
		require.NoError(t, err)
		_, found, err = eventStore.Load(c, "e1")

		// then
		require.NoError(t, err)
		assert.False(t, found)
	})
}
