package entityevent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MarcGrol/idmevents/lib/mycontext"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/myqueue"
	"github.com/MarcGrol/idmevents/lib/mystore"
	"github.com/MarcGrol/idmevents/lib/mytime"
	"github.com/MarcGrol/idmevents/lib/myuuid"
)

const personContentType = "person"

type person struct {
	UID  string
	Name string
}

func (p *person) GetUID() string {
	return p.UID
}

type testContext struct {
	registry   *Registry
	engine     *Engine
	manager    *Manager[*person]
	events     *mystore.InMemoryStore[PersistedEvent]
	people     *mystore.InMemoryStore[person]
	queue      *myqueue.InMemoryTaskQueue
	invocation *invocations
}

type invocations struct {
	sync.Mutex
	names []string
}

func (i *invocations) add(name string) {
	i.Lock()
	defer i.Unlock()
	i.names = append(i.names, name)
}

func (i *invocations) list() []string {
	i.Lock()
	defer i.Unlock()
	return append([]string{}, i.names...)
}

func sequentialUUIDer(ctrl *gomock.Controller) myuuid.UUIDer {
	uuider := myuuid.NewMockUUIDer(ctrl)
	mutex := sync.Mutex{}
	counter := 0
	uuider.EXPECT().Create().DoAndReturn(func() string {
		mutex.Lock()
		defer mutex.Unlock()
		counter++
		return fmt.Sprintf("uuid-%d", counter)
	}).AnyTimes()
	return uuider
}

func setup(t *testing.T, ctrl *gomock.Controller, config Config, options ...Option) *testContext {
	c := context.TODO()

	events, _, err := mystore.NewInMemoryStore[PersistedEvent](c)
	require.NoError(t, err)
	people, _, err := mystore.NewInMemoryStore[person](c)
	require.NoError(t, err)
	queue := myqueue.NewInMemoryTaskQueue()

	nower := mytime.NewMockNower(ctrl)
	nower.EXPECT().Now().Return(mytime.ExampleTime).AnyTimes()

	registry := NewRegistry(config)
	options = append([]Option{WithConfig(config), WithQueue(queue)}, options...)
	engine := NewEngine(registry, NewEventStore(events), nower, sequentialUUIDer(ctrl), options...)

	return &testContext{
		registry:   registry,
		engine:     engine,
		manager:    NewManager[*person](engine, personContentType),
		events:     events,
		people:     people,
		queue:      queue,
		invocation: &invocations{},
	}
}

// recording registers a processor that only remembers it has been called.
func (tc *testContext) recording(name string, order int, eventTypes ...EventType) Processor[*person] {
	return NewProcessor(NewBaseProcessor[*person](name, order, eventTypes...),
		func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
			tc.invocation.add(name)
			return Continue(event), nil
		})
}

func (tc *testContext) returning(name string, order int, result func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error)) Processor[*person] {
	return NewProcessor(NewBaseProcessor[*person](name, order),
		func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
			tc.invocation.add(name)
			return result(c, event)
		})
}

func orders(eventContext *EventContext[*person]) []int {
	result := []int{}
	for _, r := range eventContext.Results() {
		result = append(result, r.ProcessedOrder)
	}
	return result
}

func TestManagerPublish(t *testing.T) {
	t.Run("Processors run in ascending order", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType,
			tc.recording("p30", 30),
			tc.recording("p10", 10),
			tc.recording("p20", 20))

		// when
		eventContext, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"}))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"p10", "p20", "p30"}, tc.invocation.list())
		assert.Equal(t, []int{10, 20, 30}, orders(eventContext))
		processedOrder, found := eventContext.ProcessedOrder()
		assert.True(t, found)
		assert.Equal(t, 30, processedOrder)
		assert.True(t, eventContext.IsClosed())
		assert.False(t, eventContext.IsSuspended())
		assert.Equal(t, "1", eventContext.Content().UID)
	})

	t.Run("Equal orders are run by name", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType,
			tc.recording("b", DefaultOrder),
			tc.recording("a", DefaultOrder),
			tc.recording("first", -10))

		// when
		_, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"}))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "a", "b"}, tc.invocation.list())
	})

	t.Run("Only processors supporting the event type run", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType,
			tc.recording("create", 10, EventTypeCreate),
			tc.recording("delete", 20, EventTypeDelete),
			tc.recording("all", 30))

		// when
		_, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeDelete, &person{UID: "1"}))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"delete", "all"}, tc.invocation.list())
	})

	t.Run("Closed result stops the chain without error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType,
			tc.recording("p10", 10),
			tc.returning("p20", 20, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return Close(event), nil
			}),
			tc.recording("p30", 30))

		// when
		eventContext, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeUpdate, &person{UID: "1"}))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"p10", "p20"}, tc.invocation.list())
		assert.True(t, eventContext.IsClosed())
		last, _ := eventContext.LastResult()
		assert.Equal(t, "p20", last.Processor)
	})

	t.Run("Closable processor closes the event", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		closing := NewProcessor(NewBaseProcessor[*person]("closing", 10).Closing(),
			func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return Continue(event), nil
			})
		MustRegister(tc.registry, personContentType, closing, tc.recording("p20", 20))

		// when
		eventContext, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeUpdate, &person{UID: "1"}))

		// then
		require.NoError(t, err)
		assert.Empty(t, tc.invocation.list())
		assert.Len(t, eventContext.Results(), 1)
		assert.True(t, eventContext.IsClosed())
	})

	t.Run("Conditional processor is skipped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		never := NewConditionalProcessor(NewBaseProcessor[*person]("never", 10),
			func(event *EntityEvent[*person]) bool { return event.Properties.GetBool("run") },
			func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				tc.invocation.add("never")
				return Continue(event), nil
			})
		MustRegister(tc.registry, personContentType, never, tc.recording("p20", 20))

		// when
		eventContext, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeUpdate, &person{UID: "1"}))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"p20"}, tc.invocation.list())
		assert.Equal(t, []int{20}, orders(eventContext))
	})

	t.Run("Disabled processor is skipped unless not disableable", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		config := DefaultConfig()
		config.DisabledProcessors = []string{"p10", "p20"}
		tc := setup(t, ctrl, config)
		mandatory := NewProcessor(NewBaseProcessor[*person]("p20", 20).NotDisableable(),
			func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				tc.invocation.add("p20")
				return Continue(event), nil
			})
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10), mandatory, tc.recording("p30", 30))

		// when
		_, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeUpdate, &person{UID: "1"}))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"p20", "p30"}, tc.invocation.list())
	})

	t.Run("Processor error aborts the chain and rolls back", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		businessErr := myerrors.NewCodedError(http.StatusConflict, "PERSON_INVALID", map[string]any{"uid": "1"})
		MustRegister(tc.registry, personContentType,
			tc.returning("save", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return Continue(event), tc.people.Put(c, event.Content.UID, *event.Content)
			}),
			tc.returning("validate", 20, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return EventResult[*person]{}, businessErr
			}),
			tc.recording("notify", 30))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		event.Persistent = true

		// when
		eventContext, err := tc.manager.Publish(c, event)

		// then
		assert.Nil(t, eventContext)
		assert.ErrorIs(t, err, businessErr)
		assert.Equal(t, "PERSON_INVALID", myerrors.GetCode(err))
		assert.Equal(t, []string{"save", "validate"}, tc.invocation.list())
		assert.Empty(t, tc.people.Items)
		assert.Empty(t, tc.events.Items)
	})

	t.Run("Event without processors is rejected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType, tc.recording("create", 10, EventTypeCreate))

		// when
		_, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeNotify, &person{UID: "1"}))

		// then
		assert.Error(t, err)
		assert.Equal(t, ErrorCodeNoProcessor, myerrors.GetCode(err))
	})

	t.Run("Event without content is rejected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))

		// when
		_, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeCreate, (*person)(nil)))

		// then
		assert.Equal(t, ErrorCodeContentIsNil, myerrors.GetCode(err))
		assert.Equal(t, http.StatusBadRequest, myerrors.GetHTTPStatus(err))
		assert.Empty(t, tc.invocation.list())
	})

	t.Run("Event of other content type is rejected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		event := NewEvent(EventTypeCreate, &person{UID: "1"})
		event.ContentType = "account"

		// when
		_, err := tc.manager.Publish(c, event)

		// then
		assert.Equal(t, ErrorCodeContentTypeMismatch, myerrors.GetCode(err))
		assert.Empty(t, tc.invocation.list())
	})

	t.Run("Plain synchronous event is never persisted", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		persisted := false
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				persisted = len(tc.events.Items) > 0
				return Continue(event), nil
			}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})

		// when
		_, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		assert.False(t, persisted)
		assert.Empty(t, event.ID)
		assert.True(t, event.Closed)
	})

	t.Run("Persistent event is stored before the first processor and removed when closed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		var stored PersistedEvent
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				stored = tc.events.Items[event.ID]
				return Continue(event), nil
			}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		event.Persistent = true

		// when
		_, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		assert.NotEmpty(t, event.ID)
		assert.Equal(t, EventStateRunning, stored.State)
		assert.Equal(t, "1", stored.ContentUID)
		assert.Empty(t, tc.events.Items)
	})

	t.Run("Transaction id is taken from the context", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := mycontext.WithTransactionID(context.TODO(), "tx-1")
		tc := setup(t, ctrl, DefaultConfig())
		seen := ""
		MustRegister(tc.registry, personContentType,
			NewProcessor(NewBaseProcessor[*person]("p10", 10),
				func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
					seen = mycontext.TransactionID(c)
					return Continue(event), nil
				}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})

		// when
		_, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		assert.Equal(t, "tx-1", event.TransactionID())
		assert.Equal(t, "tx-1", seen)
	})

	t.Run("Transaction id is generated when absent", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})

		// when
		_, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		assert.Equal(t, "uuid-1", event.TransactionID())
	})
}

func TestManagerAccess(t *testing.T) {
	t.Run("Forbidden before any processor runs", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := mycontext.WithActor(context.TODO(), mycontext.Principal{Username: "bob"})
		authorizer := NewMockAuthorizer(ctrl)
		auditSink := NewMockAuditSink(ctrl)
		tc := setup(t, ctrl, DefaultConfig(), WithAuthorizer(authorizer), WithAuditSink(auditSink))
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		event := tc.manager.NewEvent(EventTypeDelete, &person{UID: "1"})

		authorizer.EXPECT().CheckAccess(gomock.Any(), personContentType, event.Content, PermissionDelete).Return(false, nil)
		auditSink.EXPECT().Audit(gomock.Any(), gomock.Any()).DoAndReturn(func(c context.Context, entry AuditEntry) error {
			assert.Equal(t, AuditStatusFailure, entry.Status)
			assert.Equal(t, ErrorCodeAccessDenied, entry.ErrorCode)
			assert.Equal(t, "bob", entry.Actor)
			return nil
		})

		// when
		_, err := tc.manager.Publish(c, event, PermissionDelete)

		// then
		assert.Equal(t, http.StatusForbidden, myerrors.GetHTTPStatus(err))
		assert.Equal(t, ErrorCodeAccessDenied, myerrors.GetCode(err))
		assert.Empty(t, tc.invocation.list())
	})

	t.Run("Allowed publish is audited as success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		authorizer := NewMockAuthorizer(ctrl)
		auditSink := NewMockAuditSink(ctrl)
		tc := setup(t, ctrl, DefaultConfig(), WithAuthorizer(authorizer), WithAuditSink(auditSink))
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})

		authorizer.EXPECT().CheckAccess(gomock.Any(), personContentType, event.Content, PermissionCreate).Return(true, nil)
		auditSink.EXPECT().Audit(gomock.Any(), gomock.Any()).DoAndReturn(func(c context.Context, entry AuditEntry) error {
			assert.Equal(t, AuditStatusSuccess, entry.Status)
			assert.Equal(t, "1", entry.ContentUID)
			assert.Equal(t, EventTypeCreate, entry.EventType)
			return nil
		})

		// when
		_, err := tc.manager.Publish(c, event, PermissionCreate)

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"p10"}, tc.invocation.list())
		assert.Equal(t, []Permission{PermissionCreate}, event.Permission())
	})

	t.Run("Authorizer failure is an internal error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		authorizer := NewMockAuthorizer(ctrl)
		tc := setup(t, ctrl, DefaultConfig(), WithAuthorizer(authorizer))
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		authorizer.EXPECT().CheckAccess(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("unreachable"))

		// when
		_, err := tc.manager.Publish(c, tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"}), PermissionCreate)

		// then
		assert.Equal(t, http.StatusInternalServerError, myerrors.GetHTTPStatus(err))
		assert.Empty(t, tc.invocation.list())
	})
}

func TestManagerSuspendResume(t *testing.T) {
	suspendingAt20 := func(tc *testContext) {
		MustRegister(tc.registry, personContentType,
			tc.recording("p10", 10),
			tc.returning("p20", 20, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				event.Content.Name = "waiting"
				return Suspend(event), nil
			}),
			tc.recording("p30", 30))
	}

	t.Run("Suspended event is persisted and resumed after the suspend point", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		suspendingAt20(tc)
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})

		// when
		first, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		assert.Equal(t, []int{10, 20}, orders(first))
		assert.True(t, first.IsSuspended())
		assert.False(t, first.IsClosed())
		processedOrder, _ := first.ProcessedOrder()
		assert.Equal(t, 20, processedOrder)
		require.NotEmpty(t, event.ID)

		record, found := tc.events.Items[event.ID]
		require.True(t, found)
		assert.Equal(t, EventStateSuspended, record.State)
		assert.Equal(t, 20, record.ProcessedOrder)
		assert.True(t, record.HasProcessedOrder)
		assert.Contains(t, record.Content, "waiting")

		// when
		second, err := tc.manager.Resume(c, event.ID)

		// then
		require.NoError(t, err)
		assert.Equal(t, []int{30}, orders(second))
		assert.True(t, second.IsClosed())
		assert.Equal(t, "waiting", second.Content().Name)
		assert.Equal(t, []string{"p10", "p20", "p30"}, tc.invocation.list())
		assert.Empty(t, tc.events.Items)
	})

	t.Run("Resuming a completed event is a no-op", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		suspendingAt20(tc)
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		_, err := tc.manager.Publish(c, event)
		require.NoError(t, err)
		_, err = tc.manager.Resume(c, event.ID)
		require.NoError(t, err)

		// when
		again, err := tc.manager.Resume(c, event.ID)

		// then
		require.NoError(t, err)
		assert.True(t, again.IsAlreadyProcessed())
		assert.Empty(t, again.Results())
		assert.Equal(t, []string{"p10", "p20", "p30"}, tc.invocation.list())
	})

	t.Run("Resuming an unknown event is a no-op", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())

		// when
		eventContext, err := tc.manager.Resume(c, "unknown")

		// then
		require.NoError(t, err)
		assert.True(t, eventContext.IsAlreadyProcessed())
		assert.NoError(t, tc.engine.Resume(c, "unknown"))
	})

	t.Run("Engine resumes by content type", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		suspendingAt20(tc)
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		_, err := tc.manager.Publish(c, event)
		require.NoError(t, err)

		// when
		err = tc.engine.Resume(c, event.ID)

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"p10", "p20", "p30"}, tc.invocation.list())
		assert.Empty(t, tc.events.Items)
	})

	t.Run("Suspension with future execute date queues a wake-up", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		later := mytime.ExampleTime.Add(time.Hour)
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				event.SetExecuteDate(later)
				return Suspend(event), nil
			}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})

		// when
		_, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		assert.Equal(t, later, tc.events.Items[event.ID].ExecuteDate)
		require.Len(t, tc.queue.Tasks(), 1)
		assert.Equal(t, "/entityevent/"+event.ID+"/resume", tc.queue.Tasks()[0].WebhookURLPath)
		assert.Equal(t, later, tc.queue.Tasks()[0].ScheduleAt)
	})
}

func TestManagerParent(t *testing.T) {
	t.Run("Child gets propagated properties only", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		var child *EntityEvent[*person]
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				child = event
				return Continue(event), nil
			}))

		parent := NewEvent(EventTypeDelete, &person{UID: "parent"})
		parent.ID = "parent-event"
		parent.ContentType = personContentType
		parent.SetTransactionID("tx-42")
		parent.SetRootID("root-event")
		parent.SetPermission(PermissionDelete)
		parent.SetExecuteDate(mytime.ExampleTime)
		parent.SetSuperOwnerID("owner")

		// when
		_, err := tc.manager.ProcessWithParent(c, tc.manager.NewEvent(EventTypeDelete, &person{UID: "child"}), parent)

		// then
		require.NoError(t, err)
		assert.Equal(t, "tx-42", child.TransactionID())
		assert.Equal(t, "parent-event", child.ParentID())
		assert.Equal(t, EventTypeDelete, child.ParentType())
		assert.Equal(t, "root-event", child.RootID())
		assert.Empty(t, child.Permission())
		assert.Empty(t, child.SuperOwnerID())
		_, found := child.ExecuteDate()
		assert.False(t, found)
	})

	t.Run("Persisted parent without root becomes the root", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		parent := tc.manager.NewEvent(EventTypeDelete, &person{UID: "parent"})
		parent.ID = "parent-event"
		child := tc.manager.NewEvent(EventTypeDelete, &person{UID: "child"})

		// when
		_, err := tc.manager.ProcessWithParent(c, child, parent)

		// then
		require.NoError(t, err)
		assert.Equal(t, "parent-event", child.RootID())
		assert.NotEmpty(t, child.ID)
	})

	t.Run("Transient parent only propagates", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		parent := tc.manager.NewEvent(EventTypeDelete, &person{UID: "parent"})
		parent.SetTransactionID("tx-7")
		child := tc.manager.NewEvent(EventTypeDelete, &person{UID: "child"})

		// when
		_, err := tc.manager.ProcessWithParent(c, child, parent)

		// then
		require.NoError(t, err)
		assert.Equal(t, "tx-7", child.TransactionID())
		assert.Empty(t, child.ParentID())
		assert.Empty(t, child.RootID())
		assert.Empty(t, child.ID)
	})

	t.Run("Event tree lists persisted descendants", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return Suspend(event), nil
			}),
			tc.recording("p20", 20))
		root := tc.manager.NewEvent(EventTypeDelete, &person{UID: "root"})
		_, err := tc.manager.Publish(c, root)
		require.NoError(t, err)
		child := tc.manager.NewEvent(EventTypeDelete, &person{UID: "child"})
		_, err = tc.manager.PublishWithParent(c, child, root)
		require.NoError(t, err)

		// when
		tree, err := tc.engine.EventTree(c, root.ID)

		// then
		require.NoError(t, err)
		require.Len(t, tree, 2)
		assert.Equal(t, "root", tree[0].ContentUID)
		assert.Equal(t, "child", tree[1].ContentUID)
		assert.Equal(t, root.ID, tree[1].ParentID)
	})
}

func TestManagerAsynchronous(t *testing.T) {
	asyncConfig := func() Config {
		config := DefaultConfig()
		config.AsynchronousEnabled = true
		config.Retry.Jitter = 0
		return config
	}

	t.Run("Event with normal priority is enqueued", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, asyncConfig())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		event.SetPriority(PriorityNormal)

		// when
		eventContext, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		assert.Empty(t, eventContext.Results())
		assert.Empty(t, tc.invocation.list())
		record := tc.events.Items[event.ID]
		assert.Equal(t, EventStateCreated, record.State)
		assert.Equal(t, mytime.ExampleTime, record.ExecuteDate)
		require.Len(t, tc.queue.Tasks(), 1)
		assert.Equal(t, "/entityevent/"+event.ID+"/resume", tc.queue.Tasks()[0].WebhookURLPath)

		// when
		err = tc.engine.Resume(c, event.ID)

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"p10"}, tc.invocation.list())
		assert.Empty(t, tc.events.Items)
	})

	t.Run("Immediate event is processed synchronously", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, asyncConfig())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		event.SetPriority(PriorityImmediate)

		// when
		eventContext, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		assert.Len(t, eventContext.Results(), 1)
		assert.Empty(t, tc.queue.Tasks())
	})

	t.Run("Failed resumption is rescheduled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, asyncConfig())
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return EventResult[*person]{}, myerrors.NewUnavailableError(errors.New("downstream unavailable"))
			}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		_, err := tc.manager.Enqueue(c, event, nil)
		require.NoError(t, err)

		// when
		err = tc.engine.Resume(c, event.ID)

		// then
		assert.Error(t, err)
		record := tc.events.Items[event.ID]
		assert.Equal(t, EventStateCreated, record.State)
		assert.Equal(t, 1, record.Attempts)
		assert.Contains(t, record.LastError, "downstream unavailable")
		assert.Equal(t, mytime.ExampleTime.Add(30*time.Second), record.ExecuteDate)
		require.Len(t, tc.queue.Tasks(), 2)
		assert.Equal(t, event.ID+"-1", tc.queue.Tasks()[1].UID)
	})

	t.Run("Business error stops retrying", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, asyncConfig())
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return EventResult[*person]{}, myerrors.NewCodedError(http.StatusConflict, "PERSON_INVALID", nil)
			}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		_, err := tc.manager.Enqueue(c, event, nil)
		require.NoError(t, err)

		// when
		err = tc.engine.Resume(c, event.ID)

		// then
		assert.Equal(t, "PERSON_INVALID", myerrors.GetCode(err))
		record := tc.events.Items[event.ID]
		assert.Equal(t, EventStateException, record.State)
		assert.Equal(t, 1, record.Attempts)
		assert.Len(t, tc.queue.Tasks(), 1)
	})

	t.Run("Retries are finite", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		config := asyncConfig()
		config.Retry.MaxAttempts = 2
		tc := setup(t, ctrl, config)
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return EventResult[*person]{}, errors.New("storage timeout")
			}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		_, err := tc.manager.Enqueue(c, event, nil)
		require.NoError(t, err)

		// when
		_ = tc.engine.Resume(c, event.ID)
		_ = tc.engine.Resume(c, event.ID)

		// then
		record := tc.events.Items[event.ID]
		assert.Equal(t, EventStateException, record.State)
		assert.Equal(t, 2, record.Attempts)
	})

	t.Run("Event without content is rejected before it is enqueued", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, asyncConfig())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))

		// when
		eventContext, err := tc.manager.Publish(c, nil)

		// then
		assert.Nil(t, eventContext)
		assert.Equal(t, ErrorCodeContentIsNil, myerrors.GetCode(err))
		assert.Empty(t, tc.queue.Tasks())
		assert.Empty(t, tc.events.Items)
	})
}

func TestManagerConcurrentResume(t *testing.T) {
	t.Run("Concurrent resumption of one event runs the rest of the chain once", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig())
		started := make(chan struct{})
		startedOnce := sync.Once{}
		release := make(chan struct{})
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				return Suspend(event), nil
			}),
			tc.returning("p20", 20, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				startedOnce.Do(func() { close(started) })
				<-release
				return Continue(event), nil
			}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		_, err := tc.manager.Publish(c, event)
		require.NoError(t, err)

		// when
		type outcome struct {
			eventContext *EventContext[*person]
			err          error
		}
		first := make(chan outcome, 1)
		second := make(chan outcome, 1)
		go func() {
			eventContext, err := tc.manager.Resume(c, event.ID)
			first <- outcome{eventContext, err}
		}()
		<-started
		go func() {
			eventContext, err := tc.manager.Resume(c, event.ID)
			second <- outcome{eventContext, err}
		}()
		assert.Eventually(t, func() bool {
			return tc.engine.Lock().WaitingCount() == 1
		}, time.Second, time.Millisecond)
		close(release)
		firstOutcome := <-first
		secondOutcome := <-second

		// then
		require.NoError(t, firstOutcome.err)
		require.NoError(t, secondOutcome.err)
		assert.Equal(t, []int{20}, orders(firstOutcome.eventContext))
		assert.True(t, firstOutcome.eventContext.IsClosed())
		assert.True(t, secondOutcome.eventContext.IsAlreadyProcessed())
		assert.Equal(t, []string{"p10", "p20"}, tc.invocation.list())
		assert.Equal(t, 0, tc.engine.Lock().WaitingCount())
		assert.Empty(t, tc.events.Items)
	})
}

type ctxPendingWritesKey struct{}

type pendingWrite struct {
	uid     string
	record  PersistedEvent
	deleted bool
}

// committedReadEventStore keeps the writes of a unit of work until it commits and only reads what
// is committed, like a datastore transaction.
type committedReadEventStore struct {
	EventStore
}

func withCommittedReads() Option {
	return func(e *Engine) {
		e.store = &committedReadEventStore{EventStore: e.store}
	}
}

func (s *committedReadEventStore) RunInTransaction(c context.Context, f func(c context.Context) error) error {
	if _, ok := c.Value(ctxPendingWritesKey{}).(*[]pendingWrite); ok {
		return f(c)
	}

	writes := &[]pendingWrite{}
	err := f(context.WithValue(c, ctxPendingWritesKey{}, writes))
	if err != nil {
		return err
	}

	for _, write := range *writes {
		if write.deleted {
			err = s.EventStore.Delete(c, write.uid)
		} else {
			err = s.EventStore.Save(c, write.record)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *committedReadEventStore) Save(c context.Context, event PersistedEvent) error {
	if writes, ok := c.Value(ctxPendingWritesKey{}).(*[]pendingWrite); ok {
		*writes = append(*writes, pendingWrite{uid: event.UID, record: event})
		return nil
	}
	return s.EventStore.Save(c, event)
}

func (s *committedReadEventStore) Delete(c context.Context, uid string) error {
	if writes, ok := c.Value(ctxPendingWritesKey{}).(*[]pendingWrite); ok {
		*writes = append(*writes, pendingWrite{uid: uid, deleted: true})
		return nil
	}
	return s.EventStore.Delete(c, uid)
}

func TestManagerCommittedReads(t *testing.T) {
	t.Run("Enqueued events are woken up by a task of their own", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		config := DefaultConfig()
		config.AsynchronousEnabled = true
		tc := setup(t, ctrl, config, withCommittedReads())
		MustRegister(tc.registry, personContentType, tc.recording("p10", 10))
		first := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})
		first.SetPriority(PriorityNormal)
		second := tc.manager.NewEvent(EventTypeCreate, &person{UID: "2"})
		second.SetPriority(PriorityNormal)

		// when
		_, err := tc.manager.Publish(c, first)
		require.NoError(t, err)
		_, err = tc.manager.Publish(c, second)
		require.NoError(t, err)

		// then
		tasks := tc.queue.Tasks()
		require.Len(t, tasks, 2)
		assert.Equal(t, resumePath(first.ID), tasks[0].WebhookURLPath)
		assert.Equal(t, resumePath(second.ID), tasks[1].WebhookURLPath)
		assert.NotEqual(t, tasks[0].UID, tasks[1].UID)
		assert.Equal(t, mytime.ExampleTime, tasks[0].ScheduleAt)
		assert.Equal(t, EventStateCreated, tc.events.Items[first.ID].State)

		// when
		err = tc.engine.ResumeDue(c, first.ID)
		require.NoError(t, err)
		err = tc.engine.ResumeDue(c, second.ID)
		require.NoError(t, err)

		// then
		assert.Equal(t, []string{"p10", "p10"}, tc.invocation.list())
		assert.Empty(t, tc.events.Items)
	})

	t.Run("Suspension with future execute date queues a wake-up", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		// given
		c := context.TODO()
		tc := setup(t, ctrl, DefaultConfig(), withCommittedReads())
		later := mytime.ExampleTime.Add(time.Hour)
		MustRegister(tc.registry, personContentType,
			tc.returning("p10", 10, func(c context.Context, event *EntityEvent[*person]) (EventResult[*person], error) {
				event.SetExecuteDate(later)
				return Suspend(event), nil
			}))
		event := tc.manager.NewEvent(EventTypeCreate, &person{UID: "1"})

		// when
		_, err := tc.manager.Publish(c, event)

		// then
		require.NoError(t, err)
		require.Len(t, tc.queue.Tasks(), 1)
		assert.Equal(t, resumePath(event.ID), tc.queue.Tasks()[0].WebhookURLPath)
		assert.Equal(t, later, tc.queue.Tasks()[0].ScheduleAt)
		assert.Equal(t, later, tc.events.Items[event.ID].ExecuteDate)
	})
}
