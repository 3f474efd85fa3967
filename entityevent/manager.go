package entityevent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcGrol/idmevents/lib/mycontext"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mylog"
)

// Manager dispatches the events of one content type.
type Manager[T Content] struct {
	engine      *Engine
	contentType string
}

// NewManager creates the manager for contentType and makes its events resumable via the Engine.
func NewManager[T Content](engine *Engine, contentType string) *Manager[T] {
	m := &Manager[T]{
		engine:      engine,
		contentType: contentType,
	}
	engine.register(contentType, m)
	return m
}

func (m *Manager[T]) ContentType() string {
	return m.contentType
}

// NewEvent creates an event of this manager's content type.
func (m *Manager[T]) NewEvent(eventType EventType, content T) *EntityEvent[T] {
	event := NewEvent(eventType, content)
	event.ContentType = m.contentType
	return event
}

// Publish checks access, processes the event in a unit of work and audits the outcome.
// When asynchronous dispatch is enabled, events with a priority below IMMEDIATE are enqueued
// instead and the returned context has no results.
func (m *Manager[T]) Publish(c context.Context, event *EntityEvent[T], permissions ...Permission) (*EventContext[T], error) {
	return m.publish(c, event, nil, permissions)
}

// PublishWithParent is Publish for an event that is caused by the parent event.
func (m *Manager[T]) PublishWithParent(c context.Context, event *EntityEvent[T], parent Event, permissions ...Permission) (*EventContext[T], error) {
	return m.publish(c, event, parent, permissions)
}

func (m *Manager[T]) publish(c context.Context, event *EntityEvent[T], parent Event, permissions []Permission) (*EventContext[T], error) {
	var eventContext *EventContext[T]
	err := m.validate(event)
	if err == nil {
		err = m.checkAccess(c, event, permissions)
	}
	if err == nil {
		err = m.engine.store.RunInTransaction(c, func(c context.Context) error {
			if m.isAsynchronous(event) {
				_, err := m.Enqueue(c, event, parent)
				eventContext = &EventContext[T]{}
				return err
			}

			var err error
			eventContext, err = m.ProcessWithParent(c, event, parent)
			return err
		})
	}

	if event != nil {
		m.audit(c, event, err)
	}
	if err != nil {
		return nil, err
	}
	return eventContext, nil
}

func (m *Manager[T]) checkAccess(c context.Context, event *EntityEvent[T], permissions []Permission) error {
	if len(permissions) == 0 {
		return nil
	}
	event.SetPermission(permissions...)

	allowed, err := m.engine.authorizer.CheckAccess(c, m.contentType, event.Content, permissions...)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error checking access to %s: %w", m.contentType, err))
	}
	if !allowed {
		actor, _ := mycontext.Actor(c)
		return myerrors.NewCodedError(http.StatusForbidden, ErrorCodeAccessDenied, map[string]any{
			"contentType": m.contentType,
			"contentUID":  event.GetContentUID(),
			"permissions": permissions,
			"actor":       actor.Username,
		})
	}
	return nil
}

func (m *Manager[T]) isAsynchronous(event *EntityEvent[T]) bool {
	if !m.engine.config.AsynchronousEnabled {
		return false
	}
	priority := event.Priority()
	return priority != "" && priority.rank() < PriorityImmediate.rank()
}

func (m *Manager[T]) audit(c context.Context, event *EntityEvent[T], err error) {
	actor, _ := mycontext.Actor(c)
	m.engine.audit(c, newAuditEntry(c, event, actor.Username, m.engine.nower.Now(), err))
}

// Process runs the chain for the event within the unit of work of the caller.
func (m *Manager[T]) Process(c context.Context, event *EntityEvent[T]) (*EventContext[T], error) {
	return m.ProcessWithParent(c, event, nil)
}

// ProcessWithParent links the event to its parent before running the chain.
func (m *Manager[T]) ProcessWithParent(c context.Context, event *EntityEvent[T], parent Event) (*EventContext[T], error) {
	err := m.validate(event)
	if err != nil {
		return nil, err
	}
	linkToParent(event, parent)

	return m.dispatch(c, event)
}

func (m *Manager[T]) validate(event *EntityEvent[T]) error {
	if event == nil || isNil(event.Content) {
		return myerrors.NewCodedError(http.StatusBadRequest, ErrorCodeContentIsNil, map[string]any{
			"contentType": m.contentType,
		})
	}
	if event.ContentType == "" {
		event.ContentType = m.contentType
	}
	if event.ContentType != m.contentType {
		return myerrors.NewCodedError(http.StatusBadRequest, ErrorCodeContentTypeMismatch, map[string]any{
			"expected": m.contentType,
			"actual":   event.ContentType,
		})
	}
	return nil
}

// linkToParent copies the propagated properties of the parent and, when the parent is persisted,
// makes the event part of the tree of the parent.
func linkToParent[T Content](event *EntityEvent[T], parent Event) {
	if isNil(parent) {
		return
	}

	parentProperties := parent.GetProperties()
	for _, key := range PropagatedProperties {
		value, found := parentProperties.Get(key)
		if found {
			event.Properties.Set(key, value)
		}
	}

	if parent.GetID() == "" {
		return
	}
	event.SetParentID(parent.GetID())
	event.SetParentType(parent.GetType())
	rootID := parentProperties.GetString(PropertyRootID)
	if rootID == "" {
		rootID = parent.GetID()
	}
	event.SetRootID(rootID)
}

func (m *Manager[T]) dispatch(c context.Context, event *EntityEvent[T]) (*EventContext[T], error) {
	if event.TransactionID() == "" {
		transactionID := mycontext.TransactionID(c)
		if transactionID == "" {
			transactionID = m.engine.uuider.Create()
		}
		event.SetTransactionID(transactionID)
	}
	c = mycontext.WithTransactionID(c, event.TransactionID())

	now := m.engine.nower.Now()
	uid := event.GetContentUID()

	if event.ID == "" && event.mustBePersisted() {
		event.ID = m.engine.uuider.Create()
		_, err := m.save(c, event, EventStateRunning)
		if err != nil {
			return nil, err
		}
	}

	processors := Find(m.engine.registry, event)
	if len(processors) == 0 && event.ProcessedOrder == nil {
		return nil, myerrors.NewCodedError(http.StatusInternalServerError, ErrorCodeNoProcessor, map[string]any{
			"contentType": m.contentType,
			"eventType":   event.Type,
		})
	}

	var startAfter *int
	if event.ProcessedOrder != nil {
		order := *event.ProcessedOrder
		startAfter = &order
	}

	eventContext := &EventContext[T]{}
	for _, p := range processors {
		if startAfter != nil && p.Order() <= *startAfter {
			continue
		}
		if !p.Conditional(event) {
			m.engine.logger.Log(c, uid, mylog.SeverityDebug, "Skip processor %s for %s %s", p.Name(), event.Type, m.contentType)
			continue
		}

		m.engine.logger.Log(c, uid, mylog.SeverityDebug, "Start processor %s for %s %s", p.Name(), event.Type, m.contentType)
		result, err := p.Process(c, event)
		if err != nil {
			m.engine.logger.Log(c, uid, mylog.SeverityWarn, "Processor %s failed for %s %s: %s", p.Name(), event.Type, m.contentType, err)
			return nil, err
		}

		if result.Event == nil {
			result.Event = event
		} else if result.Event != event {
			result.Event.ID = event.ID
			event = result.Event
		}
		order := p.Order()
		event.ProcessedOrder = &order
		result.Processor = p.Name()
		result.ProcessedOrder = order
		if p.IsClosable() {
			result.Closed = true
		}
		if result.Closed {
			result.Suspended = false
		}
		eventContext.add(result)

		if result.Closed {
			break
		}

		if result.Suspended {
			err := m.suspend(c, event, now)
			if err != nil {
				return nil, err
			}
			m.engine.logger.Log(c, uid, mylog.SeverityInfo, "Event %s for %s %s suspended after processor %s", event.ID, event.Type, m.contentType, p.Name())
			return eventContext, nil
		}
	}

	event.Closed = true
	event.Suspended = false
	if len(eventContext.results) > 0 {
		eventContext.results[len(eventContext.results)-1].Closed = true
	}

	if event.ID != "" {
		err := m.engine.store.Delete(c, event.ID)
		if err != nil {
			return nil, myerrors.NewInternalError(err)
		}
	}

	return eventContext, nil
}

// suspend persists the suspend point. An execute date that is not in the future was consumed by
// this run and is cleared: the event then waits for an explicit Resume.
func (m *Manager[T]) suspend(c context.Context, event *EntityEvent[T], now time.Time) error {
	event.Suspended = true
	executeDate, found := event.ExecuteDate()
	if found && !executeDate.After(now) {
		event.SetExecuteDate(time.Time{})
	}
	if event.ID == "" {
		event.ID = m.engine.uuider.Create()
	}

	record, err := m.save(c, event, EventStateSuspended)
	if err != nil {
		return err
	}

	if _, found := event.ExecuteDate(); found {
		err = m.engine.enqueueTask(c, record)
		if err != nil {
			return myerrors.NewInternalError(err)
		}
	}
	return nil
}

// save returns the record as written; reads within the unit of work do not see it on datastore.
func (m *Manager[T]) save(c context.Context, event *EntityEvent[T], state EventState) (PersistedEvent, error) {
	record, err := encodeEvent(event, state)
	if err != nil {
		return PersistedEvent{}, myerrors.NewInternalError(err)
	}

	now := m.engine.nower.Now()
	existing, found, err := m.engine.store.Load(c, event.ID)
	if err != nil {
		return PersistedEvent{}, myerrors.NewInternalError(err)
	}
	record.CreatedAt = now
	if found {
		record.CreatedAt = existing.CreatedAt
		record.Attempts = existing.Attempts
		record.LastError = existing.LastError
	}
	record.ModifiedAt = now

	err = m.engine.store.Save(c, record)
	if err != nil {
		return PersistedEvent{}, myerrors.NewInternalError(err)
	}
	return record, nil
}

// Enqueue persists the event for asynchronous dispatch and returns its id. Without an execute
// date the event is due immediately; without a priority it gets NORMAL.
func (m *Manager[T]) Enqueue(c context.Context, event *EntityEvent[T], parent Event) (string, error) {
	err := m.validate(event)
	if err != nil {
		return "", err
	}
	linkToParent(event, parent)

	if event.TransactionID() == "" {
		transactionID := mycontext.TransactionID(c)
		if transactionID == "" {
			transactionID = m.engine.uuider.Create()
		}
		event.SetTransactionID(transactionID)
	}
	if event.Priority() == "" {
		event.SetPriority(PriorityNormal)
	}
	if _, found := event.ExecuteDate(); !found {
		event.SetExecuteDate(m.engine.nower.Now())
	}
	if event.ID == "" {
		event.ID = m.engine.uuider.Create()
	}

	record, err := m.save(c, event, EventStateCreated)
	if err != nil {
		return "", err
	}

	err = m.engine.enqueueTask(c, record)
	if err != nil {
		return "", myerrors.NewInternalError(err)
	}

	m.engine.logger.Log(c, event.GetContentUID(), mylog.SeverityInfo, "Enqueued event %s for %s %s", event.ID, event.Type, m.contentType)

	return event.ID, nil
}

// Resume continues a persisted event after the last processor that completed, in a unit of work
// of its own. Unknown or closed events yield an empty context flagged as already processed.
func (m *Manager[T]) Resume(c context.Context, uid string) (*EventContext[T], error) {
	m.engine.lock.Lock(uid)
	defer m.engine.lock.Unlock(uid)

	var eventContext *EventContext[T]
	var event *EntityEvent[T]
	err := m.engine.store.RunInTransaction(c, func(c context.Context) error {
		record, found, err := m.engine.store.Load(c, uid)
		if err != nil {
			return myerrors.NewInternalError(err)
		}
		if !found || record.Closed {
			eventContext = &EventContext[T]{alreadyProcessed: true}
			return nil
		}
		if record.ContentType != m.contentType {
			return myerrors.NewCodedError(http.StatusBadRequest, ErrorCodeContentTypeMismatch, map[string]any{
				"expected": m.contentType,
				"actual":   record.ContentType,
			})
		}

		event, err = decodeEvent[T](record)
		if err != nil {
			return myerrors.NewInternalError(err)
		}
		event.Suspended = false

		m.engine.logger.Log(c, record.ContentUID, mylog.SeverityInfo, "Resume event %s for %s %s", uid, record.EventType, m.contentType)

		eventContext, err = m.dispatch(c, event)
		return err
	})

	if event != nil {
		m.audit(c, event, err)
	}
	if err != nil {
		return nil, err
	}
	return eventContext, nil
}

func (m *Manager[T]) resumeEvent(c context.Context, uid string) error {
	_, err := m.Resume(c, uid)
	return err
}
