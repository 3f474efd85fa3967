// Package entityevent dispatches entity events through ordered chains of processors.
//
// Every write operation on a domain entity is published as an EntityEvent. The Manager for the
// content type selects the registered processors that support the event, runs them in ascending
// order and returns an EventContext with a result per processor. A chain can be closed early,
// suspended between two processors (the event is then persisted) and resumed later, possibly by
// the Scheduler on a worker pool.
package entityevent

import (
	"reflect"
	"time"
)

type EventType string

const (
	EventTypeCreate EventType = "CREATE"
	EventTypeUpdate EventType = "UPDATE"
	EventTypeDelete EventType = "DELETE"
	EventTypeNotify EventType = "NOTIFY"
)

// Priority is a hint for asynchronous dispatch; it has no influence on the processor order.
type Priority string

const (
	PriorityNormal    Priority = "NORMAL"
	PriorityHigh      Priority = "HIGH"
	PriorityImmediate Priority = "IMMEDIATE"
)

func (p Priority) rank() int {
	switch p {
	case PriorityImmediate:
		return 2
	case PriorityHigh:
		return 1
	}
	return 0
}

type Permission string

const (
	PermissionRead   Permission = "READ"
	PermissionCreate Permission = "CREATE"
	PermissionUpdate Permission = "UPDATE"
	PermissionDelete Permission = "DELETE"
)

// Content is the payload of an event, typically a domain entity.
type Content interface {
	GetUID() string
}

// Event is the content-type independent view on an EntityEvent, used to link child events to
// their parent and to report on events.
type Event interface {
	GetID() string
	GetType() EventType
	GetContentType() string
	GetContentUID() string
	GetProperties() *Properties
}

type EntityEvent[T Content] struct {
	// ID is set once the event is persisted; empty for transient events.
	ID          string
	Type        EventType
	ContentType string
	Content     T
	// OriginalSource is the content before the operation, nil when unknown.
	OriginalSource *T
	Properties     Properties
	// ProcessedOrder is the order of the last completed processor, nil when not started.
	ProcessedOrder *int
	Closed         bool
	Suspended      bool
	// Persistent requests the event to be stored even without parent or suspension.
	Persistent bool
}

func NewEvent[T Content](eventType EventType, content T) *EntityEvent[T] {
	return &EntityEvent[T]{
		Type:       eventType,
		Content:    content,
		Properties: NewProperties(),
	}
}

func NewEventWithOriginal[T Content](eventType EventType, content T, originalSource T) *EntityEvent[T] {
	event := NewEvent(eventType, content)
	event.OriginalSource = &originalSource
	return event
}

func (e *EntityEvent[T]) GetID() string {
	return e.ID
}

func (e *EntityEvent[T]) GetType() EventType {
	return e.Type
}

func (e *EntityEvent[T]) GetContentType() string {
	return e.ContentType
}

func (e *EntityEvent[T]) GetContentUID() string {
	if isNil(e.Content) {
		return ""
	}
	return e.Content.GetUID()
}

func (e *EntityEvent[T]) GetProperties() *Properties {
	return &e.Properties
}

func (e *EntityEvent[T]) HasType(eventType EventType) bool {
	return e.Type == eventType
}

func (e *EntityEvent[T]) HasPriority(priority Priority) bool {
	return e.Priority() == priority
}

func (e *EntityEvent[T]) IsRunning() bool {
	return !e.Closed && !e.Suspended
}

func (e *EntityEvent[T]) Priority() Priority {
	return Priority(e.Properties.GetString(PropertyPriority))
}

func (e *EntityEvent[T]) SetPriority(priority Priority) {
	e.Properties.Set(PropertyPriority, priority)
}

func (e *EntityEvent[T]) RootID() string {
	return e.Properties.GetString(PropertyRootID)
}

func (e *EntityEvent[T]) SetRootID(rootID string) {
	e.Properties.Set(PropertyRootID, rootID)
}

func (e *EntityEvent[T]) ParentID() string {
	return e.Properties.GetString(PropertyParentID)
}

func (e *EntityEvent[T]) SetParentID(parentID string) {
	e.Properties.Set(PropertyParentID, parentID)
}

func (e *EntityEvent[T]) ParentType() EventType {
	return EventType(e.Properties.GetString(PropertyParentType))
}

func (e *EntityEvent[T]) SetParentType(parentType EventType) {
	e.Properties.Set(PropertyParentType, parentType)
}

func (e *EntityEvent[T]) SuperOwnerID() string {
	return e.Properties.GetString(PropertySuperOwnerID)
}

func (e *EntityEvent[T]) SetSuperOwnerID(superOwnerID string) {
	e.Properties.Set(PropertySuperOwnerID, superOwnerID)
}

func (e *EntityEvent[T]) TransactionID() string {
	return e.Properties.GetString(PropertyTransactionID)
}

func (e *EntityEvent[T]) SetTransactionID(transactionID string) {
	e.Properties.Set(PropertyTransactionID, transactionID)
}

func (e *EntityEvent[T]) ExecuteDate() (time.Time, bool) {
	return e.Properties.GetTime(PropertyExecuteDate)
}

func (e *EntityEvent[T]) SetExecuteDate(executeDate time.Time) {
	if executeDate.IsZero() {
		e.Properties.Remove(PropertyExecuteDate)
		return
	}
	e.Properties.Set(PropertyExecuteDate, executeDate)
}

func (e *EntityEvent[T]) Permission() []Permission {
	result := []Permission{}
	for _, p := range e.Properties.GetStrings(PropertyPermission) {
		result = append(result, Permission(p))
	}
	return result
}

func (e *EntityEvent[T]) SetPermission(permission ...Permission) {
	if len(permission) == 0 {
		e.Properties.Remove(PropertyPermission)
		return
	}
	e.Properties.Set(PropertyPermission, permission)
}

func (e *EntityEvent[T]) mustBePersisted() bool {
	return e.Persistent || e.RootID() != "" || e.ParentID() != "" || e.Suspended
}

func isNil(content any) bool {
	if content == nil {
		return true
	}
	v := reflect.ValueOf(content)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
