package entityevent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/MarcGrol/idmevents/lib/mystore"
)

type EventState string

const (
	EventStateCreated   EventState = "CREATED"
	EventStateRunning   EventState = "RUNNING"
	EventStateSuspended EventState = "SUSPENDED"
	// EventStateException marks an event whose asynchronous resumption failed for good.
	EventStateException EventState = "EXCEPTION"
)

// PersistedEvent is the stored form of an EntityEvent. Content, original source and properties
// are kept as json, the columns next to it exist to query on.
type PersistedEvent struct {
	UID               string
	ContentType       string
	ContentUID        string
	EventType         EventType
	Content           string `datastore:",noindex"`
	OriginalSource    string `datastore:",noindex"`
	Properties        string `datastore:",noindex"`
	PropertiesVersion int
	State             EventState
	Priority          Priority
	RootID            string
	ParentID          string
	ParentType        EventType
	SuperOwnerID      string
	TransactionID     string
	HasProcessedOrder bool
	ProcessedOrder    int
	Closed            bool
	Suspended         bool
	ExecuteDate       time.Time
	CreatedAt         time.Time
	ModifiedAt        time.Time
	Attempts          int
	LastError         string `datastore:",noindex"`
}

// IsDue tells whether the event waits for its execute date and that date has passed.
func (e PersistedEvent) IsDue(now time.Time) bool {
	if e.State != EventStateCreated && e.State != EventStateSuspended {
		return false
	}
	return !e.ExecuteDate.IsZero() && !e.ExecuteDate.After(now)
}

type EventStore interface {
	mystore.Transactor
	Load(c context.Context, uid string) (PersistedEvent, bool, error)
	Save(c context.Context, event PersistedEvent) error
	Delete(c context.Context, uid string) error
	// FindByRoot returns all events that descend from the given root, oldest first.
	FindByRoot(c context.Context, rootID string) ([]PersistedEvent, error)
	// FindExecutable returns created or suspended events whose execute date has passed,
	// HIGH priority first and then oldest execute date first.
	FindExecutable(c context.Context, now time.Time, limit int) ([]PersistedEvent, error)
}

type eventStore struct {
	store mystore.Store[PersistedEvent]
}

func NewEventStore(store mystore.Store[PersistedEvent]) *eventStore {
	return &eventStore{
		store: store,
	}
}

func (s *eventStore) RunInTransaction(c context.Context, f func(c context.Context) error) error {
	return s.store.RunInTransaction(c, f)
}

func (s *eventStore) Load(c context.Context, uid string) (PersistedEvent, bool, error) {
	event, found, err := s.store.Get(c, uid)
	if err != nil {
		return PersistedEvent{}, false, fmt.Errorf("error loading event %s: %w", uid, err)
	}
	return event, found, nil
}

func (s *eventStore) Save(c context.Context, event PersistedEvent) error {
	err := s.store.Put(c, event.UID, event)
	if err != nil {
		return fmt.Errorf("error saving event %s: %w", event.UID, err)
	}
	return nil
}

func (s *eventStore) Delete(c context.Context, uid string) error {
	err := s.store.Delete(c, uid)
	if err != nil {
		return fmt.Errorf("error deleting event %s: %w", uid, err)
	}
	return nil
}

func (s *eventStore) FindByRoot(c context.Context, rootID string) ([]PersistedEvent, error) {
	events, err := s.store.Query(c, []mystore.Filter{
		{Field: "RootID", Compare: "=", Value: rootID},
	}, "CreatedAt")
	if err != nil {
		return nil, fmt.Errorf("error querying events of root %s: %w", rootID, err)
	}
	return events, nil
}

func (s *eventStore) FindExecutable(c context.Context, now time.Time, limit int) ([]PersistedEvent, error) {
	executable := []PersistedEvent{}
	for _, state := range []EventState{EventStateCreated, EventStateSuspended} {
		events, err := s.store.Query(c, []mystore.Filter{
			{Field: "State", Compare: "=", Value: string(state)},
			{Field: "ExecuteDate", Compare: ">", Value: time.Time{}},
			{Field: "ExecuteDate", Compare: "<=", Value: now},
		}, "ExecuteDate")
		if err != nil {
			return nil, fmt.Errorf("error querying executable events: %w", err)
		}
		executable = append(executable, events...)
	}

	slices.SortStableFunc(executable, func(a, b PersistedEvent) int {
		if a.Priority.rank() != b.Priority.rank() {
			return b.Priority.rank() - a.Priority.rank()
		}
		return a.ExecuteDate.Compare(b.ExecuteDate)
	})

	if limit > 0 && len(executable) > limit {
		executable = executable[:limit]
	}
	return executable, nil
}

func encodeEvent[T Content](event *EntityEvent[T], state EventState) (PersistedEvent, error) {
	content, err := json.Marshal(event.Content)
	if err != nil {
		return PersistedEvent{}, fmt.Errorf("error encoding content of event %s: %w", event.ID, err)
	}

	originalSource := ""
	if event.OriginalSource != nil {
		data, err := json.Marshal(event.OriginalSource)
		if err != nil {
			return PersistedEvent{}, fmt.Errorf("error encoding original source of event %s: %w", event.ID, err)
		}
		originalSource = string(data)
	}

	props := event.Properties.Clone()
	for _, key := range transientProperties {
		props.Remove(key)
	}
	properties, err := json.Marshal(props)
	if err != nil {
		return PersistedEvent{}, fmt.Errorf("error encoding properties of event %s: %w", event.ID, err)
	}

	executeDate, _ := event.ExecuteDate()
	processedOrder := 0
	if event.ProcessedOrder != nil {
		processedOrder = *event.ProcessedOrder
	}

	return PersistedEvent{
		UID:               event.ID,
		ContentType:       event.ContentType,
		ContentUID:        event.GetContentUID(),
		EventType:         event.Type,
		Content:           string(content),
		OriginalSource:    originalSource,
		Properties:        string(properties),
		PropertiesVersion: PropertiesVersion,
		State:             state,
		Priority:          event.Priority(),
		RootID:            event.RootID(),
		ParentID:          event.ParentID(),
		ParentType:        event.ParentType(),
		SuperOwnerID:      event.SuperOwnerID(),
		TransactionID:     event.TransactionID(),
		HasProcessedOrder: event.ProcessedOrder != nil,
		ProcessedOrder:    processedOrder,
		Closed:            event.Closed,
		Suspended:         event.Suspended,
		ExecuteDate:       executeDate,
	}, nil
}

func decodeEvent[T Content](record PersistedEvent) (*EntityEvent[T], error) {
	event := &EntityEvent[T]{
		ID:          record.UID,
		Type:        record.EventType,
		ContentType: record.ContentType,
		Closed:      record.Closed,
		Suspended:   record.Suspended,
		Persistent:  true,
	}

	err := json.Unmarshal([]byte(record.Content), &event.Content)
	if err != nil {
		return nil, fmt.Errorf("error decoding content of event %s: %w", record.UID, err)
	}

	if record.OriginalSource != "" {
		var originalSource T
		err := json.Unmarshal([]byte(record.OriginalSource), &originalSource)
		if err != nil {
			return nil, fmt.Errorf("error decoding original source of event %s: %w", record.UID, err)
		}
		event.OriginalSource = &originalSource
	}

	event.Properties = NewProperties()
	if record.Properties != "" {
		err := json.Unmarshal([]byte(record.Properties), &event.Properties)
		if err != nil {
			return nil, fmt.Errorf("error decoding properties of event %s: %w", record.UID, err)
		}
	}

	if record.HasProcessedOrder {
		processedOrder := record.ProcessedOrder
		event.ProcessedOrder = &processedOrder
	}

	return event, nil
}
