package entityevent

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/MarcGrol/idmevents/lib/mycontext"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mylog"
	"github.com/MarcGrol/idmevents/lib/myqueue"
	"github.com/MarcGrol/idmevents/lib/mytime"
	"github.com/MarcGrol/idmevents/lib/myuuid"
)

const (
	ErrorCodeNoProcessor         = "EVENT_NO_PROCESSOR"
	ErrorCodeContentTypeMismatch = "EVENT_CONTENT_TYPE_MISMATCH"
	ErrorCodeContentIsNil        = "EVENT_CONTENT_IS_NIL"
	ErrorCodeAccessDenied        = "EVENT_ACCESS_DENIED"
	ErrorCodeNotDue              = "EVENT_NOT_DUE"
)

// resumer continues a persisted event of one content type.
type resumer interface {
	resumeEvent(c context.Context, uid string) error
}

// Engine holds what the managers of all content types share: registry, event store, lock and
// the optional collaborators.
type Engine struct {
	registry   *Registry
	store      EventStore
	nower      mytime.Nower
	uuider     myuuid.UUIDer
	authorizer Authorizer
	auditSink  AuditSink
	queue      myqueue.TaskQueuer
	logger     mylog.Logger
	config     Config
	lock       *Lock

	mutex    sync.RWMutex
	resumers map[string]resumer
}

type Option func(*Engine)

func WithAuthorizer(authorizer Authorizer) Option {
	return func(e *Engine) {
		e.authorizer = authorizer
	}
}

func WithAuditSink(auditSink AuditSink) Option {
	return func(e *Engine) {
		e.auditSink = auditSink
	}
}

// WithQueue lets enqueued events be woken up by a task instead of waiting for the Scheduler.
func WithQueue(queue myqueue.TaskQueuer) Option {
	return func(e *Engine) {
		e.queue = queue
	}
}

func WithLogger(logger mylog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// Use dependency injection to isolate the infrastructure and easy testing
func NewEngine(registry *Registry, store EventStore, nower mytime.Nower, uuider myuuid.UUIDer, options ...Option) *Engine {
	logger := mylog.New("entityevent")
	e := &Engine{
		registry:   registry,
		store:      store,
		nower:      nower,
		uuider:     uuider,
		authorizer: allowAllAuthorizer{},
		logger:     logger,
		config:     DefaultConfig(),
		lock:       NewLock(),
		resumers:   map[string]resumer{},
	}
	e.auditSink = NewLogAuditSink(logger)

	for _, option := range options {
		option(e)
	}
	return e
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) Config() Config {
	return e.config
}

// Lock exposes the lock that guards resumption, for diagnostics.
func (e *Engine) Lock() *Lock {
	return e.lock
}

func (e *Engine) register(contentType string, r resumer) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.resumers[contentType] = r
}

func (e *Engine) resumerFor(contentType string) (resumer, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	r, found := e.resumers[contentType]
	return r, found
}

// Resume continues a persisted event by id, whatever its content type. A failure is recorded on
// the persisted event: it is rescheduled according to the retry policy or marked EXCEPTION.
func (e *Engine) Resume(c context.Context, uid string) error {
	c = AsSystem(c)

	record, found, err := e.store.Load(c, uid)
	if err != nil {
		return myerrors.NewInternalError(err)
	}
	if !found {
		e.logger.Log(c, uid, mylog.SeverityInfo, "Event %s already processed", uid)
		return nil
	}

	r, found := e.resumerFor(record.ContentType)
	if !found {
		return myerrors.NewCodedError(http.StatusInternalServerError, ErrorCodeNoProcessor, map[string]any{
			"contentType": record.ContentType,
		})
	}

	err = r.resumeEvent(c, uid)
	if err != nil {
		recordErr := e.recordFailure(c, uid, err)
		if recordErr != nil {
			e.logger.Log(c, record.ContentUID, mylog.SeverityError, "Error recording failure of event %s: %s", uid, recordErr)
		}
		return err
	}
	return nil
}

// ResumeDue is Resume for an event whose execute date has passed. An event that waits for an
// explicit Resume, e.g. for an approval, is refused.
func (e *Engine) ResumeDue(c context.Context, uid string) error {
	record, found, err := e.store.Load(c, uid)
	if err != nil {
		return myerrors.NewInternalError(err)
	}
	if found && !record.IsDue(e.nower.Now()) {
		return myerrors.NewCodedError(http.StatusConflict, ErrorCodeNotDue, map[string]any{
			"uid":         uid,
			"state":       record.State,
			"executeDate": record.ExecuteDate,
		})
	}
	return e.Resume(c, uid)
}

func (e *Engine) recordFailure(c context.Context, uid string, cause error) error {
	return e.store.RunInTransaction(c, func(c context.Context) error {
		record, found, err := e.store.Load(c, uid)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		now := e.nower.Now()
		record.Attempts++
		record.LastError = cause.Error()
		record.ModifiedAt = now

		retry := e.config.Retry.ShouldRetry(record.Attempts, cause)
		if retry {
			record.ExecuteDate = now.Add(e.config.Retry.NextDelay(record.Attempts))
			e.logger.Log(c, record.ContentUID, mylog.SeverityWarn, "Resuming event %s failed (attempt %d), retry at %s: %s",
				uid, record.Attempts, record.ExecuteDate, cause)
		} else {
			record.State = EventStateException
			e.logger.Log(c, record.ContentUID, mylog.SeverityError, "Resuming event %s failed for good after %d attempts: %s",
				uid, record.Attempts, cause)
		}

		err = e.store.Save(c, record)
		if err != nil {
			return err
		}

		if retry {
			return e.enqueueTask(c, record)
		}
		return nil
	})
}

func (e *Engine) enqueueTask(c context.Context, record PersistedEvent) error {
	if e.queue == nil {
		return nil
	}
	err := e.queue.Enqueue(c, myqueue.Task{
		UID:            fmt.Sprintf("%s-%d", record.UID, record.Attempts),
		WebhookURLPath: resumePath(record.UID),
		Payload:        []byte{},
		ScheduleAt:     record.ExecuteDate,
	})
	if err != nil {
		return fmt.Errorf("error queueing resumption of event %s: %w", record.UID, err)
	}
	return nil
}

// EventTree returns the persisted root event followed by every persisted event that descends
// from it. The actor needs read access to every content type in the tree.
func (e *Engine) EventTree(c context.Context, rootID string) ([]PersistedEvent, error) {
	tree := []PersistedEvent{}

	root, found, err := e.store.Load(c, rootID)
	if err != nil {
		return nil, myerrors.NewInternalError(err)
	}
	if found {
		tree = append(tree, root)
	}

	descendants, err := e.store.FindByRoot(c, rootID)
	if err != nil {
		return nil, myerrors.NewInternalError(err)
	}
	tree = append(tree, descendants...)

	if len(tree) == 0 {
		return nil, myerrors.NewNotFoundError(fmt.Errorf("no events found for root %s", rootID))
	}

	for _, event := range tree {
		allowed, err := e.authorizer.CheckAccess(c, event.ContentType, event, PermissionRead)
		if err != nil {
			return nil, myerrors.NewInternalError(fmt.Errorf("error checking access to %s: %w", event.ContentType, err))
		}
		if !allowed {
			actor, _ := mycontext.Actor(c)
			return nil, myerrors.NewCodedError(http.StatusForbidden, ErrorCodeAccessDenied, map[string]any{
				"contentType": event.ContentType,
				"contentUID":  event.ContentUID,
				"permissions": []Permission{PermissionRead},
				"actor":       actor.Username,
			})
		}
	}
	return tree, nil
}

func (e *Engine) audit(c context.Context, entry AuditEntry) {
	if e.auditSink == nil {
		return
	}
	err := e.auditSink.Audit(c, entry)
	if err != nil {
		e.logger.Log(c, entry.ContentUID, mylog.SeverityError, "Error auditing %s of %s: %s", entry.EventType, entry.ContentUID, err)
	}
}
