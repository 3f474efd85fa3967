package idm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcGrol/idmevents/entityevent"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mystore"
)

const (
	ErrorCodeUsernameExists    = "IDENTITY_USERNAME_EXIST"
	ErrorCodeAccountProtected  = "ACCOUNT_CANNOT_BE_DELETED_IS_PROTECTED"
	ErrorCodeSystemHasAccounts = "SYSTEM_DELETE_FAILED_HAS_ACCOUNTS"
	ErrorCodeRoleHasIdentities = "ROLE_DELETE_FAILED_IDENTITY_ASSIGNED"
	ErrorCodeContentNotFound   = "CONTENT_NOT_FOUND"
)

// entity is implemented by the pointer of every stored domain type.
type entity[T any] interface {
	*T
	entityevent.Content
	setUID(uid string)
	touch(now time.Time)
}

func load[T any](c context.Context, store mystore.Store[T], contentType string, uid string) (T, error) {
	value, found, err := store.Get(c, uid)
	if err != nil {
		return value, myerrors.NewInternalError(err)
	}
	if !found {
		return value, myerrors.NewCodedError(http.StatusNotFound, ErrorCodeContentNotFound, map[string]any{
			"contentType": contentType,
			"uid":         uid,
		})
	}
	return value, nil
}

// saveProcessor stores created and updated content; new content without uid gets one.
func saveProcessor[T any, PT entity[T]](s *Service, contentType string, store mystore.Store[T]) entityevent.Processor[PT] {
	base := entityevent.NewBaseProcessor[PT](contentType+".save", orderPersist, entityevent.EventTypeCreate, entityevent.EventTypeUpdate).NotDisableable()
	return entityevent.NewProcessor(base, func(c context.Context, event *entityevent.EntityEvent[PT]) (entityevent.EventResult[PT], error) {
		content := event.Content
		state := entityevent.OperationStateExecuted
		if content.GetUID() == "" {
			if !event.HasType(entityevent.EventTypeCreate) {
				return entityevent.EventResult[PT]{}, myerrors.NewInvalidInputErrorf("%s to update has no uid", contentType)
			}
			content.setUID(s.uuider.Create())
			state = entityevent.OperationStateCreated
		}
		content.touch(s.nower.Now())

		err := store.Put(c, content.GetUID(), *content)
		if err != nil {
			return entityevent.EventResult[PT]{}, myerrors.NewInternalError(err)
		}

		return entityevent.Continue(event, entityevent.NewOperationResult(state, savedCode(contentType), map[string]any{
			"uid": content.GetUID(),
		})), nil
	})
}

// deleteProcessor removes the dependents returned by cascade before it removes the content itself.
func deleteProcessor[T any, PT entity[T]](s *Service, contentType string, store mystore.Store[T],
	cascade func(c context.Context, event *entityevent.EntityEvent[PT]) ([]entityevent.OperationResult, error)) entityevent.Processor[PT] {
	base := entityevent.NewBaseProcessor[PT](contentType+".delete", orderPersist, entityevent.EventTypeDelete).NotDisableable()
	return entityevent.NewProcessor(base, func(c context.Context, event *entityevent.EntityEvent[PT]) (entityevent.EventResult[PT], error) {
		results := []entityevent.OperationResult{}
		if cascade != nil {
			var err error
			results, err = cascade(c, event)
			if err != nil {
				return entityevent.EventResult[PT]{}, err
			}
		}

		err := store.Delete(c, event.Content.GetUID())
		if err != nil {
			return entityevent.EventResult[PT]{}, myerrors.NewInternalError(err)
		}

		results = append(results, entityevent.NewOperationResult(entityevent.OperationStateExecuted, deletedCode(contentType), map[string]any{
			"uid": event.Content.GetUID(),
		}))
		return entityevent.Continue(event, results...), nil
	})
}

// superOwnerOf is the entity under which the effects of a cascade are reported: the super-owner of
// the parent or else the content of the parent itself.
func superOwnerOf(parent entityevent.Event) string {
	superOwnerID := parent.GetProperties().GetString(entityevent.PropertySuperOwnerID)
	if superOwnerID != "" {
		return superOwnerID
	}
	return parent.GetContentUID()
}

// publishDependent publishes a child event through the manager of its content type, so it runs
// its own chain with its own access check and audit trail.
func publishDependent[T entityevent.Content](c context.Context, m *entityevent.Manager[T], event *entityevent.EntityEvent[T],
	parent entityevent.Event, permission entityevent.Permission) (entityevent.OperationResult, error) {
	event.SetSuperOwnerID(superOwnerOf(parent))

	_, err := m.PublishWithParent(c, event, parent, permission)
	if err != nil {
		return entityevent.NewExceptionResult(err), err
	}

	code := deletedCode(m.ContentType())
	if !event.HasType(entityevent.EventTypeDelete) {
		code = savedCode(m.ContentType())
	}
	return entityevent.NewOperationResult(entityevent.OperationStateExecuted, code, map[string]any{
		"uid": event.GetContentUID(),
	}), nil
}

func savedCode(contentType string) string {
	return fmt.Sprintf("%s_SAVED", strings.ToUpper(contentType))
}

func deletedCode(contentType string) string {
	return fmt.Sprintf("%s_DELETED", strings.ToUpper(contentType))
}

func (i *Identity) setUID(uid string) { i.UID = uid }

func (i *Identity) touch(now time.Time) {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.ModifiedAt = now
}

func (c *Contract) setUID(uid string) { c.UID = uid }

func (c *Contract) touch(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.ModifiedAt = now
}

func (r *Role) setUID(uid string) { r.UID = uid }

func (r *Role) touch(now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.ModifiedAt = now
}

func (r *IdentityRole) setUID(uid string) { r.UID = uid }

func (r *IdentityRole) touch(now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.ModifiedAt = now
}

func (s *System) setUID(uid string) { s.UID = uid }

func (s *System) touch(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.ModifiedAt = now
}

func (a *Account) setUID(uid string) { a.UID = uid }

func (a *Account) touch(now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.ModifiedAt = now
}

func (ia *IdentityAccount) setUID(uid string) { ia.UID = uid }

func (ia *IdentityAccount) touch(now time.Time) {
	if ia.CreatedAt.IsZero() {
		ia.CreatedAt = now
	}
	ia.ModifiedAt = now
}
