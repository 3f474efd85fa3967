package idm

import (
	"context"

	"github.com/MarcGrol/idmevents/entityevent"
	"github.com/MarcGrol/idmevents/lib/mystore"
)

func (s *Service) CreateIdentity(c context.Context, identity Identity) (Identity, error) {
	return create(c, s.managers.identities, identity)
}

func (s *Service) UpdateIdentity(c context.Context, identity Identity) (Identity, error) {
	return update(c, s.managers.identities, s.stores.Identities, identity)
}

// DeleteIdentity removes the identity with its contracts, role assignments and account links.
func (s *Service) DeleteIdentity(c context.Context, uid string) error {
	_, err := remove(c, s.managers.identities, s.stores.Identities, uid, nil)
	return err
}

func (s *Service) CreateContract(c context.Context, contract Contract) (Contract, error) {
	return create(c, s.managers.contracts, contract)
}

func (s *Service) UpdateContract(c context.Context, contract Contract) (Contract, error) {
	return update(c, s.managers.contracts, s.stores.Contracts, contract)
}

func (s *Service) DeleteContract(c context.Context, uid string) error {
	_, err := remove(c, s.managers.contracts, s.stores.Contracts, uid, nil)
	return err
}

func (s *Service) CreateRole(c context.Context, role Role) (Role, error) {
	return create(c, s.managers.roles, role)
}

func (s *Service) UpdateRole(c context.Context, role Role) (Role, error) {
	return update(c, s.managers.roles, s.stores.Roles, role)
}

func (s *Service) DeleteRole(c context.Context, uid string) error {
	_, err := remove(c, s.managers.roles, s.stores.Roles, uid, nil)
	return err
}

func (s *Service) AssignRole(c context.Context, identityRole IdentityRole) (IdentityRole, error) {
	return create(c, s.managers.identityRoles, identityRole)
}

func (s *Service) UnassignRole(c context.Context, uid string) error {
	_, err := remove(c, s.managers.identityRoles, s.stores.IdentityRoles, uid, nil)
	return err
}

func (s *Service) CreateSystem(c context.Context, system System) (System, error) {
	return create(c, s.managers.systems, system)
}

func (s *Service) UpdateSystem(c context.Context, system System) (System, error) {
	return update(c, s.managers.systems, s.stores.Systems, system)
}

func (s *Service) DeleteSystem(c context.Context, uid string) error {
	_, err := remove(c, s.managers.systems, s.stores.Systems, uid, nil)
	return err
}

func (s *Service) CreateAccount(c context.Context, account Account) (Account, error) {
	return create(c, s.managers.accounts, account)
}

func (s *Service) UpdateAccount(c context.Context, account Account) (Account, error) {
	return update(c, s.managers.accounts, s.stores.Accounts, account)
}

// DeleteAccount removes the account, or puts it in protection when its system asks for that. The
// returned account is its final state; force skips the protection.
func (s *Service) DeleteAccount(c context.Context, uid string, force bool) (Account, error) {
	account, err := load(c, s.stores.Accounts, ContentTypeAccount, uid)
	if err != nil {
		return Account{}, err
	}

	eventContext, err := remove(c, s.managers.accounts, s.stores.Accounts, uid, func(event *entityevent.EntityEvent[*Account]) {
		if force {
			event.Properties.Set(PropertyForceDelete, true)
		}
	})
	if err != nil {
		return Account{}, err
	}
	return resultOf(eventContext, account), nil
}

func (s *Service) LinkAccount(c context.Context, identityAccount IdentityAccount) (IdentityAccount, error) {
	return create(c, s.managers.identityAccounts, identityAccount)
}

func (s *Service) UnlinkAccount(c context.Context, uid string) error {
	_, err := remove(c, s.managers.identityAccounts, s.stores.IdentityAccounts, uid, nil)
	return err
}

func create[T any, PT entity[T]](c context.Context, m *entityevent.Manager[PT], content T) (T, error) {
	eventContext, err := m.Publish(c, m.NewEvent(entityevent.EventTypeCreate, PT(&content)), entityevent.PermissionCreate)
	if err != nil {
		var zero T
		return zero, err
	}
	return resultOf(eventContext, content), nil
}

func update[T any, PT entity[T]](c context.Context, m *entityevent.Manager[PT], store mystore.Store[T], content T) (T, error) {
	var zero T
	original, err := load(c, store, m.ContentType(), PT(&content).GetUID())
	if err != nil {
		return zero, err
	}

	event := entityevent.NewEventWithOriginal(entityevent.EventTypeUpdate, PT(&content), PT(&original))
	event.ContentType = m.ContentType()
	eventContext, err := m.Publish(c, event, entityevent.PermissionUpdate)
	if err != nil {
		return zero, err
	}
	return resultOf(eventContext, content), nil
}

// remove publishes a persistent DELETE so that the events of a cascade form one tree.
func remove[T any, PT entity[T]](c context.Context, m *entityevent.Manager[PT], store mystore.Store[T], uid string,
	configure func(event *entityevent.EntityEvent[PT])) (*entityevent.EventContext[PT], error) {
	content, err := load(c, store, m.ContentType(), uid)
	if err != nil {
		return nil, err
	}

	event := m.NewEvent(entityevent.EventTypeDelete, PT(&content))
	event.Persistent = true
	if configure != nil {
		configure(event)
	}
	return m.Publish(c, event, entityevent.PermissionDelete)
}

// resultOf is the content after processing; fallback when the event was only enqueued.
func resultOf[T any, PT entity[T]](eventContext *entityevent.EventContext[PT], fallback T) T {
	if eventContext == nil {
		return fallback
	}
	var content *T = eventContext.Content()
	if content == nil {
		return fallback
	}
	return *content
}
