package idm

import (
	"context"
	"net/http"
	"time"

	"github.com/MarcGrol/idmevents/entityevent"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mylog"
	"github.com/MarcGrol/idmevents/lib/mystore"
)

func (s *Service) systemSaveProcessor() entityevent.Processor[*System] {
	return saveProcessor[System](s, ContentTypeSystem, s.stores.Systems)
}

// systemDeleteValidateProcessor refuses to remove a system that still has accounts, whether they
// are active or in protection.
func (s *Service) systemDeleteValidateProcessor() entityevent.Processor[*System] {
	base := entityevent.NewBaseProcessor[*System]("system.delete.validate", orderValidate, entityevent.EventTypeDelete).NotDisableable()
	return entityevent.NewProcessor(base, func(c context.Context, event *entityevent.EntityEvent[*System]) (entityevent.EventResult[*System], error) {
		accounts, err := s.stores.Accounts.Query(c, []mystore.Filter{
			{Field: "SystemUID", Compare: "=", Value: event.Content.UID},
		}, "")
		if err != nil {
			return entityevent.EventResult[*System]{}, myerrors.NewInternalError(err)
		}
		if len(accounts) > 0 {
			return entityevent.EventResult[*System]{}, myerrors.NewCodedError(http.StatusConflict, ErrorCodeSystemHasAccounts, map[string]any{
				"system":   event.Content.UID,
				"accounts": len(accounts),
			})
		}
		return entityevent.Continue(event), nil
	})
}

func (s *Service) systemDeleteProcessor() entityevent.Processor[*System] {
	return deleteProcessor[System](s, ContentTypeSystem, s.stores.Systems, nil)
}

func (s *Service) accountSaveProcessor() entityevent.Processor[*Account] {
	return saveProcessor[Account](s, ContentTypeAccount, s.stores.Accounts)
}

// accountProtectionProcessor turns the removal of an account of a protected system into an
// archive: the account is put in protection and the chain is closed before anything is deleted.
func (s *Service) accountProtectionProcessor() entityevent.Processor[*Account] {
	base := entityevent.NewBaseProcessor[*Account]("account.protection", orderProtect, entityevent.EventTypeDelete)
	return entityevent.NewProcessor(base, func(c context.Context, event *entityevent.EntityEvent[*Account]) (entityevent.EventResult[*Account], error) {
		account := event.Content
		if event.Properties.GetBool(PropertyForceDelete) {
			return entityevent.Continue(event), nil
		}

		now := s.nower.Now()
		if account.InProtection {
			if account.IsProtectionExpired(now) {
				return entityevent.Continue(event), nil
			}
			return entityevent.EventResult[*Account]{}, myerrors.NewCodedError(http.StatusConflict, ErrorCodeAccountProtected, map[string]any{
				"account":         account.UID,
				"endOfProtection": account.EndOfProtection,
			})
		}

		system, found, err := s.stores.Systems.Get(c, account.SystemUID)
		if err != nil {
			return entityevent.EventResult[*Account]{}, myerrors.NewInternalError(err)
		}
		if !found || !system.Protection.Enabled {
			return entityevent.Continue(event), nil
		}

		original := *account
		protected := *account
		protected.InProtection = true
		protected.EndOfProtection = time.Time{}
		if system.Protection.IntervalDays > 0 {
			protected.EndOfProtection = now.AddDate(0, 0, system.Protection.IntervalDays)
		}

		update := entityevent.NewEventWithOriginal(entityevent.EventTypeUpdate, &protected, &original)
		update.ContentType = ContentTypeAccount
		update.Properties.Set(PropertySkipProvisioning, true)
		result, err := publishDependent(c, s.managers.accounts, update, event, entityevent.PermissionUpdate)
		if err != nil {
			return entityevent.EventResult[*Account]{}, err
		}

		err = s.provisioner.provision(c, ProvisioningArchive, protected, event.TransactionID())
		if err != nil {
			return entityevent.EventResult[*Account]{}, myerrors.NewInternalError(err)
		}

		s.logger.Log(c, account.UID, mylog.SeverityInfo, "Account %s put in protection until %s", account.UID, protected.EndOfProtection)

		event.Content = &protected
		return entityevent.Close(event,
			result,
			entityevent.NewOperationResult(entityevent.OperationStateCreated, "ACCOUNT_PROTECTED", map[string]any{
				"uid":             protected.UID,
				"endOfProtection": protected.EndOfProtection,
			})), nil
	})
}

// accountDeleteProcessor removes the links of the account before the account itself. The links
// must not trigger a second removal of the account.
func (s *Service) accountDeleteProcessor() entityevent.Processor[*Account] {
	return deleteProcessor[Account](s, ContentTypeAccount, s.stores.Accounts,
		func(c context.Context, event *entityevent.EntityEvent[*Account]) ([]entityevent.OperationResult, error) {
			identityAccounts, err := s.stores.IdentityAccounts.Query(c, []mystore.Filter{
				{Field: "AccountUID", Compare: "=", Value: event.Content.UID},
			}, "")
			if err != nil {
				return nil, myerrors.NewInternalError(err)
			}

			results := []entityevent.OperationResult{}
			for _, ia := range identityAccounts {
				child := s.managers.identityAccounts.NewEvent(entityevent.EventTypeDelete, &ia)
				child.Properties.Set(PropertySkipAccountDelete, true)
				result, err := publishDependent(c, s.managers.identityAccounts, child, event, entityevent.PermissionDelete)
				if err != nil {
					return nil, err
				}
				results = append(results, result)
			}
			return results, nil
		})
}

var provisioningOperations = map[entityevent.EventType]ProvisioningOperation{
	entityevent.EventTypeCreate: ProvisioningCreate,
	entityevent.EventTypeUpdate: ProvisioningUpdate,
	entityevent.EventTypeDelete: ProvisioningDelete,
}

// accountProvisionProcessor requests the connector of the system to apply the account change.
func (s *Service) accountProvisionProcessor() entityevent.Processor[*Account] {
	base := entityevent.NewBaseProcessor[*Account]("account.provision", orderProvision,
		entityevent.EventTypeCreate, entityevent.EventTypeUpdate, entityevent.EventTypeDelete)
	return entityevent.NewConditionalProcessor(base,
		func(event *entityevent.EntityEvent[*Account]) bool {
			return !event.Properties.GetBool(PropertySkipProvisioning)
		},
		func(c context.Context, event *entityevent.EntityEvent[*Account]) (entityevent.EventResult[*Account], error) {
			operation := provisioningOperations[event.Type]
			err := s.provisioner.provision(c, operation, *event.Content, event.TransactionID())
			if err != nil {
				return entityevent.EventResult[*Account]{}, myerrors.NewInternalError(err)
			}
			return entityevent.Continue(event, entityevent.NewOperationResult(entityevent.OperationStateCreated, "PROVISIONING_REQUESTED", map[string]any{
				"uid":       event.Content.UID,
				"operation": operation,
			})), nil
		})
}

// identityAccountValidateProcessor makes sure both ends of a new link exist.
func (s *Service) identityAccountValidateProcessor() entityevent.Processor[*IdentityAccount] {
	base := entityevent.NewBaseProcessor[*IdentityAccount]("identityaccount.validate", orderValidate, entityevent.EventTypeCreate).NotDisableable()
	return entityevent.NewProcessor(base, func(c context.Context, event *entityevent.EntityEvent[*IdentityAccount]) (entityevent.EventResult[*IdentityAccount], error) {
		_, err := load(c, s.stores.Identities, ContentTypeIdentity, event.Content.IdentityUID)
		if err != nil {
			return entityevent.EventResult[*IdentityAccount]{}, err
		}
		_, err = load(c, s.stores.Accounts, ContentTypeAccount, event.Content.AccountUID)
		if err != nil {
			return entityevent.EventResult[*IdentityAccount]{}, err
		}
		return entityevent.Continue(event), nil
	})
}

func (s *Service) identityAccountSaveProcessor() entityevent.Processor[*IdentityAccount] {
	return saveProcessor[IdentityAccount](s, ContentTypeIdentityAccount, s.stores.IdentityAccounts)
}

// identityAccountReactivateProcessor takes an account out of protection when it gets an owner again.
func (s *Service) identityAccountReactivateProcessor() entityevent.Processor[*IdentityAccount] {
	base := entityevent.NewBaseProcessor[*IdentityAccount]("identityaccount.reactivate", orderProvision, entityevent.EventTypeCreate)
	return entityevent.NewConditionalProcessor(base,
		func(event *entityevent.EntityEvent[*IdentityAccount]) bool {
			return event.Content.Ownership
		},
		func(c context.Context, event *entityevent.EntityEvent[*IdentityAccount]) (entityevent.EventResult[*IdentityAccount], error) {
			account, err := load(c, s.stores.Accounts, ContentTypeAccount, event.Content.AccountUID)
			if err != nil {
				return entityevent.EventResult[*IdentityAccount]{}, err
			}
			if !account.InProtection {
				return entityevent.Continue(event), nil
			}

			result, err := s.reactivate(c, account, event)
			if err != nil {
				return entityevent.EventResult[*IdentityAccount]{}, err
			}
			return entityevent.Continue(event, result), nil
		})
}

func (s *Service) identityAccountDeleteProcessor() entityevent.Processor[*IdentityAccount] {
	return deleteProcessor[IdentityAccount](s, ContentTypeIdentityAccount, s.stores.IdentityAccounts, nil)
}

// identityAccountOrphanProcessor removes the account once its last owner is gone. Accounts that are
// in protection already stay there until their protection ends.
func (s *Service) identityAccountOrphanProcessor() entityevent.Processor[*IdentityAccount] {
	base := entityevent.NewBaseProcessor[*IdentityAccount]("identityaccount.orphan", orderProvision, entityevent.EventTypeDelete)
	return entityevent.NewConditionalProcessor(base,
		func(event *entityevent.EntityEvent[*IdentityAccount]) bool {
			return event.Content.Ownership && !event.Properties.GetBool(PropertySkipAccountDelete)
		},
		func(c context.Context, event *entityevent.EntityEvent[*IdentityAccount]) (entityevent.EventResult[*IdentityAccount], error) {
			link := event.Content
			owners, err := s.stores.IdentityAccounts.Query(c, []mystore.Filter{
				{Field: "AccountUID", Compare: "=", Value: link.AccountUID},
				{Field: "Ownership", Compare: "=", Value: true},
			}, "")
			if err != nil {
				return entityevent.EventResult[*IdentityAccount]{}, myerrors.NewInternalError(err)
			}
			for _, owner := range owners {
				// queries within a transaction do not see its own writes on datastore
				if owner.UID != link.UID {
					return entityevent.Continue(event), nil
				}
			}

			account, found, err := s.stores.Accounts.Get(c, link.AccountUID)
			if err != nil {
				return entityevent.EventResult[*IdentityAccount]{}, myerrors.NewInternalError(err)
			}
			if !found || account.InProtection {
				return entityevent.Continue(event), nil
			}

			child := s.managers.accounts.NewEvent(entityevent.EventTypeDelete, &account)
			result, err := publishDependent(c, s.managers.accounts, child, event, entityevent.PermissionDelete)
			if err != nil {
				return entityevent.EventResult[*IdentityAccount]{}, err
			}
			return entityevent.Continue(event, result), nil
		})
}
