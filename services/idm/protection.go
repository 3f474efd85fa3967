package idm

import (
	"context"
	"errors"
	"time"

	"github.com/MarcGrol/idmevents/entityevent"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mylog"
	"github.com/MarcGrol/idmevents/lib/mystore"
)

// RemoveExpiredProtection force-deletes the accounts whose protection has ended. Every account is
// removed in a unit of work of its own; failures are reported together after all accounts were tried.
func (s *Service) RemoveExpiredProtection(c context.Context) (int, error) {
	c = entityevent.AsSystem(c)
	now := s.nower.Now()

	accounts, err := s.stores.Accounts.Query(c, []mystore.Filter{
		{Field: "InProtection", Compare: "=", Value: true},
	}, "EndOfProtection")
	if err != nil {
		return 0, myerrors.NewInternalError(err)
	}

	removed := 0
	errs := []error{}
	for _, account := range accounts {
		if !account.IsProtectionExpired(now) {
			continue
		}

		event := s.managers.accounts.NewEvent(entityevent.EventTypeDelete, &account)
		event.Properties.Set(PropertyForceDelete, true)
		event.Persistent = true
		_, err := s.managers.accounts.Publish(c, event, entityevent.PermissionDelete)
		if err != nil {
			s.logger.Log(c, account.UID, mylog.SeverityError, "Error removing account %s with expired protection: %s", account.UID, err)
			errs = append(errs, err)
			continue
		}
		removed++
	}

	s.logger.Log(c, "", mylog.SeverityInfo, "Removed %d accounts with expired protection", removed)

	return removed, errors.Join(errs...)
}

// Reactivate takes an account out of protection.
func (s *Service) Reactivate(c context.Context, accountUID string) (Account, error) {
	account, err := load(c, s.stores.Accounts, ContentTypeAccount, accountUID)
	if err != nil {
		return Account{}, err
	}
	if !account.InProtection {
		return account, nil
	}

	eventContext, err := s.managers.accounts.Publish(c, reactivationEvent(s.managers.accounts, account), entityevent.PermissionUpdate)
	if err != nil {
		return Account{}, err
	}
	return resultOf(eventContext, account), nil
}

// reactivate is Reactivate as a consequence of parent.
func (s *Service) reactivate(c context.Context, account Account, parent entityevent.Event) (entityevent.OperationResult, error) {
	return publishDependent(c, s.managers.accounts, reactivationEvent(s.managers.accounts, account), parent, entityevent.PermissionUpdate)
}

func reactivationEvent(m *entityevent.Manager[*Account], account Account) *entityevent.EntityEvent[*Account] {
	original := account
	account.InProtection = false
	account.EndOfProtection = time.Time{}

	event := entityevent.NewEventWithOriginal(entityevent.EventTypeUpdate, &account, &original)
	event.ContentType = m.ContentType()
	return event
}
