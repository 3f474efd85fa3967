package idm

import (
	"context"
	"net/http"

	"github.com/MarcGrol/idmevents/entityevent"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mystore"
)

func (s *Service) identityValidateProcessor() entityevent.Processor[*Identity] {
	base := entityevent.NewBaseProcessor[*Identity]("identity.validate", orderValidate, entityevent.EventTypeCreate, entityevent.EventTypeUpdate).NotDisableable()
	return entityevent.NewProcessor(base, func(c context.Context, event *entityevent.EntityEvent[*Identity]) (entityevent.EventResult[*Identity], error) {
		identity := event.Content
		if identity.Username == "" {
			return entityevent.EventResult[*Identity]{}, myerrors.NewInvalidInputErrorf("identity has no username")
		}

		existing, err := s.stores.Identities.Query(c, []mystore.Filter{
			{Field: "Username", Compare: "=", Value: identity.Username},
		}, "")
		if err != nil {
			return entityevent.EventResult[*Identity]{}, myerrors.NewInternalError(err)
		}
		for _, other := range existing {
			if other.UID != identity.UID {
				return entityevent.EventResult[*Identity]{}, myerrors.NewCodedError(http.StatusConflict, ErrorCodeUsernameExists, map[string]any{
					"username": identity.Username,
				})
			}
		}

		return entityevent.Continue(event), nil
	})
}

func (s *Service) identitySaveProcessor() entityevent.Processor[*Identity] {
	return saveProcessor[Identity](s, ContentTypeIdentity, s.stores.Identities)
}

// identityDeleteProcessor removes everything that belongs to the identity, leaf first: its
// accounts links, role assignments and contracts.
func (s *Service) identityDeleteProcessor() entityevent.Processor[*Identity] {
	return deleteProcessor[Identity](s, ContentTypeIdentity, s.stores.Identities,
		func(c context.Context, event *entityevent.EntityEvent[*Identity]) ([]entityevent.OperationResult, error) {
			uid := event.Content.UID
			results := []entityevent.OperationResult{}
			byIdentity := []mystore.Filter{{Field: "IdentityUID", Compare: "=", Value: uid}}

			identityAccounts, err := s.stores.IdentityAccounts.Query(c, byIdentity, "")
			if err != nil {
				return nil, myerrors.NewInternalError(err)
			}
			for _, ia := range identityAccounts {
				result, err := publishDependent(c, s.managers.identityAccounts,
					s.managers.identityAccounts.NewEvent(entityevent.EventTypeDelete, &ia), event, entityevent.PermissionDelete)
				if err != nil {
					return nil, err
				}
				results = append(results, result)
			}

			identityRoles, err := s.stores.IdentityRoles.Query(c, byIdentity, "")
			if err != nil {
				return nil, myerrors.NewInternalError(err)
			}
			for _, ir := range identityRoles {
				result, err := publishDependent(c, s.managers.identityRoles,
					s.managers.identityRoles.NewEvent(entityevent.EventTypeDelete, &ir), event, entityevent.PermissionDelete)
				if err != nil {
					return nil, err
				}
				results = append(results, result)
			}

			contracts, err := s.stores.Contracts.Query(c, byIdentity, "")
			if err != nil {
				return nil, myerrors.NewInternalError(err)
			}
			for _, contract := range contracts {
				result, err := publishDependent(c, s.managers.contracts,
					s.managers.contracts.NewEvent(entityevent.EventTypeDelete, &contract), event, entityevent.PermissionDelete)
				if err != nil {
					return nil, err
				}
				results = append(results, result)
			}

			return results, nil
		})
}

func (s *Service) contractSaveProcessor() entityevent.Processor[*Contract] {
	return saveProcessor[Contract](s, ContentTypeContract, s.stores.Contracts)
}

func (s *Service) contractDeleteProcessor() entityevent.Processor[*Contract] {
	return deleteProcessor[Contract](s, ContentTypeContract, s.stores.Contracts, nil)
}
