package idm

import (
	"context"
	"net/http"

	"github.com/MarcGrol/idmevents/entityevent"
	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mystore"
)

func (s *Service) roleSaveProcessor() entityevent.Processor[*Role] {
	return saveProcessor[Role](s, ContentTypeRole, s.stores.Roles)
}

// roleDeleteValidateProcessor refuses to remove a role that is still assigned.
func (s *Service) roleDeleteValidateProcessor() entityevent.Processor[*Role] {
	base := entityevent.NewBaseProcessor[*Role]("role.delete.validate", orderValidate, entityevent.EventTypeDelete).NotDisableable()
	return entityevent.NewProcessor(base, func(c context.Context, event *entityevent.EntityEvent[*Role]) (entityevent.EventResult[*Role], error) {
		assigned, err := s.stores.IdentityRoles.Query(c, []mystore.Filter{
			{Field: "RoleUID", Compare: "=", Value: event.Content.UID},
		}, "")
		if err != nil {
			return entityevent.EventResult[*Role]{}, myerrors.NewInternalError(err)
		}
		if len(assigned) > 0 {
			return entityevent.EventResult[*Role]{}, myerrors.NewCodedError(http.StatusConflict, ErrorCodeRoleHasIdentities, map[string]any{
				"role":       event.Content.UID,
				"identities": len(assigned),
			})
		}
		return entityevent.Continue(event), nil
	})
}

func (s *Service) roleDeleteProcessor() entityevent.Processor[*Role] {
	return deleteProcessor[Role](s, ContentTypeRole, s.stores.Roles, nil)
}

func (s *Service) identityRoleSaveProcessor() entityevent.Processor[*IdentityRole] {
	return saveProcessor[IdentityRole](s, ContentTypeIdentityRole, s.stores.IdentityRoles)
}

// identityRoleDeleteProcessor keeps the accounts that were granted through the assignment; their
// links are detached from the assignment instead.
func (s *Service) identityRoleDeleteProcessor() entityevent.Processor[*IdentityRole] {
	return deleteProcessor[IdentityRole](s, ContentTypeIdentityRole, s.stores.IdentityRoles,
		func(c context.Context, event *entityevent.EntityEvent[*IdentityRole]) ([]entityevent.OperationResult, error) {
			identityAccounts, err := s.stores.IdentityAccounts.Query(c, []mystore.Filter{
				{Field: "IdentityRoleUID", Compare: "=", Value: event.Content.UID},
			}, "")
			if err != nil {
				return nil, myerrors.NewInternalError(err)
			}

			results := []entityevent.OperationResult{}
			for _, original := range identityAccounts {
				detached := original
				detached.IdentityRoleUID = ""
				update := entityevent.NewEventWithOriginal(entityevent.EventTypeUpdate, &detached, &original)
				update.ContentType = ContentTypeIdentityAccount

				result, err := publishDependent(c, s.managers.identityAccounts, update, event, entityevent.PermissionUpdate)
				if err != nil {
					return nil, err
				}
				results = append(results, result)
			}
			return results, nil
		})
}
