package entityevent

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcGrol/idmevents/lib/mycontext"
)

// AuthorityAdmin grants every permission on every content type.
const AuthorityAdmin = "APP_ADMIN"

// SystemActor runs the work nobody asked for directly: resumed events and scheduled tasks.
var SystemActor = mycontext.Principal{
	Username:    "system",
	Authorities: []string{AuthorityAdmin},
}

// AsSystem runs as SystemActor unless the context already carries an actor.
func AsSystem(c context.Context) context.Context {
	if _, found := mycontext.Actor(c); found {
		return c
	}
	return mycontext.WithActor(c, SystemActor)
}

//go:generate mockgen -source=authorization.go -package entityevent -destination authorization_mock.go Authorizer
type Authorizer interface {
	// CheckAccess tells whether the actor in the context holds all the given permissions on content.
	CheckAccess(c context.Context, contentType string, content any, permissions ...Permission) (bool, error)
}

type allowAllAuthorizer struct{}

func (a allowAllAuthorizer) CheckAccess(c context.Context, contentType string, content any, permissions ...Permission) (bool, error) {
	return true, nil
}

// AuthorityAuthorizer grants access based on the authorities of the actor in the context: the
// admin authority or one authority per permission, formatted as <CONTENTTYPE>_<PERMISSION>.
type AuthorityAuthorizer struct{}

func NewAuthorityAuthorizer() *AuthorityAuthorizer {
	return &AuthorityAuthorizer{}
}

func (a *AuthorityAuthorizer) CheckAccess(c context.Context, contentType string, content any, permissions ...Permission) (bool, error) {
	actor, found := mycontext.Actor(c)
	if !found {
		return false, nil
	}
	if actor.HasAuthority(AuthorityAdmin) {
		return true, nil
	}
	for _, permission := range permissions {
		if !actor.HasAuthority(authorityFor(contentType, permission)) {
			return false, nil
		}
	}
	return true, nil
}

func authorityFor(contentType string, permission Permission) string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(contentType), permission)
}
