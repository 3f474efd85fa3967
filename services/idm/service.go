package idm

import (
	"context"
	"fmt"

	"github.com/MarcGrol/idmevents/entityevent"
	"github.com/MarcGrol/idmevents/lib/mylog"
	"github.com/MarcGrol/idmevents/lib/mypublisher"
	"github.com/MarcGrol/idmevents/lib/mystore"
	"github.com/MarcGrol/idmevents/lib/mytime"
	"github.com/MarcGrol/idmevents/lib/myuuid"
)

const (
	orderValidate  = -100
	orderProtect   = -50
	orderPersist   = entityevent.DefaultOrder
	orderProvision = 100
)

const (
	// PropertyForceDelete removes an account even when it is in protection.
	PropertyForceDelete = "forceDelete"
	// PropertySkipAccountDelete keeps the account when its last identity-account is removed as part
	// of removing the account itself.
	PropertySkipAccountDelete = "idm:skip-account-delete"
	// PropertySkipProvisioning suppresses the provisioning request of an account change.
	PropertySkipProvisioning = "idm:skip-provisioning"
)

type Stores struct {
	Identities       mystore.Store[Identity]
	Contracts        mystore.Store[Contract]
	Roles            mystore.Store[Role]
	IdentityRoles    mystore.Store[IdentityRole]
	Systems          mystore.Store[System]
	Accounts         mystore.Store[Account]
	IdentityAccounts mystore.Store[IdentityAccount]
}

// NewStores opens a store per entity; the returned func closes them all.
func NewStores(c context.Context) (Stores, func(), error) {
	cleanups := []func(){}
	cleanup := func() {
		for _, f := range cleanups {
			f()
		}
	}

	stores := Stores{}
	var err error
	var f func()

	stores.Identities, f, err = mystore.New[Identity](c)
	if err != nil {
		return Stores{}, cleanup, fmt.Errorf("error creating identity store: %w", err)
	}
	cleanups = append(cleanups, f)

	stores.Contracts, f, err = mystore.New[Contract](c)
	if err != nil {
		return Stores{}, cleanup, fmt.Errorf("error creating contract store: %w", err)
	}
	cleanups = append(cleanups, f)

	stores.Roles, f, err = mystore.New[Role](c)
	if err != nil {
		return Stores{}, cleanup, fmt.Errorf("error creating role store: %w", err)
	}
	cleanups = append(cleanups, f)

	stores.IdentityRoles, f, err = mystore.New[IdentityRole](c)
	if err != nil {
		return Stores{}, cleanup, fmt.Errorf("error creating identity-role store: %w", err)
	}
	cleanups = append(cleanups, f)

	stores.Systems, f, err = mystore.New[System](c)
	if err != nil {
		return Stores{}, cleanup, fmt.Errorf("error creating system store: %w", err)
	}
	cleanups = append(cleanups, f)

	stores.Accounts, f, err = mystore.New[Account](c)
	if err != nil {
		return Stores{}, cleanup, fmt.Errorf("error creating account store: %w", err)
	}
	cleanups = append(cleanups, f)

	stores.IdentityAccounts, f, err = mystore.New[IdentityAccount](c)
	if err != nil {
		return Stores{}, cleanup, fmt.Errorf("error creating identity-account store: %w", err)
	}
	cleanups = append(cleanups, f)

	return stores, cleanup, nil
}

type managers struct {
	identities       *entityevent.Manager[*Identity]
	contracts        *entityevent.Manager[*Contract]
	roles            *entityevent.Manager[*Role]
	identityRoles    *entityevent.Manager[*IdentityRole]
	systems          *entityevent.Manager[*System]
	accounts         *entityevent.Manager[*Account]
	identityAccounts *entityevent.Manager[*IdentityAccount]
}

type Service struct {
	engine      *entityevent.Engine
	stores      Stores
	managers    managers
	provisioner *provisioner
	nower       mytime.Nower
	uuider      myuuid.UUIDer
	logger      mylog.Logger
}

// Use dependency injection to isolate the infrastructure and easy testing
func NewService(engine *entityevent.Engine, stores Stores, publisher mypublisher.Publisher, nower mytime.Nower, uuider myuuid.UUIDer) (*Service, error) {
	s := &Service{
		engine: engine,
		stores: stores,
		managers: managers{
			identities:       entityevent.NewManager[*Identity](engine, ContentTypeIdentity),
			contracts:        entityevent.NewManager[*Contract](engine, ContentTypeContract),
			roles:            entityevent.NewManager[*Role](engine, ContentTypeRole),
			identityRoles:    entityevent.NewManager[*IdentityRole](engine, ContentTypeIdentityRole),
			systems:          entityevent.NewManager[*System](engine, ContentTypeSystem),
			accounts:         entityevent.NewManager[*Account](engine, ContentTypeAccount),
			identityAccounts: entityevent.NewManager[*IdentityAccount](engine, ContentTypeIdentityAccount),
		},
		provisioner: newProvisioner(publisher),
		nower:       nower,
		uuider:      uuider,
		logger:      mylog.New("idm"),
	}

	err := s.registerProcessors(engine.Registry())
	if err != nil {
		return nil, fmt.Errorf("error registering idm processors: %w", err)
	}
	return s, nil
}

// CreateTopics makes sure the topics this service publishes on exist.
func (s *Service) CreateTopics(c context.Context, publisher mypublisher.Publisher) error {
	for _, topic := range []string{ProvisioningTopicName, entityevent.AuditTopicName} {
		err := publisher.CreateTopic(c, topic)
		if err != nil {
			return fmt.Errorf("error creating topic %s: %w", topic, err)
		}
	}
	return nil
}

func (s *Service) registerProcessors(registry *entityevent.Registry) error {
	err := entityevent.Register(registry, ContentTypeIdentity,
		s.identityValidateProcessor(),
		s.identitySaveProcessor(),
		s.identityDeleteProcessor())
	if err != nil {
		return err
	}

	err = entityevent.Register(registry, ContentTypeContract,
		s.contractSaveProcessor(),
		s.contractDeleteProcessor())
	if err != nil {
		return err
	}

	err = entityevent.Register(registry, ContentTypeRole,
		s.roleSaveProcessor(),
		s.roleDeleteValidateProcessor(),
		s.roleDeleteProcessor())
	if err != nil {
		return err
	}

	err = entityevent.Register(registry, ContentTypeIdentityRole,
		s.identityRoleSaveProcessor(),
		s.identityRoleDeleteProcessor())
	if err != nil {
		return err
	}

	err = entityevent.Register(registry, ContentTypeSystem,
		s.systemSaveProcessor(),
		s.systemDeleteValidateProcessor(),
		s.systemDeleteProcessor())
	if err != nil {
		return err
	}

	err = entityevent.Register(registry, ContentTypeAccount,
		s.accountSaveProcessor(),
		s.accountProtectionProcessor(),
		s.accountDeleteProcessor(),
		s.accountProvisionProcessor())
	if err != nil {
		return err
	}

	return entityevent.Register(registry, ContentTypeIdentityAccount,
		s.identityAccountValidateProcessor(),
		s.identityAccountSaveProcessor(),
		s.identityAccountReactivateProcessor(),
		s.identityAccountDeleteProcessor(),
		s.identityAccountOrphanProcessor())
}
