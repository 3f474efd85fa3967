package myuuid

import "github.com/google/uuid"

// UUIDer creates the uids of entities, persisted events and business transactions.
//
//go:generate mockgen -source=uuid.go -package myuuid -destination uuid_mock.go UUIDer
type UUIDer interface {
	Create() string
}

type RealUUIDer struct{}

func (u RealUUIDer) Create() string {
	return uuid.New().String()
}
