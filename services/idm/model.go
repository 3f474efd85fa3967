package idm

import (
	"time"
)

const (
	ContentTypeIdentity        = "identity"
	ContentTypeContract        = "contract"
	ContentTypeRole            = "role"
	ContentTypeIdentityRole    = "identityrole"
	ContentTypeSystem          = "system"
	ContentTypeAccount         = "account"
	ContentTypeIdentityAccount = "identityaccount"
)

type Identity struct {
	UID         string
	Username    string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

func (i *Identity) GetUID() string {
	return i.UID
}

type Contract struct {
	UID         string
	IdentityUID string
	Position    string
	ValidFrom   time.Time
	ValidTill   time.Time
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

func (c *Contract) GetUID() string {
	return c.UID
}

type Role struct {
	UID         string
	Name        string
	Description string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

func (r *Role) GetUID() string {
	return r.UID
}

// IdentityRole assigns a role to an identity.
type IdentityRole struct {
	UID         string
	IdentityUID string
	RoleUID     string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

func (r *IdentityRole) GetUID() string {
	return r.UID
}

// SystemProtection configures what happens to accounts of a system on deletion: with protection
// enabled an account is archived for IntervalDays before it is removed. Zero days means forever.
type SystemProtection struct {
	Enabled      bool
	IntervalDays int
}

type System struct {
	UID        string
	Name       string
	Protection SystemProtection
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (s *System) GetUID() string {
	return s.UID
}

// Account lives on a system. An account in protection is archived instead of removed; a zero
// EndOfProtection means it stays in protection until it is reactivated or force-deleted.
type Account struct {
	UID             string
	SystemUID       string
	Name            string
	InProtection    bool
	EndOfProtection time.Time
	CreatedAt       time.Time
	ModifiedAt      time.Time
}

func (a *Account) GetUID() string {
	return a.UID
}

// IsProtectionExpired tells whether a protected account may be removed.
func (a *Account) IsProtectionExpired(now time.Time) bool {
	return a.InProtection && !a.EndOfProtection.IsZero() && !a.EndOfProtection.After(now)
}

// IdentityAccount links an account to an identity, optionally because of a role assignment.
type IdentityAccount struct {
	UID             string
	IdentityUID     string
	AccountUID      string
	Ownership       bool
	IdentityRoleUID string
	CreatedAt       time.Time
	ModifiedAt      time.Time
}

func (ia *IdentityAccount) GetUID() string {
	return ia.UID
}
