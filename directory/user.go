// Package directory provides auth.UserDirectory implementations: a static
// in-memory set, a storage-backed store, and a YAML file that is reloaded
// when it changes.
package directory

import (
	"time"

	"github.com/ggoodman/oauth-bearer-go/auth"
	"github.com/ggoodman/oauth-bearer-go/guard"
)

// User is the identity type produced by every directory in this package.
// It satisfies the status interfaces consulted by package guard.
type User struct {
	Key                 string    `json:"key" yaml:"key"`
	RoleList            []string  `json:"roles,omitempty" yaml:"roles,omitempty"`
	Disabled            bool      `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Locked              bool      `json:"locked,omitempty" yaml:"locked,omitempty"`
	AccountExpiresAt    time.Time `json:"account_expires_at,omitzero" yaml:"account_expires_at,omitempty"`
	CredentialsExpireAt time.Time `json:"credentials_expire_at,omitzero" yaml:"credentials_expire_at,omitempty"`
}

var (
	_ auth.Identity            = (*User)(nil)
	_ guard.Locker             = (*User)(nil)
	_ guard.Disabler           = (*User)(nil)
	_ guard.Expirer            = (*User)(nil)
	_ guard.CredentialsExpirer = (*User)(nil)
)

// Roles returns a copy of the user's granted roles.
func (u *User) Roles() []string { return append([]string(nil), u.RoleList...) }

// IsNil lets the authenticator recognise a typed nil *User.
func (u *User) IsNil() bool { return u == nil }

// String returns the user's key.
func (u *User) String() string { return u.Key }

func (u *User) IsLocked() bool   { return u.Locked }
func (u *User) IsDisabled() bool { return u.Disabled }

func (u *User) IsAccountExpired() bool {
	return !u.AccountExpiresAt.IsZero() && !time.Now().Before(u.AccountExpiresAt)
}

func (u *User) CredentialsExpired() bool {
	return !u.CredentialsExpireAt.IsZero() && !time.Now().Before(u.CredentialsExpireAt)
}

func (u User) clone() *User {
	u.RoleList = append([]string(nil), u.RoleList...)
	return &u
}
