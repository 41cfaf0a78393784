// Package guard provides auth.IdentityGuard implementations that inspect
// account status before an authentication is accepted.
//
// Identities opt into each check by implementing the matching status
// interface; an identity that does not implement an interface passes that
// check.
package guard

import (
	"context"
	"errors"

	"github.com/ggoodman/oauth-bearer-go/auth"
)

var (
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrAccountExpired     = errors.New("account has expired")
	ErrCredentialsExpired = errors.New("credentials have expired")
)

// Locker reports whether an account is locked.
type Locker interface {
	IsLocked() bool
}

// Disabler reports whether an account is disabled.
type Disabler interface {
	IsDisabled() bool
}

// Expirer reports whether an account has expired.
type Expirer interface {
	IsAccountExpired() bool
}

// CredentialsExpirer reports whether an account's credentials have expired.
type CredentialsExpirer interface {
	CredentialsExpired() bool
}

// Default returns the standard pre-authentication checks: locked, then
// disabled, then expired.
func Default() auth.IdentityGuard {
	return auth.IdentityGuardFunc(func(ctx context.Context, id auth.Identity) error {
		if l, ok := id.(Locker); ok && l.IsLocked() {
			return ErrAccountLocked
		}
		if d, ok := id.(Disabler); ok && d.IsDisabled() {
			return ErrAccountDisabled
		}
		if e, ok := id.(Expirer); ok && e.IsAccountExpired() {
			return ErrAccountExpired
		}
		return nil
	})
}

// CredentialsNotExpired rejects identities whose credentials have expired.
func CredentialsNotExpired() auth.IdentityGuard {
	return auth.IdentityGuardFunc(func(ctx context.Context, id auth.Identity) error {
		if c, ok := id.(CredentialsExpirer); ok && c.CredentialsExpired() {
			return ErrCredentialsExpired
		}
		return nil
	})
}

// Chain runs guards in order and returns the first rejection. Nil guards are
// skipped.
func Chain(guards ...auth.IdentityGuard) auth.IdentityGuard {
	gs := make([]auth.IdentityGuard, 0, len(guards))
	for _, g := range guards {
		if g != nil {
			gs = append(gs, g)
		}
	}
	return auth.IdentityGuardFunc(func(ctx context.Context, id auth.Identity) error {
		for _, g := range gs {
			if err := g.CheckPreAuth(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}
