package auth

import (
	"context"
	"time"
)

// Credential is the unauthenticated bearer credential extracted by a
// transport from an incoming request. It is immutable once constructed.
type Credential struct {
	token string
}

// NewCredential wraps a raw bearer token string.
func NewCredential(token string) Credential { return Credential{token: token} }

// Token returns the raw bearer token string.
func (c Credential) Token() string { return c.token }

// TokenRecord is the result of verifying an access token.
//
// Scope is never "nil": an empty string and "no scopes" are the same state.
// An empty IdentityKey means the token has no owning identity (for example a
// client-credentials grant).
type TokenRecord struct {
	IdentityKey string
	Scope       string
	ClientID    string
	// ExpiresAt is owned by the verifier. The authenticator never inspects it.
	ExpiresAt time.Time
}

// HasIdentity reports whether the record references an identity.
func (r *TokenRecord) HasIdentity() bool { return r.IdentityKey != "" }

// Identity is a resolved principal. The only capability the authenticator
// relies on is an ordered role list.
type Identity interface {
	Roles() []string
}

// AuthenticatedCredential is produced by a successful authentication. It is
// always authenticated; failures are reported as errors instead.
type AuthenticatedCredential struct {
	token    string
	identity Identity
	roles    []string
}

// Token returns the original bearer token string supplied by the caller.
func (c *AuthenticatedCredential) Token() string { return c.token }

// Identity returns the resolved identity, or nil for tokens without an
// owning identity.
func (c *AuthenticatedCredential) Identity() Identity { return c.identity }

// Roles returns a copy of the derived role list in order.
func (c *AuthenticatedCredential) Roles() []string {
	return append([]string{}, c.roles...)
}

// IsAuthenticated always returns true.
func (c *AuthenticatedCredential) IsAuthenticated() bool { return true }

// HasRole reports whether role appears in the derived role list.
func (c *AuthenticatedCredential) HasRole(role string) bool {
	for _, r := range c.roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenVerifier resolves and validates an access token. Unknown, malformed
// or expired tokens are reported either as (nil, nil) or as an error matching
// ErrInvalidToken. Any other error is treated as a transport failure and
// returned to the caller untouched.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*TokenRecord, error)
}

// UserDirectory loads an identity by its opaque key. A miss must be reported
// with an error matching ErrIdentityNotFound.
//
// A nil identity with a nil error is treated as a failed resolution. Pointer
// identity types should implement IsNil() bool so that a typed nil is
// recognised too.
type UserDirectory interface {
	LoadIdentity(ctx context.Context, key string) (Identity, error)
}

// IdentityGuard runs pre-authentication account checks (disabled, locked,
// ...). A non-nil error is the rejection reason.
type IdentityGuard interface {
	CheckPreAuth(ctx context.Context, identity Identity) error
}

// Authenticator turns an unauthenticated credential into an authenticated one.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (*AuthenticatedCredential, error)
}

// TokenVerifierFunc adapts a function to the TokenVerifier interface.
type TokenVerifierFunc func(ctx context.Context, token string) (*TokenRecord, error)

func (f TokenVerifierFunc) VerifyToken(ctx context.Context, token string) (*TokenRecord, error) {
	return f(ctx, token)
}

// UserDirectoryFunc adapts a function to the UserDirectory interface.
type UserDirectoryFunc func(ctx context.Context, key string) (Identity, error)

func (f UserDirectoryFunc) LoadIdentity(ctx context.Context, key string) (Identity, error) {
	return f(ctx, key)
}

// IdentityGuardFunc adapts a function to the IdentityGuard interface.
type IdentityGuardFunc func(ctx context.Context, identity Identity) error

func (f IdentityGuardFunc) CheckPreAuth(ctx context.Context, identity Identity) error {
	return f(ctx, identity)
}

type noopGuard struct{}

func (noopGuard) CheckPreAuth(context.Context, Identity) error { return nil }
