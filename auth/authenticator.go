package auth

import (
	"context"
	"errors"
	"log/slog"
)

// TokenAuthenticatorOption configures a TokenAuthenticator.
type TokenAuthenticatorOption func(*TokenAuthenticator)

// WithLogger sets the logger used for debug diagnostics. Verifier error
// detail is only ever logged, never returned.
func WithLogger(l *slog.Logger) TokenAuthenticatorOption {
	return func(a *TokenAuthenticator) {
		if l != nil {
			a.log = l
		}
	}
}

// TokenAuthenticator converts a bearer token into an authenticated
// credential carrying the resolved identity and derived roles. It holds no
// mutable state and is safe for concurrent use.
type TokenAuthenticator struct {
	verifier  TokenVerifier
	directory UserDirectory
	guard     IdentityGuard
	log       *slog.Logger
}

var _ Authenticator = (*TokenAuthenticator)(nil)

// NewTokenAuthenticator wires the three collaborators together. A nil guard
// accepts every identity.
func NewTokenAuthenticator(verifier TokenVerifier, directory UserDirectory, guard IdentityGuard, opts ...TokenAuthenticatorOption) (*TokenAuthenticator, error) {
	if verifier == nil {
		return nil, errors.New("auth: token verifier is required")
	}
	if directory == nil {
		return nil, errors.New("auth: user directory is required")
	}
	if guard == nil {
		guard = noopGuard{}
	}
	a := &TokenAuthenticator{
		verifier:  verifier,
		directory: directory,
		guard:     guard,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate validates the credential's token, resolves the owning identity
// (if any) and derives the role list.
//
// Failures are reported as ErrAuthenticationFailed,
// ErrIdentityResolutionFailed or an *IdentityRejectedError. Any other error
// comes from a collaborator and is returned unchanged.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, cred Credential) (*AuthenticatedCredential, error) {
	rec, err := a.verifier.VerifyToken(ctx, cred.Token())
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			a.log.DebugContext(ctx, "auth.verify.fail", slog.String("err", err.Error()))
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}
	if rec == nil {
		a.log.DebugContext(ctx, "auth.verify.fail", slog.String("err", "no record"))
		return nil, ErrAuthenticationFailed
	}

	var identity Identity
	if rec.HasIdentity() {
		identity, err = a.directory.LoadIdentity(ctx, rec.IdentityKey)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				a.log.DebugContext(ctx, "auth.identity.missing", slog.String("key", rec.IdentityKey))
				return nil, ErrIdentityResolutionFailed
			}
			return nil, err
		}
		if isNil(identity) {
			a.log.DebugContext(ctx, "auth.identity.missing", slog.String("key", rec.IdentityKey))
			return nil, ErrIdentityResolutionFailed
		}
		if err := a.guard.CheckPreAuth(ctx, identity); err != nil {
			a.log.DebugContext(ctx, "auth.identity.rejected", slog.String("key", rec.IdentityKey), slog.String("reason", err.Error()))
			return nil, &IdentityRejectedError{Reason: err}
		}
	}

	var identityRoles []string
	if identity != nil {
		identityRoles = identity.Roles()
	}

	return &AuthenticatedCredential{
		token:    cred.Token(),
		identity: identity,
		roles:    DeriveRoles(identityRoles, rec.Scope),
	}, nil
}

// isNil reports whether identity is nil, including a typed nil pointer whose
// type implements IsNil.
func isNil(identity Identity) bool {
	if identity == nil {
		return true
	}
	n, ok := identity.(interface{ IsNil() bool })
	return ok && n.IsNil()
}
