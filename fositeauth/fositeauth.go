// Package fositeauth adapts an ory/fosite OAuth2 provider into an
// auth.TokenVerifier using token introspection.
package fositeauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ory/fosite"

	"github.com/ggoodman/oauth-bearer-go/auth"
)

// Introspector is the subset of fosite.OAuth2Provider used by Verifier.
type Introspector interface {
	IntrospectToken(ctx context.Context, token string, tokenUse fosite.TokenUse, session fosite.Session, scope ...string) (fosite.TokenUse, fosite.AccessRequester, error)
}

var _ Introspector = (fosite.OAuth2Provider)(nil)

// Option configures a Verifier.
type Option func(*Verifier)

// WithSessionFactory sets the session prototype handed to IntrospectToken.
// It must return the same session type the provider issued tokens with.
// Defaults to a fosite.DefaultSession.
func WithSessionFactory(f func() fosite.Session) Option {
	return func(v *Verifier) { v.newSession = f }
}

// Verifier is an auth.TokenVerifier over a fosite provider.
type Verifier struct {
	in         Introspector
	newSession func() fosite.Session
}

var _ auth.TokenVerifier = (*Verifier)(nil)

func New(in Introspector, opts ...Option) (*Verifier, error) {
	if in == nil {
		return nil, errors.New("fositeauth: introspector is required")
	}
	v := &Verifier{
		in:         in,
		newSession: func() fosite.Session { return new(fosite.DefaultSession) },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// rejections are the fosite errors that mean "this token is not valid" as
// opposed to "introspection could not be performed".
var rejections = []error{
	fosite.ErrInactiveToken,
	fosite.ErrTokenExpired,
	fosite.ErrNotFound,
	fosite.ErrInvalidTokenFormat,
	fosite.ErrTokenSignatureMismatch,
	fosite.ErrRequestUnauthorized,
	fosite.ErrUnknownRequest,
}

func isRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// VerifyToken introspects token as an access token.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*auth.TokenRecord, error) {
	use, ar, err := v.in.IntrospectToken(ctx, token, fosite.AccessToken, v.newSession())
	if err != nil {
		if isRejection(err) {
			return nil, errors.Join(auth.ErrInvalidToken, err)
		}
		return nil, fmt.Errorf("fositeauth: introspect: %w", err)
	}
	if use != fosite.AccessToken {
		return nil, fmt.Errorf("%w: token use %q is not an access token", auth.ErrInvalidToken, use)
	}
	if ar == nil {
		return nil, nil
	}

	rec := &auth.TokenRecord{Scope: strings.Join(ar.GetGrantedScopes(), " ")}
	if c := ar.GetClient(); c != nil {
		rec.ClientID = c.GetID()
	}
	if s := ar.GetSession(); s != nil {
		rec.IdentityKey = s.GetSubject()
		rec.ExpiresAt = s.GetExpiresAt(fosite.AccessToken)
	}
	return rec, nil
}
