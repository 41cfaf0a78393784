package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/oauth-bearer-go/internal/jwtauth"
)

// JWTVerifierOption configures optional aspects of the RFC 9068 access token
// verifier (algorithms, leeway, extra audiences, advertised scopes).
type JWTVerifierOption func(*jwtauth.Config)

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) JWTVerifierOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) JWTVerifierOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAdditionalAudiences accepts tokens minted for other audiences besides
// the primary one, e.g. a localhost URL during development.
func WithAdditionalAudiences(aud ...string) JWTVerifierOption {
	return func(c *jwtauth.Config) {
		c.ExpectedAudiences = append(c.ExpectedAudiences, aud...)
	}
}

// WithAdvertisedScopes transforms the discovered scopes_supported list before
// it is advertised. It never affects validation.
func WithAdvertisedScopes(fn func(discovered []string) []string) JWTVerifierOption {
	return func(c *jwtauth.Config) { c.AdvertisedScopes = fn }
}

// StaticScopes advertises a fixed list, ignoring discovery.
func StaticScopes(scopes ...string) func([]string) []string {
	fixed := append([]string{}, scopes...)
	return func([]string) []string { return append([]string{}, fixed...) }
}

// FilterScopes advertises the discovered scopes matching keep.
func FilterScopes(keep func(string) bool) func([]string) []string {
	return func(discovered []string) []string {
		out := []string{}
		for _, s := range discovered {
			if keep(s) {
				out = append(out, s)
			}
		}
		return out
	}
}

// NewJWTVerifierFromDiscovery returns a TokenVerifier that validates RFC 9068
// JWT access tokens discovered via OpenID Connect discovery (jwks_uri,
// issuer, etc.).
//
// Required:
//   - issuer:   authorization server issuer URL
//   - audience: expected audience ("aud") claim, typically your public API URL
func NewJWTVerifierFromDiscovery(ctx context.Context, issuer string, audience string, opts ...JWTVerifierOption) (VerifierProvider, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{audience}
	for _, opt := range opts {
		opt(cfg)
	}
	internal, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &jwtVerifier{a: internal, sec: buildSecurityConfig(cfg, internal)}, nil
}

// discoveryMetadata is the advertisement surface of a discovery verifier.
type discoveryMetadata interface {
	Issuer() string
	JWKSURI() string
	AuthorizationEndpoint() string
	TokenEndpoint() string
	RegistrationEndpoint() string
	ResponseTypes() []string
	Scopes() []string
	GrantTypes() []string
	ResponseModes() []string
	CodeChallengeMethods() []string
	TokenEndpointAuthMethods() []string
	TokenEndpointAuthAlgs() []string
	ServiceDocumentation() string
	PolicyURI() string
	TosURI() string
}

func buildSecurityConfig(cfg *jwtauth.Config, dm discoveryMetadata) SecurityConfig {
	scopes := dm.Scopes()
	if cfg.AdvertisedScopes != nil {
		scopes = cfg.AdvertisedScopes(scopes)
	}
	sec := SecurityConfig{
		Issuer:      dm.Issuer(),
		Audiences:   append([]string(nil), cfg.ExpectedAudiences...),
		AllowedAlgs: append([]string(nil), cfg.AllowedAlgs...),
		JWKSURL:     dm.JWKSURI(),
		Leeway:      cfg.Leeway,
		OIDC: &OIDCExtra{
			AuthorizationEndpoint:                      dm.AuthorizationEndpoint(),
			TokenEndpoint:                              dm.TokenEndpoint(),
			RegistrationEndpoint:                       dm.RegistrationEndpoint(),
			ScopesSupported:                            scopes,
			ResponseTypesSupported:                     dm.ResponseTypes(),
			GrantTypesSupported:                        dm.GrantTypes(),
			ResponseModesSupported:                     dm.ResponseModes(),
			CodeChallengeMethodsSupported:              dm.CodeChallengeMethods(),
			TokenEndpointAuthMethodsSupported:          dm.TokenEndpointAuthMethods(),
			TokenEndpointAuthSigningAlgValuesSupported: dm.TokenEndpointAuthAlgs(),
			ServiceDocumentation:                       dm.ServiceDocumentation(),
			OpPolicyURI:                                dm.PolicyURI(),
			OpTosURI:                                   dm.TosURI(),
		},
	}
	if sec.Issuer == "" {
		sec.Issuer = cfg.Issuer
	}
	sec.Normalize()
	return sec
}

// jwtVerifier wraps the internal verifier to satisfy the public interface.
type jwtVerifier struct {
	a   jwtauth.Verifier
	sec SecurityConfig
}

func (v *jwtVerifier) VerifyToken(ctx context.Context, tok string) (*TokenRecord, error) {
	rec, err := v.a.Verify(ctx, tok)
	if err != nil {
		// Map internal sentinel errors to public errors used by the authenticator.
		if errors.Is(err, jwtauth.ErrUnauthorized) {
			return nil, errors.Join(ErrInvalidToken, err)
		}
		return nil, err
	}
	return &TokenRecord{
		IdentityKey: rec.Subject,
		Scope:       rec.Scope,
		ClientID:    rec.ClientID,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

func (v *jwtVerifier) SecurityConfig() SecurityConfig { return v.sec.Copy() }
