package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/oauth-bearer-go/internal/jwtauth"
)

// SecurityConfig describes how this resource validates and advertises bearer
// token authentication. Transports use it to publish protected resource
// metadata (RFC 9728); JWT verifiers use it for enforcement.
//
// A zero value is invalid; populate required fields then call Validate.
type SecurityConfig struct {
	Issuer      string
	Audiences   []string
	AllowedAlgs []string // default: ["RS256"] if empty
	JWKSURL     string   // optional override / filled by discovery

	Leeway time.Duration // clock skew tolerance (default 60s)

	OIDC *OIDCExtra // optional extended metadata for advertisement only
}

// OIDCExtra carries optional OpenID / OAuth authorization server metadata we
// surface for client bootstrapping. None of these fields are required for
// token validation.
type OIDCExtra struct {
	AuthorizationEndpoint                      string
	TokenEndpoint                              string
	RegistrationEndpoint                       string
	ScopesSupported                            []string
	ResponseTypesSupported                     []string
	GrantTypesSupported                        []string
	ResponseModesSupported                     []string
	CodeChallengeMethodsSupported              []string
	TokenEndpointAuthMethodsSupported          []string
	TokenEndpointAuthSigningAlgValuesSupported []string
	ServiceDocumentation                       string
	OpPolicyURI                                string
	OpTosURI                                   string
}

// Normalize fills defaults.
func (c *SecurityConfig) Normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
}

// Validate returns an error if required invariants are not met.
func (c SecurityConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("security: issuer required")
	}
	if len(c.Audiences) == 0 {
		return errors.New("security: at least one audience required")
	}
	for _, a := range c.Audiences {
		if a == "" {
			return errors.New("security: empty audience entry")
		}
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.Audiences = append([]string(nil), c.Audiences...)
	dup.AllowedAlgs = append([]string(nil), c.AllowedAlgs...)
	if c.OIDC != nil {
		ox := *c.OIDC
		ox.ScopesSupported = append([]string(nil), c.OIDC.ScopesSupported...)
		ox.ResponseTypesSupported = append([]string(nil), c.OIDC.ResponseTypesSupported...)
		ox.GrantTypesSupported = append([]string(nil), c.OIDC.GrantTypesSupported...)
		ox.ResponseModesSupported = append([]string(nil), c.OIDC.ResponseModesSupported...)
		ox.CodeChallengeMethodsSupported = append([]string(nil), c.OIDC.CodeChallengeMethodsSupported...)
		ox.TokenEndpointAuthMethodsSupported = append([]string(nil), c.OIDC.TokenEndpointAuthMethodsSupported...)
		ox.TokenEndpointAuthSigningAlgValuesSupported = append([]string(nil), c.OIDC.TokenEndpointAuthSigningAlgValuesSupported...)
		dup.OIDC = &ox
	}
	return dup
}

// NewJWTVerifier constructs a JWT access token verifier using this security
// configuration without performing OIDC discovery. It expects:
//   - c.Issuer (non-empty)
//   - at least one audience in c.Audiences
//   - c.JWKSURL (non-empty)
//
// AllowedAlgs and Leeway are honored (defaults applied via Normalize if needed).
func (c SecurityConfig) NewJWTVerifier(ctx context.Context) (VerifierProvider, error) {
	cc := c.Copy()
	cc.Normalize()
	if err := cc.Validate(); err != nil {
		return nil, err
	}
	if cc.JWKSURL == "" {
		return nil, errors.New("security: JWKSURL required for manual JWT verifier")
	}

	sc := &jwtauth.StaticConfig{
		Issuer:            cc.Issuer,
		ExpectedAudiences: append([]string(nil), cc.Audiences...),
		AllowedAlgs:       append([]string(nil), cc.AllowedAlgs...),
		Leeway:            cc.Leeway,
	}
	v, err := jwtauth.NewStatic(ctx, sc, cc.JWKSURL)
	if err != nil {
		return nil, err
	}
	return &jwtVerifier{a: v, sec: cc}, nil
}

// SecurityDescriptor exposes security configuration for transports to advertise.
type SecurityDescriptor interface{ SecurityConfig() SecurityConfig }

// VerifierProvider combines verification + descriptor. Returned by the JWT
// verifier constructors.
type VerifierProvider interface {
	TokenVerifier
	SecurityDescriptor
}
