package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for access tokens.
// It is used by discovery-based verifiers to enforce issuer, audience,
// algorithm, and clock-skew policies.
type Config struct {
	Issuer string
	// ExpectedAudiences contains the primary audience (index 0) followed by any
	// additional accepted audiences. Additional entries are intended for local
	// or testing scenarios where the served base URL differs from production.
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
	// AdvertisedScopes transforms the discovered scopes_supported list before
	// it is surfaced in protected resource metadata. Advisory only.
	AdvertisedScopes func(discovered []string) []string
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Verifier validates access tokens and returns the verified Record.
// Implementations MUST perform signature, issuer, audience and time validations.
type Verifier interface {
	Verify(ctx context.Context, tok string) (*Record, error)
}

// ErrUnauthorized indicates that the access token failed validation (e.g.,
// signature, issuer, audience, exp/nbf) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

type discoveryVerifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
	// expected fields derived from discovery
	iss                   string
	jwksURI               string
	authorizationEndpoint string
	tokenEndpoint         string
	registrationEndpoint  string
	responseTypes         []string
	scopes                []string
	grantTypes            []string
	responseModes         []string
	codeChallengeMethods  []string
	tokenAuthMethods      []string
	tokenAuthAlgs         []string
	serviceDoc            string
	policyURI             string
	tosURI                string
}

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and issuer, and
// constructs a Verifier that validates RFC 9068 access tokens using the
// configured policies in Config. JWKS keys are auto-refreshed.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*discoveryVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer        string   `json:"issuer"`
		JwksURI       string   `json:"jwks_uri"`
		Authorization string   `json:"authorization_endpoint"`
		Token         string   `json:"token_endpoint"`
		Registration  string   `json:"registration_endpoint"`
		ResponseTypes []string `json:"response_types_supported"`
		Scopes        []string `json:"scopes_supported"`
		GrantTypes    []string `json:"grant_types_supported"`
		ResponseModes []string `json:"response_modes_supported"`
		CodeChallenge []string `json:"code_challenge_methods_supported"`
		TokenAuth     []string `json:"token_endpoint_auth_methods_supported"`
		TokenAuthAlgs []string `json:"token_endpoint_auth_signing_alg_values_supported"`
		ServiceDoc    string   `json:"service_documentation"`
		PolicyURI     string   `json:"op_policy_uri"`
		TosURI        string   `json:"op_tos_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	missing := []string{}
	if meta.JwksURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if meta.Token == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}

	// Auto-refreshing JWKS
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &discoveryVerifier{
		cfg:                   cfg,
		keyfunc:               restrictAlgs(cfg.AllowedAlgs, kf.Keyfunc),
		iss:                   meta.Issuer,
		jwksURI:               meta.JwksURI,
		authorizationEndpoint: meta.Authorization,
		tokenEndpoint:         meta.Token,
		responseTypes:         append([]string(nil), meta.ResponseTypes...),
		registrationEndpoint:  meta.Registration,
		scopes:                append([]string(nil), meta.Scopes...),
		grantTypes:            append([]string(nil), meta.GrantTypes...),
		responseModes:         append([]string(nil), meta.ResponseModes...),
		codeChallengeMethods:  append([]string(nil), meta.CodeChallenge...),
		tokenAuthMethods:      append([]string(nil), meta.TokenAuth...),
		tokenAuthAlgs:         append([]string(nil), meta.TokenAuthAlgs...),
		serviceDoc:            meta.ServiceDoc,
		policyURI:             meta.PolicyURI,
		tosURI:                meta.TosURI,
	}, nil
}

// Discovery accessors used by outer layers to populate advertisement metadata.
func (v *discoveryVerifier) Issuer() string                { return v.iss }
func (v *discoveryVerifier) JWKSURI() string               { return v.jwksURI }
func (v *discoveryVerifier) AuthorizationEndpoint() string { return v.authorizationEndpoint }
func (v *discoveryVerifier) TokenEndpoint() string         { return v.tokenEndpoint }
func (v *discoveryVerifier) ResponseTypes() []string {
	return append([]string(nil), v.responseTypes...)
}
func (v *discoveryVerifier) Scopes() []string     { return append([]string(nil), v.scopes...) }
func (v *discoveryVerifier) GrantTypes() []string { return append([]string(nil), v.grantTypes...) }
func (v *discoveryVerifier) ResponseModes() []string {
	return append([]string(nil), v.responseModes...)
}
func (v *discoveryVerifier) CodeChallengeMethods() []string {
	return append([]string(nil), v.codeChallengeMethods...)
}
func (v *discoveryVerifier) TokenEndpointAuthMethods() []string {
	return append([]string(nil), v.tokenAuthMethods...)
}
func (v *discoveryVerifier) TokenEndpointAuthAlgs() []string {
	return append([]string(nil), v.tokenAuthAlgs...)
}
func (v *discoveryVerifier) ServiceDocumentation() string { return v.serviceDoc }
func (v *discoveryVerifier) PolicyURI() string            { return v.policyURI }
func (v *discoveryVerifier) TosURI() string               { return v.tosURI }
func (v *discoveryVerifier) RegistrationEndpoint() string { return v.registrationEndpoint }

func (v *discoveryVerifier) Verify(ctx context.Context, tok string) (*Record, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.iss),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if len(v.cfg.ExpectedAudiences) == 1 {
		opts = append(opts, jwt.WithAudience(v.cfg.ExpectedAudiences[0]))
	}
	parsed, err := jwt.NewParser(opts...).Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	// Header checks (RFC 9068 typ)
	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if iatf, ok := claims["iat"].(float64); ok {
		// basic sanity: not too far in the future
		iat := time.Unix(int64(iatf), 0)
		if iat.After(time.Now().Add(v.cfg.Leeway).Add(5 * time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}
	return recordFromClaims(claims), nil
}

// restrictAlgs wraps a keyfunc so that tokens signed with an algorithm
// outside allowed never reach key lookup. "none" is never allowed.
func restrictAlgs(allowed []string, next jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		if alg == "none" || !slices.Contains(allowed, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return next(t)
	}
}
