package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// StaticConfig controls validation for manual (non-discovery) JWT access tokens.
// Caller supplies issuer, one or more expected audiences, and JWKS URI.
type StaticConfig struct {
	Issuer            string
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
}

// DefaultStaticConfig returns a StaticConfig with safe algorithm + leeway defaults.
func DefaultStaticConfig() *StaticConfig {
	return &StaticConfig{AllowedAlgs: []string{"RS256"}, Leeway: 60 * time.Second}
}

type staticVerifier struct {
	cfg     *StaticConfig
	keyfunc jwt.Keyfunc
}

// NewStatic constructs a verifier that validates JWT access tokens against a
// statically configured issuer, audiences and JWKS URI (no discovery).
func NewStatic(ctx context.Context, cfg *StaticConfig, jwksURI string) (*staticVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return NewStaticWithKeyfunc(cfg, kf.Keyfunc)
}

// NewStaticWithKeyfunc is NewStatic with a caller-supplied key lookup, for
// deployments that pin keys locally instead of fetching a JWKS.
func NewStaticWithKeyfunc(cfg *StaticConfig, kf jwt.Keyfunc) (*staticVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if kf == nil {
		return nil, errors.New("keyfunc is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	return &staticVerifier{cfg: cfg, keyfunc: restrictAlgs(cfg.AllowedAlgs, kf)}, nil
}

// Verify implements the Verifier interface (shared contract).
func (v *staticVerifier) Verify(ctx context.Context, tok string) (*Record, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	// Audience intersection check (string or array).
	if !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	return recordFromClaims(claims), nil
}

// Ensure staticVerifier satisfies the same interface expected by adapters.
var _ Verifier = (*staticVerifier)(nil)
