package jwtauth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Record is the verified content of an access token.
type Record struct {
	// Subject is empty for tokens without an owning user: either no "sub"
	// claim or a "sub" equal to "client_id" (RFC 9068 §2.2 client
	// credentials convention).
	Subject   string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
	Claims    map[string]any
}

func recordFromClaims(claims jwt.MapClaims) *Record {
	rec := &Record{Claims: claims}
	rec.ClientID, _ = claims["client_id"].(string)
	if sub, _ := claims["sub"].(string); sub != "" && sub != rec.ClientID {
		rec.Subject = sub
	}
	rec.Scope = scopeFromClaims(claims)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		rec.ExpiresAt = exp.Time
	}
	return rec
}

// scopeFromClaims reads the space-delimited "scope" claim, falling back to
// the "scp" array some issuers emit. Missing claims yield "".
func scopeFromClaims(claims jwt.MapClaims) string {
	if s, ok := claims["scope"].(string); ok {
		return s
	}
	switch v := claims["scp"].(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(v, " ")
	}
	return ""
}

func audIntersects(aud any, wants []string) bool {
	wantSet := map[string]struct{}{}
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}
