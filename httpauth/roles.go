package httpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/oauth-bearer-go/auth"
)

type credentialKey struct{}

// WithCredential returns a copy of ctx carrying cred.
func WithCredential(ctx context.Context, cred *auth.AuthenticatedCredential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFrom returns the credential stored by Middleware.
func CredentialFrom(ctx context.Context) (*auth.AuthenticatedCredential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(*auth.AuthenticatedCredential)
	return cred, ok && cred != nil
}

// RequireRoles wraps next so it only runs for credentials holding every role.
// It must be installed behind Middleware.
//
// The scope hint in the 403 challenge is rebuilt from the ROLE_ prefixed
// roles and lower-cased, so it is best-effort. Use RequireScopes when the
// issuer's scope names are case-sensitive.
func (h *Handler) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return h.requireRoles(roles, requiredScopes(roles), func(cred *auth.AuthenticatedCredential) bool {
		for _, role := range roles {
			if !cred.HasRole(role) {
				return false
			}
		}
		return true
	})
}

// RequireAnyRole wraps next so it only runs for credentials holding at least
// one of roles. It must be installed behind Middleware.
func (h *Handler) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return h.requireRoles(roles, requiredScopes(roles), func(cred *auth.AuthenticatedCredential) bool {
		for _, role := range roles {
			if cred.HasRole(role) {
				return true
			}
		}
		return len(roles) == 0
	})
}

// RequireScopes wraps next so it only runs for credentials holding the role
// derived from every scope. The challenge advertises scopes exactly as given.
// It must be installed behind Middleware.
func (h *Handler) RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	roles := make([]string, 0, len(scopes))
	for _, s := range scopes {
		roles = append(roles, auth.ScopeRole(s))
	}
	return h.requireRoles(roles, scopes, func(cred *auth.AuthenticatedCredential) bool {
		for _, role := range roles {
			if !cred.HasRole(role) {
				return false
			}
		}
		return true
	})
}

func (h *Handler) requireRoles(roles, scopes []string, allowed func(*auth.AuthenticatedCredential) bool) func(http.Handler) http.Handler {
	scope := strings.Join(scopes, " ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			cred, ok := CredentialFrom(ctx)
			if !ok {
				h.log.ErrorContext(ctx, "auth.roles.err", slog.String("err", "no credential on request context"))
				h.challenge(w, r, auth.NewAuthenticationRequired(h.realm, h.resourceMetadata()), "authentication required")
				return
			}
			if !allowed(cred) {
				h.log.InfoContext(ctx, "auth.roles.denied", slog.Any("required", roles))
				h.challenge(w, r, auth.NewInsufficientScope(h.realm, h.resourceMetadata(), scope), fmt.Sprintf("requires %s", strings.Join(roles, ", ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requiredScopes maps scope-derived roles back to the scopes a client should
// request. Roles without the scope prefix are not advertised.
func requiredScopes(roles []string) []string {
	var out []string
	for _, role := range roles {
		if s, ok := strings.CutPrefix(role, auth.ScopeRolePrefix); ok && s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

// MetadataPath is where MetadataHandler should be mounted, or "" when no
// security config was supplied.
func (h *Handler) MetadataPath() string {
	if h.prmURL == nil {
		return ""
	}
	return h.prmURL.Path
}

// MetadataHandler serves the protected resource metadata document. Without a
// security config it responds 404.
func (h *Handler) MetadataHandler() http.Handler {
	if h.prm == nil {
		return http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch r.Method {
		case http.MethodGet, http.MethodHead:
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Content-Type", jsonMediaType.String())
		if err := json.NewEncoder(w).Encode(h.prm); err != nil {
			h.log.ErrorContext(r.Context(), "prm.encode.err", slog.String("err", err.Error()))
		}
	})
}
