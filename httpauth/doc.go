// Package httpauth protects net/http handlers with bearer token
// authentication.
//
// Handler.Middleware extracts the token from the Authorization header, runs
// it through an auth.Authenticator and stores the resulting credential on the
// request context. Failures are reported with RFC 6750 challenges:
//
//	missing header              401  Bearer
//	malformed or empty header   400  Bearer error="invalid_request"
//	rejected token or identity  401  Bearer error="invalid_token"
//	collaborator failure        500  (no challenge)
//
// RequireRoles and RequireAnyRole layer role checks on top, answering 403
// with error="insufficient_scope". When a security config is supplied the
// handler also publishes protected resource metadata (RFC 9728) and
// references it from every challenge.
//
// Example:
//
//	a, _ := auth.NewTokenAuthenticator(verifier, users, guard.Default())
//	h, _ := httpauth.New(a, httpauth.WithRealm("api"))
//	mux.Handle("/api/", h.Middleware(api))
//	mux.Handle("/api/admin", h.Middleware(h.RequireRoles("ROLE_ADMIN")(admin)))
package httpauth
