// Package auth turns bearer access tokens into authenticated credentials
// for resource servers that delegate token issuance to an external OAuth 2.0
// authorization server.
//
// The package is built around three injected collaborators:
//
//   - TokenVerifier resolves a token string to a TokenRecord (owning
//     identity key, granted scope, client, expiry).
//   - UserDirectory loads the Identity referenced by a record.
//   - IdentityGuard runs pre-authentication account checks.
//
// TokenAuthenticator wires them together. Its Authenticate method either
// returns an AuthenticatedCredential or fails; it never returns an
// unauthenticated result.
//
//	verifier, err := auth.NewJWTVerifierFromDiscovery(ctx, "https://issuer.example", "https://api.example")
//	if err != nil { log.Fatal(err) }
//	authn, err := auth.NewTokenAuthenticator(verifier, users, guard.Default())
//	if err != nil { log.Fatal(err) }
//
//	cred, err := authn.Authenticate(ctx, auth.NewCredential(bearerToken))
//	switch auth.Kind(err) {
//	case auth.KindNone:
//	    // cred.Identity() may be nil for client-credentials tokens
//	case auth.KindAuthenticationFailed, auth.KindIdentityResolutionFailed, auth.KindIdentityRejected:
//	    // reject with 401
//	default:
//	    // verifier or directory failure
//	}
//
// # Roles
//
// The role list is the identity's own roles, in order and unmodified,
// followed by one role per granted scope: the scope name upper-cased and
// prefixed with ROLE_. A scope of "foo bar" yields ROLE_FOO, ROLE_BAR. An
// empty scope yields no scope roles. No deduplication is performed. See
// DeriveRoles.
//
// # Errors
//
// ErrAuthenticationFailed means the verifier had no valid record. Verifier
// detail is never included. ErrIdentityResolutionFailed means the referenced
// identity does not exist. Guard rejections are returned as
// *IdentityRejectedError, which matches ErrIdentityRejected and unwraps to the
// guard's reason. Every other error is a collaborator failure returned as-is.
package auth
