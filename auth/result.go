package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthenticationChallenge describes an HTTP challenge (status + WWW-Authenticate header).
type AuthenticationChallenge struct {
	Status          int
	WWWAuthenticate string
}

// ChallengeParams are the optional attributes of a Bearer challenge.
type ChallengeParams struct {
	Realm            string
	ResourceMetadata string
	Error            string
	ErrorDescription string
	Scope            string
}

// String renders the challenge as an RFC 6750 WWW-Authenticate value.
// Empty attributes are omitted.
func (p ChallengeParams) String() string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	pieces := make([]string, 0, 5)
	add := func(k, v string) {
		if v != "" {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc.Replace(v)))
		}
	}
	add("realm", p.Realm)
	add("resource_metadata", p.ResourceMetadata)
	add("error", p.Error)
	add("error_description", p.ErrorDescription)
	add("scope", p.Scope)
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// NewAuthenticationRequired builds a challenge for a request that carried no
// credentials. Per RFC 6750 §3.1 no error code is included.
func NewAuthenticationRequired(realm, resourceMetadataURL string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: ChallengeParams{Realm: realm, ResourceMetadata: resourceMetadataURL}.String(),
	}
}

// NewInvalidRequest builds a challenge for a malformed Authorization header.
func NewInvalidRequest(realm, resourceMetadataURL, description string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status: http.StatusBadRequest,
		WWWAuthenticate: ChallengeParams{
			Realm:            realm,
			ResourceMetadata: resourceMetadataURL,
			Error:            "invalid_request",
			ErrorDescription: description,
		}.String(),
	}
}

// NewInvalidToken builds a challenge indicating the token is invalid.
func NewInvalidToken(realm, resourceMetadataURL, description string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status: http.StatusUnauthorized,
		WWWAuthenticate: ChallengeParams{
			Realm:            realm,
			ResourceMetadata: resourceMetadataURL,
			Error:            "invalid_token",
			ErrorDescription: description,
		}.String(),
	}
}

// NewInsufficientScope builds a challenge indicating missing required roles.
func NewInsufficientScope(realm, resourceMetadataURL, scope string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status: http.StatusForbidden,
		WWWAuthenticate: ChallengeParams{
			Realm:            realm,
			ResourceMetadata: resourceMetadataURL,
			Error:            "insufficient_scope",
			ErrorDescription: "insufficient scope",
			Scope:            scope,
		}.String(),
	}
}
