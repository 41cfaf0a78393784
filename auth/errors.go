package auth

import (
	"errors"
	"fmt"
)

// Errors returned by Authenticate.
var (
	// ErrAuthenticationFailed indicates the verifier found no valid record for
	// the token (unknown, malformed or expired).
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrIdentityResolutionFailed indicates the token referenced an identity
	// the directory could not resolve.
	ErrIdentityResolutionFailed = errors.New("identity resolution failed")
	// ErrIdentityRejected indicates the identity failed a pre-authentication
	// check. The concrete error is an *IdentityRejectedError.
	ErrIdentityRejected = errors.New("identity rejected")
)

// Errors returned by collaborators.
var (
	// ErrInvalidToken is returned by a TokenVerifier for tokens that are
	// unknown, malformed, revoked or expired.
	ErrInvalidToken = errors.New("invalid token")
	// ErrIdentityNotFound is returned by a UserDirectory on a miss.
	ErrIdentityNotFound = errors.New("identity not found")
)

// IdentityRejectedError carries the guard's rejection reason verbatim.
type IdentityRejectedError struct {
	Reason error
}

func (e *IdentityRejectedError) Error() string {
	if e.Reason == nil {
		return ErrIdentityRejected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrIdentityRejected, e.Reason)
}

func (e *IdentityRejectedError) Is(target error) bool { return target == ErrIdentityRejected }

func (e *IdentityRejectedError) Unwrap() error { return e.Reason }

// ErrorKind classifies an Authenticate error for transports.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAuthenticationFailed
	KindIdentityResolutionFailed
	KindIdentityRejected
	// KindTransport covers verifier/directory failures and cancellation that
	// were propagated unchanged.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindIdentityResolutionFailed:
		return "identity_resolution_failed"
	case KindIdentityRejected:
		return "identity_rejected"
	case KindTransport:
		return "transport"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Kind returns the classification of err.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthenticationFailed
	case errors.Is(err, ErrIdentityResolutionFailed):
		return KindIdentityResolutionFailed
	case errors.Is(err, ErrIdentityRejected):
		return KindIdentityRejected
	default:
		return KindTransport
	}
}
