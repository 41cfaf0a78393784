// Package authtest provides in-memory fakes of the auth collaborators for
// use in tests.
package authtest

import (
	"context"
	"sync"

	"github.com/ggoodman/oauth-bearer-go/auth"
)

// User is a minimal identity with a fixed role list.
type User struct {
	Key      string
	RoleList []string
}

func (u *User) Roles() []string { return append([]string(nil), u.RoleList...) }

func (u *User) IsNil() bool { return u == nil }

// Verifier is a map-backed auth.TokenVerifier. Unknown tokens yield
// (nil, nil). If Err is set it is returned for every call.
type Verifier struct {
	mu      sync.Mutex
	records map[string]auth.TokenRecord
	calls   []string

	Err error
}

// NewVerifier creates an empty Verifier.
func NewVerifier() *Verifier {
	return &Verifier{records: map[string]auth.TokenRecord{}}
}

// Add registers a record for token.
func (v *Verifier) Add(token string, rec auth.TokenRecord) *Verifier {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[token] = rec
	return v
}

func (v *Verifier) VerifyToken(ctx context.Context, token string) (*auth.TokenRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, token)
	if v.Err != nil {
		return nil, v.Err
	}
	rec, ok := v.records[token]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// SetErr sets Err while holding the lock, for use once the Verifier is shared
// with other goroutines.
func (v *Verifier) SetErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Err = err
}

// Calls returns the tokens passed to VerifyToken, in order.
func (v *Verifier) Calls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

// Directory is a map-backed auth.UserDirectory. If Err is set it is
// returned for every call.
type Directory struct {
	mu    sync.Mutex
	users map[string]auth.Identity
	calls []string

	Err error
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{users: map[string]auth.Identity{}}
}

// Add registers identity under key.
func (d *Directory) Add(key string, identity auth.Identity) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[key] = identity
	return d
}

func (d *Directory) LoadIdentity(ctx context.Context, key string) (auth.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, key)
	if d.Err != nil {
		return nil, d.Err
	}
	id, ok := d.users[key]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	return id, nil
}

// Calls returns the keys passed to LoadIdentity, in order.
func (d *Directory) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// RejectingGuard rejects every identity with Reason.
type RejectingGuard struct {
	Reason error
}

func (g RejectingGuard) CheckPreAuth(context.Context, auth.Identity) error { return g.Reason }

// NoAuth is an auth.Authenticator that accepts every token and returns a
// credential carrying Identity and Roles. Used for transport tests where
// verification is not under test.
type NoAuth struct {
	Identity auth.Identity
	Scope    string
}

func (n *NoAuth) Authenticate(ctx context.Context, cred auth.Credential) (*auth.AuthenticatedCredential, error) {
	dir := NewDirectory()
	rec := auth.TokenRecord{Scope: n.Scope}
	if n.Identity != nil {
		rec.IdentityKey = "noauth"
		dir.Add("noauth", n.Identity)
	}
	a, err := auth.NewTokenAuthenticator(NewVerifier().Add(cred.Token(), rec), dir, nil)
	if err != nil {
		return nil, err
	}
	return a.Authenticate(ctx, cred)
}
