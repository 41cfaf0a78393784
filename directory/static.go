package directory

import (
	"context"

	"github.com/ggoodman/oauth-bearer-go/auth"
)

// Static is an immutable in-memory directory.
type Static struct {
	users map[string]*User
}

var _ auth.UserDirectory = (*Static)(nil)

// NewStatic builds a directory from users. A later user with the same key
// replaces an earlier one.
func NewStatic(users ...User) *Static {
	return &Static{users: index(users)}
}

func index(users []User) map[string]*User {
	m := make(map[string]*User, len(users))
	for _, u := range users {
		m[u.Key] = u.clone()
	}
	return m
}

// LoadIdentity returns auth.ErrIdentityNotFound for unknown keys.
func (s *Static) LoadIdentity(ctx context.Context, key string) (auth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, ok := s.users[key]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	return u.clone(), nil
}
