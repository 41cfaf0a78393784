package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/oauth-bearer-go/auth"
	"github.com/ggoodman/oauth-bearer-go/storage"
)

// DefaultNamespace is the storage namespace holding users.
const DefaultNamespace = "identities"

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) StoreOption {
	return func(s *Store) { s.namespace = ns }
}

// Store keeps users as JSON documents in a storage.Storage.
type Store struct {
	st        storage.Storage
	namespace string
}

var _ auth.UserDirectory = (*Store)(nil)

func NewStore(st storage.Storage, opts ...StoreOption) (*Store, error) {
	if st == nil {
		return nil, errors.New("directory: storage is required")
	}
	s := &Store{st: st, namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put creates or replaces u.
func (s *Store) Put(ctx context.Context, u User) error {
	if u.Key == "" {
		return errors.New("directory: user key is required")
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("directory: marshal user: %w", err)
	}
	return s.st.Set(ctx, u.Key, data, storage.WithNamespace(s.namespace))
}

// Delete removes the user with key. Deleting an unknown user is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.st.Delete(ctx, storage.WithNamespace(s.namespace), storage.WithKey(key))
}

func (s *Store) LoadIdentity(ctx context.Context, key string) (auth.Identity, error) {
	item, err := s.st.Get(ctx, key, storage.WithNamespace(s.namespace))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, auth.ErrIdentityNotFound
	}
	var u User
	if err := json.Unmarshal(item.Data, &u); err != nil {
		return nil, fmt.Errorf("directory: decode user %q: %w", key, err)
	}
	return &u, nil
}
