// Package tokenstore verifies opaque access tokens by looking them up in a
// storage.Storage shared with the issuing authorization server.
//
// Tokens are never stored in clear text: records are keyed by the hex
// encoded SHA-256 of the token.
package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/oauth-bearer-go/auth"
	"github.com/ggoodman/oauth-bearer-go/storage"
)

// DefaultNamespace is the storage namespace used for token records.
const DefaultNamespace = "tokens"

// ErrExpired is returned by Put for records whose expiry is in the past.
var ErrExpired = errors.New("tokenstore: record already expired")

// Option configures a Store.
type Option func(*Store)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an auth.TokenVerifier backed by storage.
type Store struct {
	st        storage.Storage
	namespace string
	now       func() time.Time
}

var _ auth.TokenVerifier = (*Store)(nil)

// record is the persisted JSON form of auth.TokenRecord.
type record struct {
	IdentityKey string    `json:"identity_key,omitempty"`
	Scope       string    `json:"scope"`
	ClientID    string    `json:"client_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

// New returns a Store over st.
func New(st storage.Storage, opts ...Option) (*Store, error) {
	if st == nil {
		return nil, errors.New("tokenstore: storage is required")
	}
	s := &Store{st: st, namespace: DefaultNamespace, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Put stores rec for token. A zero ExpiresAt stores the record without TTL.
func (s *Store) Put(ctx context.Context, token string, rec auth.TokenRecord) error {
	if token == "" {
		return errors.New("tokenstore: empty token")
	}
	opts := []storage.Option{storage.WithNamespace(s.namespace)}
	if !rec.ExpiresAt.IsZero() {
		ttl := rec.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return ErrExpired
		}
		opts = append(opts, storage.WithTTL(ttl))
	}
	data, err := json.Marshal(record{
		IdentityKey: rec.IdentityKey,
		Scope:       rec.Scope,
		ClientID:    rec.ClientID,
		ExpiresAt:   rec.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("tokenstore: marshal record: %w", err)
	}
	return s.st.Set(ctx, hashToken(token), data, opts...)
}

// Revoke removes the record for token. Revoking an unknown token is not an
// error.
func (s *Store) Revoke(ctx context.Context, token string) error {
	return s.st.Delete(ctx, storage.WithNamespace(s.namespace), storage.WithKey(hashToken(token)))
}

// VerifyToken implements auth.TokenVerifier. Unknown tokens yield (nil, nil);
// expired records yield auth.ErrInvalidToken.
func (s *Store) VerifyToken(ctx context.Context, token string) (*auth.TokenRecord, error) {
	item, err := s.st.Get(ctx, hashToken(token), storage.WithNamespace(s.namespace))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt token record: %v", auth.ErrInvalidToken, err)
	}
	if !rec.ExpiresAt.IsZero() && !s.now().Before(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired at %s", auth.ErrInvalidToken, rec.ExpiresAt.Format(time.RFC3339))
	}
	return &auth.TokenRecord{
		IdentityKey: rec.IdentityKey,
		Scope:       rec.Scope,
		ClientID:    rec.ClientID,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}
