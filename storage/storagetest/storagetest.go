// Package storagetest provides a conformance suite shared by storage
// backends.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/oauth-bearer-go/storage"
)

// RunStorageTests exercises a storage.Storage implementation. newStorage
// must return an empty store; it is called once per subtest.
func RunStorageTests(t *testing.T, newStorage func(t *testing.T) storage.Storage) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, storage.Storage)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetNonExistent", testGetNonExistent},
		{"TTL", testTTL},
		{"InvalidTTL", testInvalidTTL},
		{"Namespaces", testNamespaces},
		{"DeleteKey", testDeleteKey},
		{"DeleteNamespace", testDeleteNamespace},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newStorage(t)
			t.Cleanup(func() { _ = s.Close() })
			c.fn(t, s)
		})
	}
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "test-key"
	data := []byte("test data")

	// Set data
	err := s.Set(ctx, key, data)
	if err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}

	// Get data
	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}

	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}

	if string(item.Data) != string(data) {
		t.Errorf("Expected data %s, got %s", data, item.Data)
	}

	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}

	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for data without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "non-existent-key"

	// Get non-existent key
	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get non-existent key: %v", err)
	}

	if item != nil {
		t.Error("Expected nil for non-existent key, got item")
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "ttl-key"
	data := []byte("ttl data")
	ttl := 100 * time.Millisecond

	// Set data with TTL
	err := s.Set(ctx, key, data, storage.WithTTL(ttl))
	if err != nil {
		t.Fatalf("Failed to set data with TTL: %v", err)
	}

	// Get data immediately
	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}

	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}

	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should not be nil for data with TTL")
	}

	// Wait for expiration
	time.Sleep(ttl + 50*time.Millisecond)

	// Try to get expired data
	item, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get expired data: %v", err)
	}

	if item != nil {
		t.Error("Expected nil for expired data, got item")
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "namespace-key"
	globalData := []byte("global data")
	tokenData := []byte("token data")
	identityData := []byte("identity data")

	// Set data in different namespaces
	err := s.Set(ctx, key, globalData)
	if err != nil {
		t.Fatalf("Failed to set global data: %v", err)
	}

	err = s.Set(ctx, key, tokenData, storage.WithNamespace("tokens"))
	if err != nil {
		t.Fatalf("Failed to set token data: %v", err)
	}

	err = s.Set(ctx, key, identityData, storage.WithNamespace("identities"))
	if err != nil {
		t.Fatalf("Failed to set identity data: %v", err)
	}

	// Get data from different namespaces
	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get global data: %v", err)
	}
	if item == nil || string(item.Data) != string(globalData) {
		t.Errorf("Expected global data %s, got %v", globalData, item)
	}

	item, err = s.Get(ctx, key, storage.WithNamespace("tokens"))
	if err != nil {
		t.Fatalf("Failed to get token data: %v", err)
	}
	if item == nil || string(item.Data) != string(tokenData) {
		t.Errorf("Expected token data %s, got %v", tokenData, item)
	}

	item, err = s.Get(ctx, key, storage.WithNamespace("identities"))
	if err != nil {
		t.Fatalf("Failed to get identity data: %v", err)
	}
	if item == nil || string(item.Data) != string(identityData) {
		t.Errorf("Expected identity data %s, got %v", identityData, item)
	}

	// Data in different namespaces should be isolated
	item, err = s.Get(ctx, key, storage.WithNamespace("other"))
	if err != nil {
		t.Fatalf("Failed to get data for other namespace: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for other namespace, got item")
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "delete-key"
	data := []byte("delete data")

	// Set data
	err := s.Set(ctx, key, data)
	if err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}

	// Verify data exists
	item, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist before deletion")
	}

	// Delete specific key
	err = s.Delete(ctx, storage.WithKey(key))
	if err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}

	// Verify data is gone
	item, err = s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get data after deletion: %v", err)
	}
	if item != nil {
		t.Error("Expected nil after deletion, got item")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ns := "delete-ns"

	// Set multiple keys in namespace
	keys := []string{"key1", "key2", "key3"}
	for _, key := range keys {
		data := []byte("data for " + key)
		err := s.Set(ctx, key, data, storage.WithNamespace(ns))
		if err != nil {
			t.Fatalf("Failed to set data for key %s: %v", key, err)
		}
	}

	// Verify all keys exist
	for _, key := range keys {
		item, err := s.Get(ctx, key, storage.WithNamespace(ns))
		if err != nil {
			t.Fatalf("Failed to get data for key %s: %v", key, err)
		}
		if item == nil {
			t.Fatalf("Expected item to exist for key %s before deletion", key)
		}
	}

	// Delete entire namespace
	err := s.Delete(ctx, storage.WithNamespace(ns))
	if err != nil {
		t.Fatalf("Failed to delete namespace: %v", err)
	}

	// Keys outside the namespace survive
	if err := s.Set(ctx, "keep", []byte("keep")); err != nil {
		t.Fatalf("Failed to set global key: %v", err)
	}
	if err := s.Delete(ctx, storage.WithNamespace("another-ns")); err != nil {
		t.Fatalf("Failed to delete empty namespace: %v", err)
	}
	if item, err := s.Get(ctx, "keep"); err != nil || item == nil {
		t.Fatalf("global key lost after unrelated namespace delete: %v %v", item, err)
	}

	// Verify all keys are gone
	for _, key := range keys {
		item, err := s.Get(ctx, key, storage.WithNamespace(ns))
		if err != nil {
			t.Fatalf("Failed to get data for key %s after deletion: %v", key, err)
		}
		if item != nil {
			t.Errorf("Expected nil after namespace deletion for key %s, got item", key)
		}
	}
}

func testInvalidTTL(t *testing.T, s storage.Storage) {
	err := s.Set(context.Background(), "k", []byte("v"), storage.WithTTL(-time.Second))
	if !errors.Is(err, storage.ErrInvalidOptions) {
		t.Fatalf("Expected ErrInvalidOptions for negative TTL, got %v", err)
	}
}
