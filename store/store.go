// Package store is the persistence collaborator handlers read and write
// through. Values are opaque bytes grouped by namespace.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned for a missing key.
var ErrNotFound = errors.New("store: not found")

// Store is a namespaced key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, ns, key string) ([]byte, error)
	Put(ctx context.Context, ns, key string, value []byte) error
	// Delete returns ErrNotFound if key does not exist.
	Delete(ctx context.Context, ns, key string) error
	// List returns the keys of ns in ascending order.
	List(ctx context.Context, ns string) ([]string, error)
	Close() error
}

// GetJSON reads key and decodes it into T.
func GetJSON[T any](ctx context.Context, s Store, ns, key string) (T, error) {
	var v T
	b, err := s.Get(ctx, ns, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("store: decode %s/%s: %w", ns, key, err)
	}
	return v, nil
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, s Store, ns, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", ns, key, err)
	}
	return s.Put(ctx, ns, key, b)
}
