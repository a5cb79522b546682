// Package store provides the local key/value storage that holds cached
// identity artifacts (bearer token, user id, username) between runs.
package store

import (
	"context"
	"fmt"
)

// Backends accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Repository is the client-side "local storage" for identity artifacts.
// Keys are opaque to the store.
type Repository interface {
	// GetItem returns the value for key. The bool is false when the key is unset.
	GetItem(ctx context.Context, key string) (string, bool, error)

	// SetItem creates or replaces the value for key.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing an unset key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Clear deletes every key.
	Clear(ctx context.Context) error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}

// Open returns the repository for backend. dbPath is used by the SQLite
// backend only.
func Open(backend, dbPath string) (Repository, error) {
	switch backend {
	case BackendSQLite:
		return NewSQLite(dbPath)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
