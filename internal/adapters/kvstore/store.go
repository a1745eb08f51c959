package kvstore

import (
	"context"
)

// Store is an opaque key value store holding JSON documents
type Store interface {
	// Get returns the stored value and whether the key exists
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}
