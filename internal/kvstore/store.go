package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or its TTL has lapsed.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the durable per-key state the gateway externalizes all counters and
// conversation windows to. It offers no transactions and no compare-and-swap.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Put writes value under key. A zero ttl means the key never expires.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
