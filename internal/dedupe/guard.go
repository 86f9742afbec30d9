// Package dedupe suppresses webhook redeliveries of the same update.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aiox-platform/llmgate/internal/kvstore"
)

const (
	keyPrefix = "dedupe:update:"

	DefaultTTL  = 10 * time.Minute
	DefaultSize = 4096
)

// Guard remembers update ids in an in-process LRU and in the KV store, so a
// redelivery is caught even after a restart or on another replica.
type Guard struct {
	mu    sync.Mutex
	local *expirable.LRU[int64, struct{}]
	store kvstore.Store
	ttl   time.Duration
}

func NewGuard(store kvstore.Store, size int, ttl time.Duration) *Guard {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		local: expirable.NewLRU[int64, struct{}](size, nil, ttl),
		store: store,
		ttl:   ttl,
	}
}

// CheckAndMark reports whether updateID was already seen and marks it if not.
// A store error is returned with false; the update is still marked locally.
func (g *Guard) CheckAndMark(ctx context.Context, updateID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.local.Contains(updateID) {
		return true, nil
	}
	g.local.Add(updateID, struct{}{})

	key := keyPrefix + strconv.FormatInt(updateID, 10)
	_, err := g.store.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, kvstore.ErrNotFound):
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}

	if err := g.store.Put(ctx, key, "1", g.ttl); err != nil {
		return false, fmt.Errorf("dedupe mark: %w", err)
	}
	return false, nil
}
