// Package preference stores each user's selected LLM provider.
package preference

import (
	"context"
	"errors"
	"fmt"

	"github.com/aiox-platform/llmgate/internal/kvstore"
)

// Store maps a user to a provider id. Entries never expire.
type Store struct {
	kv       kvstore.Store
	fallback string
}

// NewStore creates a preference store that falls back to defaultProvider.
func NewStore(kv kvstore.Store, defaultProvider string) *Store {
	return &Store{kv: kv, fallback: defaultProvider}
}

func key(userID string) string {
	return "pref:model:" + userID
}

// Default returns the system-wide provider id.
func (s *Store) Default() string { return s.fallback }

// Get returns the user's provider id, or the default when none is stored.
func (s *Store) Get(ctx context.Context, userID string) (string, error) {
	v, err := s.kv.Get(ctx, key(userID))
	if errors.Is(err, kvstore.ErrNotFound) || (err == nil && v == "") {
		return s.fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("loading model preference: %w", err)
	}
	return v, nil
}

// Set records the user's provider id.
func (s *Store) Set(ctx context.Context, userID, providerID string) error {
	if err := s.kv.Put(ctx, key(userID), providerID, 0); err != nil {
		return fmt.Errorf("saving model preference: %w", err)
	}
	return nil
}
