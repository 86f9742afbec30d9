package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aiox-platform/llmgate/internal/kvstore"
)

// Role tags the origin of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store keeps a bounded, expiring window of turns per chat+user pair.
type Store struct {
	kv        kvstore.Store
	maxRounds int
	ttl       time.Duration
}

// NewStore creates a history store holding at most 2*maxRounds turns per
// conversation. Appends refresh the retention window to ttl.
func NewStore(kv kvstore.Store, maxRounds int, ttl time.Duration) *Store {
	return &Store{kv: kv, maxRounds: maxRounds, ttl: ttl}
}

func key(chatID, userID string) string {
	return fmt.Sprintf("history:%s:%s", chatID, userID)
}

// MaxRounds returns the configured round cap.
func (s *Store) MaxRounds() int { return s.maxRounds }

// TTL returns the configured retention window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Load returns the stored turns, or an empty slice if the conversation is
// absent or expired.
func (s *Store) Load(ctx context.Context, chatID, userID string) ([]Turn, error) {
	k := key(chatID, userID)
	raw, err := s.kv.Get(ctx, k)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		slog.Warn("history: discarding malformed conversation", "key", k, "error", err)
		return []Turn{}, nil
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}

// Append adds one turn to the stored conversation and persists it with a fresh TTL.
func (s *Store) Append(ctx context.Context, chatID, userID string, turn Turn) error {
	turns, err := s.Load(ctx, chatID, userID)
	if err != nil {
		return err
	}
	return s.Save(ctx, chatID, userID, append(turns, turn), s.ttl)
}

// Save trims turns to the round cap and replaces the stored conversation.
func (s *Store) Save(ctx context.Context, chatID, userID string, turns []Turn, ttl time.Duration) error {
	data, err := json.Marshal(Trim(turns, s.maxRounds))
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	if err := s.kv.Put(ctx, key(chatID, userID), string(data), ttl); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}

// Clear deletes the conversation.
func (s *Store) Clear(ctx context.Context, chatID, userID string) error {
	if err := s.kv.Delete(ctx, key(chatID, userID)); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Trim drops the oldest turns so that at most 2*maxRounds remain. The input
// slice is not modified.
func Trim(turns []Turn, maxRounds int) []Turn {
	limit := 2 * maxRounds
	if limit < 0 {
		limit = 0
	}
	if len(turns) <= limit {
		return turns
	}
	out := make([]Turn, limit)
	copy(out, turns[len(turns)-limit:])
	return out
}
