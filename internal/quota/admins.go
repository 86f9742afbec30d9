package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aiox-platform/llmgate/internal/kvstore"
)

const adminsKey = "quota:admins"

var (
	ErrNotAdmin      = errors.New("actor is not an admin")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrSeedAdmin     = errors.New("configured admins cannot be removed")
)

// AdminSet resolves admin status. Seed admins come from configuration and are
// immutable. Dynamic admins are persisted as a JSON array under quota:admins.
type AdminSet struct {
	store kvstore.Store
	seed  map[string]struct{}
	mu    sync.Mutex // serialises Add/Remove within this process
}

// NewAdminSet creates an AdminSet seeded with the given handles.
func NewAdminSet(store kvstore.Store, seed []string) *AdminSet {
	s := &AdminSet{store: store, seed: make(map[string]struct{}, len(seed))}
	for _, h := range seed {
		if n := NormalizeHandle(h); n != "" {
			s.seed[n] = struct{}{}
		}
	}
	return s
}

// NormalizeHandle lowercases a handle and strips a leading @.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// IsAdmin reports whether handle is a seed or dynamic admin. Users without a
// handle are never admins.
func (s *AdminSet) IsAdmin(ctx context.Context, handle string) (bool, error) {
	h := NormalizeHandle(handle)
	if h == "" {
		return false, nil
	}
	if _, ok := s.seed[h]; ok {
		return true, nil
	}
	dynamic, err := s.loadDynamic(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range dynamic {
		if d == h {
			return true, nil
		}
	}
	return false, nil
}

// IsSeed reports whether handle is one of the configured admins.
func (s *AdminSet) IsSeed(handle string) bool {
	_, ok := s.seed[NormalizeHandle(handle)]
	return ok
}

// List returns every admin handle, sorted.
func (s *AdminSet) List(ctx context.Context) ([]string, error) {
	dynamic, err := s.loadDynamic(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(s.seed)+len(dynamic))
	for h := range s.seed {
		set[h] = struct{}{}
	}
	for _, h := range dynamic {
		set[h] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

// Add grants admin rights to handle on behalf of actor, who must be an admin.
// An empty actor skips the check; the operator API and CLI use that.
func (s *AdminSet) Add(ctx context.Context, actor, handle string) error {
	h := NormalizeHandle(handle)
	if !validHandle(h) {
		return ErrInvalidHandle
	}
	if err := s.authorize(ctx, actor); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seed[h]; ok {
		return nil
	}
	dynamic, err := s.loadDynamic(ctx)
	if err != nil {
		return err
	}
	for _, d := range dynamic {
		if d == h {
			return nil
		}
	}
	return s.saveDynamic(ctx, append(dynamic, h))
}

// Remove revokes a dynamic admin. Seed admins cannot be removed.
func (s *AdminSet) Remove(ctx context.Context, actor, handle string) error {
	h := NormalizeHandle(handle)
	if !validHandle(h) {
		return ErrInvalidHandle
	}
	if err := s.authorize(ctx, actor); err != nil {
		return err
	}
	if _, ok := s.seed[h]; ok {
		return ErrSeedAdmin
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dynamic, err := s.loadDynamic(ctx)
	if err != nil {
		return err
	}
	kept := dynamic[:0]
	for _, d := range dynamic {
		if d != h {
			kept = append(kept, d)
		}
	}
	return s.saveDynamic(ctx, kept)
}

func (s *AdminSet) authorize(ctx context.Context, actor string) error {
	if actor == "" {
		return nil
	}
	ok, err := s.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAdmin
	}
	return nil
}

func (s *AdminSet) loadDynamic(ctx context.Context) ([]string, error) {
	var handles []string
	if _, err := getJSON(ctx, s.store, adminsKey, &handles); err != nil {
		return nil, fmt.Errorf("loading admins: %w", err)
	}
	return handles, nil
}

func (s *AdminSet) saveDynamic(ctx context.Context, handles []string) error {
	if handles == nil {
		handles = []string{}
	}
	if err := putJSON(ctx, s.store, adminsKey, handles, 0); err != nil {
		return fmt.Errorf("saving admins: %w", err)
	}
	return nil
}

// validHandle accepts Telegram-style usernames: letters, digits and underscores.
func validHandle(h string) bool {
	if h == "" || len(h) > 32 {
		return false
	}
	for _, r := range h {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
