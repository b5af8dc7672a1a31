package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"banknotify/internal/domain"
)

// MemoryStore keeps banking documents in process memory for single-instance mode.
// Params: in-memory maps guarded by one RW mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	groups   map[string]domain.Group
	settings *domain.Settings
}

// Seed is the JSON shape of a memory store seed file.
type Seed struct {
	Accounts []domain.Account `json:"accounts"`
	Groups   []domain.Group   `json:"groups"`
	Settings *domain.Settings `json:"settings,omitempty"`
}

// NewMemoryStore creates empty in-memory store.
// Params: none.
// Returns: initialized in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]domain.Account),
		groups:   make(map[string]domain.Group),
	}
}

// LoadSeedFile imports accounts, groups, and settings from a JSON file.
// Params: seed file path.
// Returns: read/decode/validation error.
func (s *MemoryStore) LoadSeedFile(path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read store seed %q: %w", path, err)
	}
	var seed Seed
	if err := json.Unmarshal(body, &seed); err != nil {
		return fmt.Errorf("decode store seed %q: %w", path, err)
	}
	return s.Load(seed)
}

// Load imports seed documents, replacing documents with the same ids.
// Params: decoded seed.
// Returns: validation error for documents without ids.
func (s *MemoryStore) Load(seed Seed) error {
	ctx := context.Background()
	for _, account := range seed.Accounts {
		if err := s.PutAccount(ctx, account); err != nil {
			return err
		}
	}
	for _, group := range seed.Groups {
		if err := s.PutGroup(ctx, group); err != nil {
			return err
		}
	}
	if seed.Settings != nil {
		return s.PutSettings(ctx, *seed.Settings)
	}
	return nil
}

// AccountsByIDs returns known accounts in request order.
// Params: account ids.
// Returns: found accounts; unknown ids are skipped.
func (s *MemoryStore) AccountsByIDs(_ context.Context, ids []string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(ids))
	for _, id := range normalizeIDs(ids) {
		if account, ok := s.accounts[id]; ok {
			out = append(out, account)
		}
	}
	return out, nil
}

// Groups returns all groups ordered by id.
// Params: none.
// Returns: group list.
func (s *MemoryStore) Groups(_ context.Context) ([]domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Group, 0, len(s.groups))
	for _, group := range s.groups {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Settings returns the banking settings document.
// Params: none.
// Returns: settings or ErrNotFound.
func (s *MemoryStore) Settings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return domain.Settings{}, ErrNotFound
	}
	return *s.settings, nil
}

// PutSettings replaces the settings document.
// Params: settings document.
// Returns: nil.
func (s *MemoryStore) PutSettings(_ context.Context, settings domain.Settings) error {
	if settings.ID == "" {
		settings.ID = SettingsID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

// PutAccount creates or replaces one account.
// Params: account document.
// Returns: validation error.
func (s *MemoryStore) PutAccount(_ context.Context, account domain.Account) error {
	if err := validateID("account", account.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	return nil
}

// PutGroup creates or replaces one group.
// Params: group document.
// Returns: validation error.
func (s *MemoryStore) PutGroup(_ context.Context, group domain.Group) error {
	if err := validateID("group", group.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.ID] = group
	return nil
}

// Ping always succeeds for the memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close releases memory store resources.
func (s *MemoryStore) Close() error { return nil }
