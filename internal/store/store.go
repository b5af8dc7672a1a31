package store

import (
	"context"
	"errors"
	"fmt"

	"banknotify/internal/config"
	"banknotify/internal/domain"
)

// SettingsID is the id of the single banking settings document.
const SettingsID = "configuration"

// ErrNotFound indicates an absent document.
var ErrNotFound = errors.New("not found")

// Store reads and writes banking documents used by the notification pipeline.
// Params: batched account lookup, group listing, and settings access.
// Returns: backend persistence behavior.
type Store interface {
	AccountsByIDs(ctx context.Context, ids []string) ([]domain.Account, error)
	Groups(ctx context.Context) ([]domain.Group, error)
	Settings(ctx context.Context) (domain.Settings, error)
	PutSettings(ctx context.Context, settings domain.Settings) error
	PutAccount(ctx context.Context, account domain.Account) error
	PutGroup(ctx context.Context, group domain.Group) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store backend selected in configuration.
// Params: context for connection checks and full runtime config.
// Returns: ready store or setup error.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		memory := NewMemoryStore()
		if cfg.Store.Memory.SeedFile != "" {
			if err := memory.LoadSeedFile(cfg.Store.Memory.SeedFile); err != nil {
				return nil, err
			}
		}
		return memory, nil
	case config.StoreBackendNATS:
		return NewNATSStore(config.DeriveStoreNATSConfig(cfg))
	case config.StoreBackendPostgres:
		return NewPostgresStore(ctx, cfg.Store.Postgres)
	case config.StoreBackendRedis:
		return NewRedisStore(ctx, cfg.Store.Redis)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// normalizeIDs drops empty and duplicate ids preserving order.
func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s _id is required", kind)
	}
	return nil
}
