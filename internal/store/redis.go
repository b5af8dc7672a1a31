package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"banknotify/internal/config"
	"banknotify/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps banking documents as JSON strings under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
// Params: context for the ping and redis settings.
// Returns: ready store or connect error.
func NewRedisStore(ctx context.Context, cfg config.RedisStoreConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) accountKey(id string) string { return s.prefix + ":account:" + id }
func (s *RedisStore) groupKey(id string) string   { return s.prefix + ":group:" + id }
func (s *RedisStore) groupSetKey() string         { return s.prefix + ":groups" }
func (s *RedisStore) settingsKey() string         { return s.prefix + ":settings:" + SettingsID }

// AccountsByIDs fetches accounts with a single MGET.
func (s *RedisStore) AccountsByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return []domain.Account{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.accountKey(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget accounts: %w", err)
	}
	out := make([]domain.Account, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var account domain.Account
		if err := json.Unmarshal([]byte(raw), &account); err != nil {
			return nil, fmt.Errorf("decode account %q: %w", ids[i], err)
		}
		out = append(out, account)
	}
	return out, nil
}

// Groups reads every group referenced by the group id set.
func (s *RedisStore) Groups(ctx context.Context) ([]domain.Group, error) {
	ids, err := s.client.SMembers(ctx, s.groupSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list group ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Group{}, nil
	}
	sort.Strings(ids)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.groupKey(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget groups: %w", err)
	}
	out := make([]domain.Group, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var group domain.Group
		if err := json.Unmarshal([]byte(raw), &group); err != nil {
			return nil, fmt.Errorf("decode group %q: %w", ids[i], err)
		}
		out = append(out, group)
	}
	return out, nil
}

// Settings reads the settings document.
func (s *RedisStore) Settings(ctx context.Context) (domain.Settings, error) {
	raw, err := s.client.Get(ctx, s.settingsKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Settings{}, ErrNotFound
		}
		return domain.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	var settings domain.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// PutSettings writes the settings document.
func (s *RedisStore) PutSettings(ctx context.Context, settings domain.Settings) error {
	if settings.ID == "" {
		settings.ID = SettingsID
	}
	body, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.client.Set(ctx, s.settingsKey(), body, 0).Err(); err != nil {
		return fmt.Errorf("set settings: %w", err)
	}
	return nil
}

// PutAccount writes one account.
func (s *RedisStore) PutAccount(ctx context.Context, account domain.Account) error {
	if err := validateID("account", account.ID); err != nil {
		return err
	}
	body, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account %q: %w", account.ID, err)
	}
	if err := s.client.Set(ctx, s.accountKey(account.ID), body, 0).Err(); err != nil {
		return fmt.Errorf("set account %q: %w", account.ID, err)
	}
	return nil
}

// PutGroup writes one group and registers its id in the group set.
func (s *RedisStore) PutGroup(ctx context.Context, group domain.Group) error {
	if err := validateID("group", group.ID); err != nil {
		return err
	}
	body, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("encode group %q: %w", group.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.groupKey(group.ID), body, 0)
	pipe.SAdd(ctx, s.groupSetKey(), group.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put group %q: %w", group.ID, err)
	}
	return nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
