package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"banknotify/internal/config"
	"banknotify/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSStore persists banking documents in JetStream KV buckets.
// Params: NATS connection, JetStream context, and KV bucket handles.
// Returns: KV-backed store implementation.
type NATSStore struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	accountsKV nats.KeyValue
	groupsKV   nats.KeyValue
	settingsKV nats.KeyValue
}

// NewNATSStore opens (or creates) KV buckets and returns NATS store backend.
// Params: NATS/JetStream settings derived from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStoreConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	buckets := make([]nats.KeyValue, 0, 3)
	for _, name := range []string{settings.AccountsBucket, settings.GroupsBucket, settings.SettingsBucket} {
		kv, err := openBucket(js, name, settings.AllowCreateBuckets)
		if err != nil {
			nc.Close()
			return nil, err
		}
		buckets = append(buckets, kv)
	}

	return &NATSStore{
		nc:         nc,
		js:         js,
		accountsKV: buckets[0],
		groupsKV:   buckets[1],
		settingsKV: buckets[2],
	}, nil
}

// openBucket binds one KV bucket, creating it when allowed.
// Params: JetStream context, bucket name, and create flag.
// Returns: bucket handle or open/create error.
func openBucket(js nats.JetStreamContext, name string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(name)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", name, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: name})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", name, err)
	}
	return kv, nil
}

// AccountsByIDs reads accounts one key at a time; KV has no multi-get.
// Params: account ids.
// Returns: found accounts in request order.
func (s *NATSStore) AccountsByIDs(_ context.Context, ids []string) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(ids))
	for _, id := range normalizeIDs(ids) {
		var account domain.Account
		found, err := getJSON(s.accountsKV, kvKey(id), &account)
		if err != nil {
			return nil, fmt.Errorf("get account %q: %w", id, err)
		}
		if found {
			out = append(out, account)
		}
	}
	return out, nil
}

// Groups lists every group in the groups bucket.
// Params: none.
// Returns: groups ordered by id.
func (s *NATSStore) Groups(_ context.Context) ([]domain.Group, error) {
	keys, err := s.groupsKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []domain.Group{}, nil
		}
		return nil, fmt.Errorf("list groups: %w", err)
	}
	out := make([]domain.Group, 0, len(keys))
	for _, key := range keys {
		var group domain.Group
		found, err := getJSON(s.groupsKV, key, &group)
		if err != nil {
			return nil, fmt.Errorf("get group %q: %w", key, err)
		}
		if found {
			out = append(out, group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Settings reads the settings document.
// Params: none.
// Returns: settings or ErrNotFound.
func (s *NATSStore) Settings(_ context.Context) (domain.Settings, error) {
	var settings domain.Settings
	found, err := getJSON(s.settingsKV, SettingsID, &settings)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	if !found {
		return domain.Settings{}, ErrNotFound
	}
	return settings, nil
}

// PutSettings writes the settings document.
// Params: settings document.
// Returns: encode/put error.
func (s *NATSStore) PutSettings(_ context.Context, settings domain.Settings) error {
	if settings.ID == "" {
		settings.ID = SettingsID
	}
	return putJSON(s.settingsKV, SettingsID, settings)
}

// PutAccount writes one account document.
// Params: account document.
// Returns: validation/encode/put error.
func (s *NATSStore) PutAccount(_ context.Context, account domain.Account) error {
	if err := validateID("account", account.ID); err != nil {
		return err
	}
	return putJSON(s.accountsKV, kvKey(account.ID), account)
}

// PutGroup writes one group document.
// Params: group document.
// Returns: validation/encode/put error.
func (s *NATSStore) PutGroup(_ context.Context, group domain.Group) error {
	if err := validateID("group", group.ID); err != nil {
		return err
	}
	return putJSON(s.groupsKV, kvKey(group.ID), group)
}

// Ping reports whether the NATS connection is usable.
func (s *NATSStore) Ping(context.Context) error {
	if s.nc == nil || !s.nc.IsConnected() {
		return errors.New("nats store is not connected")
	}
	return nil
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

// kvKey maps a document id onto the KV key alphabet.
// Params: document id.
// Returns: key with characters outside [A-Za-z0-9_=.-] replaced.
func kvKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '=', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func getJSON(kv nats.KeyValue, key string, dst any) (bool, error) {
	entry, err := kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(entry.Value(), dst); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func putJSON(kv nats.KeyValue, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if _, err := kv.Put(key, body); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}
