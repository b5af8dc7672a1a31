package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"banknotify/internal/config"
	"banknotify/internal/domain"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS bank_accounts (
	id         text PRIMARY KEY,
	doc        jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS bank_groups (
	id         text PRIMARY KEY,
	doc        jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS bank_settings (
	id         text PRIMARY KEY,
	doc        jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
`

// PostgresStore keeps banking documents as jsonb rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres and ensures the document tables exist.
// Params: context bounding the connection check and postgres settings.
// Returns: ready store or connect/migrate error.
func NewPostgresStore(ctx context.Context, cfg config.PostgresStoreConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutSec)*time.Second)
	defer cancel()
	if err := db.PingContext(connectCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewPostgresStoreFromDB(db)
	if err := store.Migrate(connectCtx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing database handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates document tables when they are absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

// AccountsByIDs fetches accounts in one round trip.
func (s *PostgresStore) AccountsByIDs(ctx context.Context, ids []string) ([]domain.Account, error) {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return []domain.Account{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM bank_accounts WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Account, len(ids))
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		var account domain.Account
		if err := json.Unmarshal(doc, &account); err != nil {
			return nil, fmt.Errorf("decode account %q: %w", id, err)
		}
		byID[id] = account
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	out := make([]domain.Account, 0, len(byID))
	for _, id := range ids {
		if account, ok := byID[id]; ok {
			out = append(out, account)
		}
	}
	return out, nil
}

// Groups returns all groups ordered by id.
func (s *PostgresStore) Groups(ctx context.Context) ([]domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM bank_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Group, 0)
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		var group domain.Group
		if err := json.Unmarshal(doc, &group); err != nil {
			return nil, fmt.Errorf("decode group %q: %w", id, err)
		}
		out = append(out, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// Settings reads the settings document.
func (s *PostgresStore) Settings(ctx context.Context) (domain.Settings, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM bank_settings WHERE id = $1`, SettingsID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Settings{}, ErrNotFound
		}
		return domain.Settings{}, fmt.Errorf("query settings: %w", err)
	}
	var settings domain.Settings
	if err := json.Unmarshal(doc, &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// PutSettings upserts the settings document.
func (s *PostgresStore) PutSettings(ctx context.Context, settings domain.Settings) error {
	if settings.ID == "" {
		settings.ID = SettingsID
	}
	return s.upsert(ctx, "bank_settings", SettingsID, settings)
}

// PutAccount upserts one account.
func (s *PostgresStore) PutAccount(ctx context.Context, account domain.Account) error {
	if err := validateID("account", account.ID); err != nil {
		return err
	}
	return s.upsert(ctx, "bank_accounts", account.ID, account)
}

// PutGroup upserts one group.
func (s *PostgresStore) PutGroup(ctx context.Context, group domain.Group) error {
	if err := validateID("group", group.ID); err != nil {
		return err
	}
	return s.upsert(ctx, "bank_groups", group.ID, group)
}

// upsert writes one jsonb document; table is one of the fixed schema tables.
func (s *PostgresStore) upsert(ctx context.Context, table, id string, value any) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", table, id, err)
	}
	query := `
		INSERT INTO ` + table + ` (id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			doc = EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, id, doc); err != nil {
		return fmt.Errorf("upsert %s %q: %w", table, id, err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
