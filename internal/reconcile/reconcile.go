package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"banknotify/internal/domain"
)

// AccountFetcher loads accounts by id in one batched lookup.
// Params: context and requested account ids.
// Returns: found accounts (possibly fewer than requested) or fetch error.
type AccountFetcher interface {
	AccountsByIDs(ctx context.Context, ids []string) ([]domain.Account, error)
}

// AccountIDs returns distinct non-empty account references of a batch.
// Params: transaction batch.
// Returns: sorted unique account ids.
func AccountIDs(transactions []domain.Transaction) []string {
	seen := make(map[string]struct{}, len(transactions))
	ids := make([]string, 0, len(transactions))
	for _, transaction := range transactions {
		id := strings.TrimSpace(transaction.Account)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Missing computes requested ids that were not returned by the store.
// Params: requested ids and found accounts.
// Returns: requested − found, in requested order.
func Missing(requested []string, found []domain.Account) []string {
	foundIDs := make(map[string]struct{}, len(found))
	for _, account := range found {
		foundIDs[account.ID] = struct{}{}
	}
	missing := make([]string, 0)
	for _, id := range requested {
		if _, ok := foundIDs[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Resolution is the outcome of one account reconciliation.
type Resolution struct {
	// Accounts found by the store, possibly fewer than requested.
	Accounts []domain.Account
	// Missing lists requested ids the store did not return.
	Missing []string
}

// ResolveAccounts fetches accounts referenced by a transaction batch.
// Params: context, account fetcher, transaction batch, and optional logger.
// Returns: found accounts; missing ids are logged, never returned as error.
func ResolveAccounts(
	ctx context.Context,
	fetcher AccountFetcher,
	transactions []domain.Transaction,
	logger *slog.Logger,
) ([]domain.Account, error) {
	resolution, err := Resolve(ctx, fetcher, transactions, logger)
	if err != nil {
		return nil, err
	}
	return resolution.Accounts, nil
}

// Resolve fetches batch accounts and reports the ids the store did not return.
// Params: context, account fetcher, transaction batch, and optional logger.
// Returns: found accounts with the logged missing ids, or fetch error.
func Resolve(
	ctx context.Context,
	fetcher AccountFetcher,
	transactions []domain.Transaction,
	logger *slog.Logger,
) (Resolution, error) {
	ids := AccountIDs(transactions)
	if len(ids) == 0 {
		return Resolution{Accounts: []domain.Account{}, Missing: []string{}}, nil
	}

	accounts, err := fetcher.AccountsByIDs(ctx, ids)
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch transaction accounts: %w", err)
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}

	missing := Missing(ids, accounts)
	if len(missing) > 0 && logger != nil {
		logger.Warn("transaction accounts not found", "count", len(missing), "ids", missing)
	}
	return Resolution{Accounts: accounts, Missing: missing}, nil
}
