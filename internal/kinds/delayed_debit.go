package kinds

import (
	"context"
	"fmt"

	"banknotify/internal/dispatch"
	"banknotify/internal/domain"
)

// buildDelayedDebit warns when a deferred card debit would overdraw its checking account.
// Params: dispatch options with flattened rule fields; `value` is the look-ahead in days.
// Returns: notification with one line per endangered checking account, or nil.
func buildDelayedDebit(ctx context.Context, opts dispatch.Options) (*domain.Notification, error) {
	days, ok := ruleDays(opts.Fields)
	if !ok {
		return nil, nil
	}
	horizon := opts.Now.AddDate(0, 0, days)

	cards := make([]domain.Account, 0)
	for _, account := range opts.Data.Accounts {
		if account.Type != domain.AccountTypeCreditCard || account.CheckingAccountID == "" {
			continue
		}
		if account.NextDebitDate == nil || !account.ComingBalance.IsNegative() {
			continue
		}
		if account.NextDebitDate.Before(opts.Now) || account.NextDebitDate.After(horizon) {
			continue
		}
		cards = append(cards, account)
	}
	if len(cards) == 0 {
		return nil, nil
	}

	checking, err := checkingAccounts(ctx, opts, cards)
	if err != nil {
		return nil, err
	}

	var lines, ids []string
	for _, card := range cards {
		account, ok := checking[card.CheckingAccountID]
		if !ok {
			continue
		}
		debit := card.ComingBalance.Abs()
		if !account.Balance.LessThan(debit) {
			continue
		}
		ids = append(ids, account.ID, card.ID)
		lines = append(lines, line(opts, "delayedDebit", map[string]any{
			"card":     card.DisplayLabel(),
			"debit":    debit,
			"currency": currencyOf(card.Currency, account.Currency),
			"account":  account.DisplayLabel(),
			"date":     card.NextDebitDate,
			"balance":  account.Balance,
		}))
	}
	return compose(opts, "delayedDebit", nil, lines, map[string][]string{"accounts": ids}), nil
}

// checkingAccounts resolves checking accounts linked to cards, fetching those outside the batch.
// Params: context, options carrying the store client, and selected cards.
// Returns: checking accounts by id or fetch error.
func checkingAccounts(ctx context.Context, opts dispatch.Options, cards []domain.Account) (map[string]domain.Account, error) {
	index := accountIndex(opts.Data)
	out := make(map[string]domain.Account, len(cards))
	var missing []string
	for _, card := range cards {
		if account, ok := index[card.CheckingAccountID]; ok {
			out[account.ID] = account
			continue
		}
		missing = append(missing, card.CheckingAccountID)
	}
	missing = uniqueSorted(missing)
	if len(missing) == 0 || opts.Client == nil {
		return out, nil
	}

	fetched, err := opts.Client.AccountsByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("fetch checking accounts: %w", err)
	}
	for _, account := range fetched {
		out[account.ID] = account
	}
	return out, nil
}
