package kinds

import (
	"context"

	"banknotify/internal/dispatch"
	"banknotify/internal/domain"
)

// buildBalanceLower reports accounts whose balance dropped under a rule threshold.
// Params: dispatch options with multi-rule set.
// Returns: notification with one line per account, or nil.
func buildBalanceLower(_ context.Context, opts dispatch.Options) (*domain.Notification, error) {
	var lines, ids []string
	reported := make(map[string]struct{})
	for _, rule := range opts.Rules {
		threshold, ok := rule.Value()
		if !ok {
			continue
		}
		in := ruleScope(rule, opts.Data.Groups)
		for _, account := range opts.Data.Accounts {
			if _, done := reported[account.ID]; done || !in.has(account.ID) {
				continue
			}
			if !account.Balance.LessThan(threshold) {
				continue
			}
			reported[account.ID] = struct{}{}
			ids = append(ids, account.ID)
			lines = append(lines, line(opts, "balanceLower", map[string]any{
				"label":     account.DisplayLabel(),
				"balance":   account.Balance,
				"threshold": threshold,
				"currency":  currencyOf(account.Currency),
			}))
		}
	}
	return compose(opts, "balanceLower", nil, lines, map[string][]string{"accounts": ids}), nil
}

// buildTransactionGreater reports transactions whose absolute amount exceeds a rule threshold.
// Params: dispatch options with multi-rule set.
// Returns: notification with one line per transaction, or nil.
func buildTransactionGreater(_ context.Context, opts dispatch.Options) (*domain.Notification, error) {
	index := accountIndex(opts.Data)
	var lines, ids, accounts []string
	reported := make(map[int]struct{})
	for _, rule := range opts.Rules {
		threshold, ok := rule.Value()
		if !ok {
			continue
		}
		in := ruleScope(rule, opts.Data.Groups)
		for i, tx := range opts.Data.Transactions {
			if _, done := reported[i]; done || !in.has(tx.Account) {
				continue
			}
			if !tx.Amount.Abs().GreaterThan(threshold) {
				continue
			}
			reported[i] = struct{}{}
			ids = append(ids, tx.ID)
			accounts = append(accounts, tx.Account)
			lines = append(lines, line(opts, "transactionGreater", map[string]any{
				"date":     tx.Date,
				"label":    tx.Label,
				"amount":   tx.Amount,
				"currency": currencyOf(tx.Currency, index[tx.Account].Currency),
				"account":  accountLabel(index, tx.Account),
			}))
		}
	}
	return compose(opts, "transactionGreater", nil, lines, map[string][]string{
		"transactions": ids,
		"accounts":     accounts,
	}), nil
}
