package kinds

import (
	"context"

	"banknotify/internal/dispatch"
	"banknotify/internal/domain"

	"github.com/shopspring/decimal"
)

// buildHealthBillLinked reports health expenses that received reimbursements.
// Params: dispatch options with flattened rule fields.
// Returns: notification with one line per reimbursed expense, or nil.
func buildHealthBillLinked(_ context.Context, opts dispatch.Options) (*domain.Notification, error) {
	index := accountIndex(opts.Data)
	var lines, ids []string
	for _, tx := range opts.Data.Transactions {
		if !tx.IsHealthExpense() || len(tx.Reimbursements) == 0 {
			continue
		}
		total := decimal.Zero
		for _, reimbursement := range tx.Reimbursements {
			total = total.Add(reimbursement.Amount)
		}
		ids = append(ids, tx.ID)
		lines = append(lines, line(opts, "healthBillLinked", map[string]any{
			"label":    tx.Label,
			"amount":   total,
			"currency": currencyOf(tx.Currency, index[tx.Account].Currency),
		}))
	}
	return compose(opts, "healthBillLinked", nil, lines, map[string][]string{"transactions": ids}), nil
}

// buildLateHealthReimbursement reports health expenses pending for longer than the rule delay.
// Params: dispatch options with flattened rule fields; `value` is a day count.
// Returns: notification with one line per late expense, or nil.
func buildLateHealthReimbursement(_ context.Context, opts dispatch.Options) (*domain.Notification, error) {
	if !positiveDays(opts.Fields) {
		return nil, nil
	}
	days, _ := ruleDays(opts.Fields)
	limit := opts.Now.AddDate(0, 0, -days)

	index := accountIndex(opts.Data)
	var lines, ids []string
	for _, tx := range opts.Data.Transactions {
		if !tx.IsHealthExpense() || tx.ReimbursementStatus != domain.ReimbursementPending {
			continue
		}
		if !tx.Date.Before(limit) {
			continue
		}
		ids = append(ids, tx.ID)
		lines = append(lines, line(opts, "lateHealthReimbursement", map[string]any{
			"date":     tx.Date,
			"label":    tx.Label,
			"amount":   tx.Amount.Abs(),
			"currency": currencyOf(tx.Currency, index[tx.Account].Currency),
		}))
	}
	return compose(opts, "lateHealthReimbursement", map[string]any{"days": days}, lines,
		map[string][]string{"transactions": ids}), nil
}
