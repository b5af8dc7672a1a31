package kinds

import (
	"sort"
	"strings"

	"banknotify/internal/dispatch"
	"banknotify/internal/domain"
	"banknotify/internal/rules"

	"github.com/shopspring/decimal"
)

const (
	// BalanceLowerName is the class name of low balance notifications.
	BalanceLowerName = "BalanceLower"
	// TransactionGreaterName is the class name of large transaction notifications.
	TransactionGreaterName = "TransactionGreater"
	// HealthBillLinkedName is the class name of health reimbursement notifications.
	HealthBillLinkedName = "HealthBillLinked"
	// LateHealthReimbursementName is the class name of late reimbursement notifications.
	LateHealthReimbursementName = "LateHealthReimbursement"
	// DelayedDebitName is the class name of deferred card debit notifications.
	DelayedDebitName = "DelayedDebit"
)

// All returns the fixed ordered notification class list.
// Params: none.
// Returns: fresh class slice evaluated by the dispatcher.
func All() []dispatch.Class {
	return []dispatch.Class{
		{
			Descriptor: rules.Descriptor{Key: "balanceLower", MultiRule: true, Validate: rules.HasNumericValue},
			Name:       BalanceLowerName,
			Build:      buildBalanceLower,
		},
		{
			Descriptor: rules.Descriptor{Key: "transactionGreater", MultiRule: true, Validate: rules.HasNumericValue},
			Name:       TransactionGreaterName,
			Build:      buildTransactionGreater,
		},
		{
			Descriptor: rules.Descriptor{Key: "healthBillLinked"},
			Name:       HealthBillLinkedName,
			Build:      buildHealthBillLinked,
		},
		{
			Descriptor: rules.Descriptor{Key: "lateHealthReimbursement", Validate: positiveDays},
			Name:       LateHealthReimbursementName,
			Build:      buildLateHealthReimbursement,
		},
		{
			Descriptor: rules.Descriptor{Key: "delayedDebit", Validate: nonNegativeDays},
			Name:       DelayedDebitName,
			Build:      buildDelayedDebit,
		},
	}
}

// maxRuleDays caps day-count rules at one hundred years.
const maxRuleDays = 36500

// ruleDays reads a day count rule value.
// Params: rule with numeric `value`.
// Returns: whole days in [0, maxRuleDays] and validity flag.
func ruleDays(rule rules.Rule) (int, bool) {
	value, ok := rule.Value()
	if !ok || value.IsNegative() || value.GreaterThan(decimal.NewFromInt(maxRuleDays)) {
		return 0, false
	}
	return int(value.IntPart()), true
}

func positiveDays(rule rules.Rule) bool {
	value, _ := rule.Value()
	_, ok := ruleDays(rule)
	return ok && value.IsPositive()
}

func nonNegativeDays(rule rules.Rule) bool {
	_, ok := ruleDays(rule)
	return ok
}

// compose renders title and lines of one class notification.
// Params: options, locale key prefix, title params, rendered lines, and data ids.
// Returns: notification, or nil when there are no lines.
func compose(opts dispatch.Options, key string, titleParams map[string]any, lines []string, data map[string][]string) *domain.Notification {
	if len(lines) == 0 {
		return nil
	}
	if titleParams == nil {
		titleParams = map[string]any{}
	}
	titleParams["count"] = len(lines)

	translate := opts.T
	if translate == nil {
		translate = func(key string, _ map[string]any) string { return key }
	}
	notification := &domain.Notification{
		Title:   translate("notifications."+key+".title", titleParams),
		Lines:   lines,
		Message: strings.Join(lines, "\n"),
		Data:    make(map[string]string, len(data)),
	}
	for name, ids := range data {
		notification.Data[name] = strings.Join(uniqueSorted(ids), ",")
	}
	return notification
}

func line(opts dispatch.Options, key string, params map[string]any) string {
	if opts.T == nil {
		return "notifications." + key + ".line"
	}
	return opts.T("notifications."+key+".line", params)
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
