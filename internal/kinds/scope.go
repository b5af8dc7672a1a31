package kinds

import (
	"banknotify/internal/dispatch"
	"banknotify/internal/domain"
	"banknotify/internal/rules"
)

// scope restricts a rule to one account or to the accounts of one group.
type scope struct {
	all      bool
	accounts map[string]struct{}
}

// ruleScope reads optional `accountOrGroup` reference from a rule.
// Params: rule and group collection used to expand group references.
// Returns: account filter; unknown references match nothing.
func ruleScope(rule rules.Rule, groups []domain.Group) scope {
	ref, ok := rule["accountOrGroup"].(map[string]any)
	if !ok || ref == nil {
		return scope{all: true}
	}
	id, _ := ref["_id"].(string)
	doctype, _ := ref["_type"].(string)
	if id == "" {
		return scope{all: true}
	}

	out := scope{accounts: make(map[string]struct{})}
	switch doctype {
	case domain.DoctypeGroups:
		for _, group := range groups {
			if group.ID != id {
				continue
			}
			for _, accountID := range group.Accounts {
				out.accounts[accountID] = struct{}{}
			}
		}
	default:
		out.accounts[id] = struct{}{}
	}
	return out
}

// has reports whether account id is inside scope.
func (s scope) has(accountID string) bool {
	if s.all {
		return true
	}
	_, ok := s.accounts[accountID]
	return ok
}

// accountIndex maps resolved accounts by id.
func accountIndex(data dispatch.Data) map[string]domain.Account {
	index := make(map[string]domain.Account, len(data.Accounts))
	for _, account := range data.Accounts {
		index[account.ID] = account
	}
	return index
}

// accountLabel returns display label for account id or the id itself.
func accountLabel(index map[string]domain.Account, id string) string {
	if account, ok := index[id]; ok && account.DisplayLabel() != "" {
		return account.DisplayLabel()
	}
	return id
}

// currencyOf picks currency or the default one.
func currencyOf(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return "EUR"
}
