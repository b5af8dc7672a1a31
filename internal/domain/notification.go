package domain

import (
	"time"

	"banknotify/internal/rules"

	"github.com/shopspring/decimal"
)

// Account is one bank account document.
// Params: identity, labels, type, and balances.
// Returns: account data used by balance and debit notifications.
type Account struct {
	ID                string          `json:"_id"`
	Label             string          `json:"label"`
	ShortLabel        string          `json:"shortLabel,omitempty"`
	Type              string          `json:"type,omitempty"`
	Balance           decimal.Decimal `json:"balance"`
	ComingBalance     decimal.Decimal `json:"comingBalance"`
	Currency          string          `json:"currency,omitempty"`
	CheckingAccountID string          `json:"checkingAccount,omitempty"`
	NextDebitDate     *time.Time      `json:"nextDebitDate,omitempty"`
}

// AccountTypeCreditCard marks deferred-debit card accounts.
const AccountTypeCreditCard = "CreditCard"

// DisplayLabel returns short label when present.
// Params: none.
// Returns: label shown in notifications.
func (a Account) DisplayLabel() string {
	if a.ShortLabel != "" {
		return a.ShortLabel
	}
	return a.Label
}

// Group is a named collection of accounts.
// Params: identity, label, and member account ids.
// Returns: group used to scope notification rules.
type Group struct {
	ID       string   `json:"_id"`
	Label    string   `json:"label"`
	Accounts []string `json:"accounts"`
}

// Settings is the banking settings document.
// Params: document id and notifications rule configuration.
// Returns: user preferences for notification classes.
type Settings struct {
	ID            string              `json:"_id"`
	Lang          string              `json:"lang,omitempty"`
	Notifications rules.Configuration `json:"notifications"`
}

// Notification is one outbound message built by a notification class.
// Params: identity, class, rendered title/body, and delivery metadata.
// Returns: transport-agnostic payload for senders.
type Notification struct {
	ID        string            `json:"id"`
	RunID     string            `json:"run_id,omitempty"`
	Class     string            `json:"class"`
	Channel   string            `json:"channel,omitempty"`
	Lang      string            `json:"lang,omitempty"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Lines     []string          `json:"lines,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
