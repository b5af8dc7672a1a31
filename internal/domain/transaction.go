package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DoctypeAccounts identifies bank account documents.
	DoctypeAccounts = "io.cozy.bank.accounts"
	// DoctypeGroups identifies account group documents.
	DoctypeGroups = "io.cozy.bank.groups"
	// DoctypeTransactions identifies bank operation documents.
	DoctypeTransactions = "io.cozy.bank.operations"
	// DoctypeSettings identifies the banking settings document.
	DoctypeSettings = "io.cozy.bank.settings"

	// HealthExpenseCategory is the category id of health expenses.
	HealthExpenseCategory = "400610"
)

// ReimbursementStatus tracks health reimbursement progress of one transaction.
// Params: none/pending/reimbursed markers.
// Returns: status used by health notifications.
type ReimbursementStatus string

const (
	// ReimbursementNo marks transactions that expect no reimbursement.
	ReimbursementNo ReimbursementStatus = "no-reimbursement"
	// ReimbursementPending marks transactions waiting for reimbursement.
	ReimbursementPending ReimbursementStatus = "pending"
	// ReimbursementDone marks reimbursed transactions.
	ReimbursementDone ReimbursementStatus = "reimbursed"
)

// Reimbursement links one bill to the transaction that reimburses it.
// Params: bill reference, amount, and reimbursement date.
// Returns: reimbursement entry attached to an expense.
type Reimbursement struct {
	BillID string          `json:"billId"`
	Amount decimal.Decimal `json:"amount"`
	Date   *time.Time      `json:"date,omitempty"`
}

// Transaction is one bank operation imported by a connector.
// Params: identity, account reference, signed amount, and date.
// Returns: read-only transaction record for notification rules.
type Transaction struct {
	ID                  string              `json:"_id"`
	Account             string              `json:"account"`
	Label               string              `json:"label"`
	Amount              decimal.Decimal     `json:"amount"`
	Currency            string              `json:"currency,omitempty"`
	Date                time.Time           `json:"date"`
	CategoryID          string              `json:"categoryId,omitempty"`
	ReimbursementStatus ReimbursementStatus `json:"reimbursementStatus,omitempty"`
	Reimbursements      []Reimbursement     `json:"reimbursements,omitempty"`
}

// IsHealthExpense reports whether transaction is a health expense debit.
// Params: none.
// Returns: true for negative amounts in health category.
func (t Transaction) IsHealthExpense() bool {
	return t.CategoryID == HealthExpenseCategory && t.Amount.IsNegative()
}

// DecodeTransactions decodes one transaction object or an array of them.
// Params: raw JSON payload.
// Returns: validated transactions or decode/validation error.
func DecodeTransactions(raw []byte) ([]Transaction, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return DecodeTransactionsReader(decoder)
	}
	var transaction Transaction
	if err := decoder.Decode(&transaction); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if err := transaction.Validate(); err != nil {
		return nil, err
	}
	return []Transaction{transaction}, nil
}

// DecodeTransactionsReader decodes and validates one batch from stream.
// Params: decoder positioned on one JSON array.
// Returns: validated transactions or decode/validation error.
func DecodeTransactionsReader(reader *json.Decoder) ([]Transaction, error) {
	var transactions []Transaction
	if err := reader.Decode(&transactions); err != nil {
		return nil, fmt.Errorf("decode transaction batch: %w", err)
	}
	if len(transactions) == 0 {
		return nil, errors.New("transaction batch must contain at least one transaction")
	}
	for i := range transactions {
		if err := transactions[i].Validate(); err != nil {
			return nil, fmt.Errorf("transaction[%d]: %w", i, err)
		}
	}
	return transactions, nil
}

// Validate checks minimal transaction contract.
// Params: decoded transaction fields.
// Returns: validation error when account or date is missing.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Account) == "" {
		return errors.New("account is required")
	}
	if t.Date.IsZero() {
		return errors.New("date is required")
	}
	return nil
}
