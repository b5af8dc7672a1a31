package kinds

import (
	"context"
	"errors"
	"testing"
	"time"

	"banknotify/internal/dispatch"
	"banknotify/internal/domain"
	"banknotify/internal/i18n"
	"banknotify/internal/rules"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stubClient struct {
	accounts map[string]domain.Account
	err      error
	calls    [][]string
}

func (s *stubClient) AccountsByIDs(_ context.Context, ids []string) ([]domain.Account, error) {
	s.calls = append(s.calls, append([]string(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		if account, ok := s.accounts[id]; ok {
			out = append(out, account)
		}
	}
	return out, nil
}

func (s *stubClient) Groups(context.Context) ([]domain.Group, error) { return nil, nil }

func options(t *testing.T, data dispatch.Data) dispatch.Options {
	t.Helper()
	catalog, err := i18n.Load("")
	require.NoError(t, err)
	dictionary := catalog.Resolve("en")
	return dispatch.Options{
		T:      dictionary.Translator(),
		Lang:   dictionary.Lang,
		Data:   data,
		Now:    runTime,
		Fields: rules.Rule{},
	}
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func classByName(t *testing.T, name string) dispatch.Class {
	t.Helper()
	for _, class := range All() {
		if class.Name == name {
			return class
		}
	}
	t.Fatalf("class %s not registered", name)
	return dispatch.Class{}
}

func TestAllOrderAndDescriptors(t *testing.T) {
	t.Parallel()

	classes := All()
	require.Len(t, classes, 5)

	names := make([]string, 0, len(classes))
	for _, class := range classes {
		names = append(names, class.Name)
		assert.NotNil(t, class.Build, class.Name)
	}
	assert.Equal(t, []string{
		BalanceLowerName,
		TransactionGreaterName,
		HealthBillLinkedName,
		LateHealthReimbursementName,
		DelayedDebitName,
	}, names)
	assert.True(t, classes[0].MultiRule)
	assert.True(t, classes[1].MultiRule)
	assert.False(t, classes[2].MultiRule)
}

func TestValidityPredicates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		class string
		rule  map[string]any
		want  bool
	}{
		{class: BalanceLowerName, rule: map[string]any{"enabled": true, "value": 100}, want: true},
		{class: BalanceLowerName, rule: map[string]any{"enabled": true, "value": "100"}, want: false},
		{class: TransactionGreaterName, rule: map[string]any{"enabled": true}, want: false},
		{class: HealthBillLinkedName, rule: map[string]any{"enabled": true}, want: true},
		{class: LateHealthReimbursementName, rule: map[string]any{"enabled": true, "value": 0}, want: false},
		{class: LateHealthReimbursementName, rule: map[string]any{"enabled": true, "value": 30}, want: true},
		{class: DelayedDebitName, rule: map[string]any{"enabled": true, "value": 0}, want: true},
		{class: DelayedDebitName, rule: map[string]any{"enabled": true, "value": -1}, want: false},
		{class: LateHealthReimbursementName, rule: map[string]any{"enabled": true, "value": int64(200000)}, want: false},
		{class: DelayedDebitName, rule: map[string]any{"enabled": true, "value": 36501}, want: false},
		{class: DelayedDebitName, rule: map[string]any{"enabled": true, "value": 36500}, want: true},
		{class: BalanceLowerName, rule: map[string]any{"enabled": true, "threshold": 100}, want: true},
	}
	for _, tc := range cases {
		class := classByName(t, tc.class)
		cfg := rules.Configuration{class.Key: tc.rule}
		assert.Equal(t, tc.want, rules.Enabled(class.Descriptor, cfg), "%s %v", tc.class, tc.rule)
	}
}

func TestBalanceLowerFiresBelowThreshold(t *testing.T) {
	t.Parallel()

	opts := options(t, dispatch.Data{Accounts: []domain.Account{
		{ID: "A1", Label: "Checking", Balance: dec("42"), Currency: "EUR"},
		{ID: "A2", Label: "Savings", Balance: dec("5000")},
	}})
	opts.Rules = []rules.Rule{{"enabled": true, "value": 100}}

	notification, err := buildBalanceLower(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, "1 account(s) below your balance threshold", notification.Title)
	assert.Equal(t, []string{"Checking: 42.00 EUR (threshold 100.00 EUR)"}, notification.Lines)
	assert.Equal(t, "A1", notification.Data["accounts"])
}

func TestBalanceLowerHonoursGroupScope(t *testing.T) {
	t.Parallel()

	opts := options(t, dispatch.Data{
		Accounts: []domain.Account{
			{ID: "A1", Label: "Joint", Balance: dec("10")},
			{ID: "A2", Label: "Personal", Balance: dec("10")},
		},
		Groups: []domain.Group{{ID: "G1", Label: "Family", Accounts: []string{"A2"}}},
	})
	opts.Rules = []rules.Rule{{
		"enabled":        true,
		"value":          50,
		"accountOrGroup": map[string]any{"_id": "G1", "_type": domain.DoctypeGroups},
	}}

	notification, err := buildBalanceLower(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, "A2", notification.Data["accounts"])
}

func TestBalanceLowerReportsAccountOnceAcrossRules(t *testing.T) {
	t.Parallel()

	opts := options(t, dispatch.Data{Accounts: []domain.Account{{ID: "A1", Label: "Checking", Balance: dec("1")}}})
	opts.Rules = []rules.Rule{
		{"enabled": true, "value": 100},
		{"enabled": true, "value": 50, "accountOrGroup": map[string]any{"_id": "A1", "_type": domain.DoctypeAccounts}},
	}

	notification, err := buildBalanceLower(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Len(t, notification.Lines, 1)
}

func TestBalanceLowerNothingToSend(t *testing.T) {
	t.Parallel()

	opts := options(t, dispatch.Data{Accounts: []domain.Account{{ID: "A1", Balance: dec("500")}}})
	opts.Rules = []rules.Rule{{"enabled": true, "value": 100}}

	notification, err := buildBalanceLower(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, notification)
}

func TestTransactionGreaterUsesAbsoluteAmount(t *testing.T) {
	t.Parallel()

	opts := options(t, dispatch.Data{
		Accounts: []domain.Account{{ID: "A1", Label: "Checking", ShortLabel: "CHK"}},
		Transactions: []domain.Transaction{
			{ID: "T1", Account: "A1", Label: "Rent", Amount: dec("-900"), Currency: "EUR", Date: runTime},
			{ID: "T2", Account: "A1", Label: "Coffee", Amount: dec("-3.5"), Date: runTime},
			{ID: "T3", Account: "A9", Label: "Salary", Amount: dec("2500"), Date: runTime},
		},
	})
	opts.Rules = []rules.Rule{{"enabled": true, "value": 100}}

	notification, err := buildTransactionGreater(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, []string{
		"2026-03-10 Rent: -900.00 EUR on CHK",
		"2026-03-10 Salary: 2500.00 EUR on A9",
	}, notification.Lines)
	assert.Equal(t, "T1,T3", notification.Data["transactions"])
	assert.Equal(t, "A1,A9", notification.Data["accounts"])
}

func TestHealthBillLinked(t *testing.T) {
	t.Parallel()

	opts := options(t, dispatch.Data{Transactions: []domain.Transaction{
		{
			ID: "T1", Account: "A1", Label: "Doctor", Amount: dec("-25"), Date: runTime,
			CategoryID: domain.HealthExpenseCategory,
			Reimbursements: []domain.Reimbursement{
				{BillID: "io.cozy.bills:1", Amount: dec("16.5")},
				{BillID: "io.cozy.bills:2", Amount: dec("8.5")},
			},
		},
		{ID: "T2", Account: "A1", Label: "Pharmacy", Amount: dec("-10"), Date: runTime, CategoryID: domain.HealthExpenseCategory},
	}})

	notification, err := buildHealthBillLinked(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, []string{"Doctor: 25.00 EUR reimbursed"}, notification.Lines)
	assert.Equal(t, "T1", notification.Data["transactions"])
}

func TestLateHealthReimbursement(t *testing.T) {
	t.Parallel()

	opts := options(t, dispatch.Data{Transactions: []domain.Transaction{
		{
			ID: "OLD", Account: "A1", Label: "Dentist", Amount: dec("-60"),
			Date: runTime.AddDate(0, 0, -45), CategoryID: domain.HealthExpenseCategory,
			ReimbursementStatus: domain.ReimbursementPending,
		},
		{
			ID: "NEW", Account: "A1", Label: "Doctor", Amount: dec("-25"),
			Date: runTime.AddDate(0, 0, -3), CategoryID: domain.HealthExpenseCategory,
			ReimbursementStatus: domain.ReimbursementPending,
		},
		{
			ID: "DONE", Account: "A1", Label: "Optician", Amount: dec("-200"),
			Date: runTime.AddDate(0, 0, -90), CategoryID: domain.HealthExpenseCategory,
			ReimbursementStatus: domain.ReimbursementDone,
		},
	}})
	opts.Fields = rules.Rule{"enabled": true, "value": int64(30)}

	notification, err := buildLateHealthReimbursement(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, "1 health expense(s) waiting for reimbursement for more than 30 days", notification.Title)
	assert.Equal(t, "OLD", notification.Data["transactions"])
}

func TestDayRulesRejectOversizedValues(t *testing.T) {
	t.Parallel()

	pending := domain.Transaction{
		ID: "T1", Account: "A1", Label: "Doctor", Amount: dec("-25"),
		Date: runTime.AddDate(0, 0, -1), CategoryID: domain.HealthExpenseCategory,
		ReimbursementStatus: domain.ReimbursementPending,
	}
	opts := options(t, dispatch.Data{Transactions: []domain.Transaction{pending}})
	opts.Fields = rules.Rule{"enabled": true, "value": int64(200000)}

	notification, err := buildLateHealthReimbursement(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, notification)

	debitDate := runTime.AddDate(0, 0, 2)
	client := &stubClient{accounts: map[string]domain.Account{"CHK": {ID: "CHK", Balance: dec("1")}}}
	opts = options(t, dispatch.Data{Accounts: []domain.Account{{
		ID: "CARD", Type: domain.AccountTypeCreditCard,
		ComingBalance: dec("-320"), CheckingAccountID: "CHK", NextDebitDate: &debitDate,
	}}})
	opts.Client = client
	opts.Fields = rules.Rule{"enabled": true, "value": int64(1 << 40)}

	notification, err = buildDelayedDebit(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, notification)
	assert.Empty(t, client.calls)
}

func TestEnabledClassesAcceptThresholdField(t *testing.T) {
	t.Parallel()

	cfg := rules.Configuration{"balanceLower": map[string]any{"enabled": true, "threshold": 100}}
	enabled := dispatch.EnabledClasses(All(), cfg, nil)
	require.Len(t, enabled, 1)
	assert.Equal(t, BalanceLowerName, enabled[0].Name)

	opts := options(t, dispatch.Data{Accounts: []domain.Account{{ID: "A1", Label: "Checking", Balance: dec("42"), Currency: "EUR"}}})
	opts.Rules = rules.Active(enabled[0].Descriptor, cfg)

	notification, err := buildBalanceLower(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, "A1", notification.Data["accounts"])
}

func TestLateHealthReimbursementWithoutFieldsSkips(t *testing.T) {
	t.Parallel()

	notification, err := buildLateHealthReimbursement(context.Background(), options(t, dispatch.Data{}))
	require.NoError(t, err)
	assert.Nil(t, notification)
}

func TestDelayedDebitFetchesCheckingAccount(t *testing.T) {
	t.Parallel()

	debitDate := runTime.AddDate(0, 0, 2)
	client := &stubClient{accounts: map[string]domain.Account{
		"CHK": {ID: "CHK", Label: "Checking", Balance: dec("150"), Currency: "EUR"},
	}}
	opts := options(t, dispatch.Data{Accounts: []domain.Account{{
		ID: "CARD", Label: "Visa", Type: domain.AccountTypeCreditCard,
		ComingBalance: dec("-320"), CheckingAccountID: "CHK", NextDebitDate: &debitDate,
	}}})
	opts.Client = client
	opts.Fields = rules.Rule{"enabled": true, "value": 5}

	notification, err := buildDelayedDebit(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, notification)
	assert.Equal(t, [][]string{{"CHK"}}, client.calls)
	assert.Equal(t, []string{"Visa will debit 320.00 EUR from Checking on 2026-03-12 (balance 150.00 EUR)"}, notification.Lines)
	assert.Equal(t, "CARD,CHK", notification.Data["accounts"])
}

func TestDelayedDebitOutsideHorizon(t *testing.T) {
	t.Parallel()

	debitDate := runTime.AddDate(0, 0, 20)
	opts := options(t, dispatch.Data{Accounts: []domain.Account{
		{
			ID: "CARD", Type: domain.AccountTypeCreditCard,
			ComingBalance: dec("-320"), CheckingAccountID: "CHK", NextDebitDate: &debitDate,
		},
		{ID: "CHK", Balance: dec("10")},
	}})
	opts.Fields = rules.Rule{"enabled": true, "value": 5}

	notification, err := buildDelayedDebit(context.Background(), opts)
	require.NoError(t, err)
	assert.Nil(t, notification)
}

func TestDelayedDebitPropagatesFetchError(t *testing.T) {
	t.Parallel()

	debitDate := runTime.AddDate(0, 0, 1)
	opts := options(t, dispatch.Data{Accounts: []domain.Account{{
		ID: "CARD", Type: domain.AccountTypeCreditCard,
		ComingBalance: dec("-10"), CheckingAccountID: "CHK", NextDebitDate: &debitDate,
	}}})
	opts.Client = &stubClient{err: errors.New("store down")}
	opts.Fields = rules.Rule{"enabled": true, "value": 3}

	_, err := buildDelayedDebit(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}
