package templatefmt

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value    any
		currency string
		want     string
	}{
		{value: decimal.RequireFromString("-12.5"), currency: "EUR", want: "-12.50 EUR"},
		{value: decimal.NewFromInt(100), currency: "", want: "100.00 EUR"},
		{value: int64(3), currency: "USD", want: "3.00 USD"},
		{value: "nope", currency: "EUR", want: "0.00 EUR"},
	}
	for _, tc := range cases {
		if got := FormatMoney(tc.value, tc.currency); got != tc.want {
			t.Fatalf("FormatMoney(%v,%q)=%q want %q", tc.value, tc.currency, got, tc.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	if got := FormatDuration(90 * time.Second); got != "1.5m" {
		t.Fatalf("unexpected duration %q", got)
	}
	if got := FormatDuration(nil); got != "0.0s" {
		t.Fatalf("unexpected nil duration %q", got)
	}
}

func TestParseTemplateUsesHelpers(t *testing.T) {
	t.Parallel()

	tmpl, err := ParseTemplate("test", `{{ .label }}: {{ money .amount "EUR" }} on {{ date .when }}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var out strings.Builder
	err = tmpl.Execute(&out, map[string]any{
		"label":  "Checking",
		"amount": decimal.RequireFromString("5"),
		"when":   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.String() != "Checking: 5.00 EUR on 2026-03-01" {
		t.Fatalf("unexpected output %q", out.String())
	}
}
