package templatefmt

import (
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

// FuncMap returns shared message template helpers.
// Params: none.
// Returns: deterministic helper map used by locale and channel templates.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtDuration": FormatDuration,
		"json":        MarshalJSON,
		"money":       FormatMoney,
		"date":        FormatDate,
	}
}

// ParseTemplate parses one message template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=zero").Parse(body)
}

// FormatDuration renders duration in compact human form with one decimal precision.
// Params: template value expected as time.Duration or *time.Duration.
// Returns: formatted duration string.
func FormatDuration(value any) string {
	var duration time.Duration
	switch typed := value.(type) {
	case time.Duration:
		duration = typed
	case *time.Duration:
		if typed == nil {
			return "0.0s"
		}
		duration = *typed
	default:
		return "0.0s"
	}

	if duration < 0 {
		duration = -duration
	}
	seconds := duration.Seconds()
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%.1fh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%.1fm", seconds/60)
	default:
		return fmt.Sprintf("%.1fs", seconds)
	}
}

// FormatMoney renders an amount with two decimals and optional currency.
// Params: decimal (or pointer) amount and currency code.
// Returns: formatted amount such as "-12.50 EUR".
func FormatMoney(value any, currency string) string {
	var amount decimal.Decimal
	switch typed := value.(type) {
	case decimal.Decimal:
		amount = typed
	case *decimal.Decimal:
		if typed != nil {
			amount = *typed
		}
	case int:
		amount = decimal.NewFromInt(int64(typed))
	case int64:
		amount = decimal.NewFromInt(typed)
	case float64:
		amount = decimal.NewFromFloat(typed)
	}
	if currency == "" {
		currency = "EUR"
	}
	return amount.StringFixed(2) + " " + currency
}

// FormatDate renders date as YYYY-MM-DD.
// Params: time value or pointer.
// Returns: formatted date or empty string.
func FormatDate(value any) string {
	switch typed := value.(type) {
	case time.Time:
		return typed.Format(time.DateOnly)
	case *time.Time:
		if typed == nil {
			return ""
		}
		return typed.Format(time.DateOnly)
	default:
		return ""
	}
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
