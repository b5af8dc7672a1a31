package rules

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// Rule is one notification rule record from user settings.
// Params: class-specific fields plus the `enabled` flag.
// Returns: rule body consumed by class validators and builders.
type Rule map[string]any

// Enabled reports whether rule carries boolean `enabled: true`.
// Params: none.
// Returns: true only for a real boolean true value.
func (r Rule) Enabled() bool {
	value, ok := r["enabled"].(bool)
	return ok && value
}

// Value returns the rule threshold stored under `value`, or `threshold` when `value` is absent.
// Params: none.
// Returns: decimal threshold and presence flag.
func (r Rule) Value() (decimal.Decimal, bool) {
	if raw, ok := r["value"]; ok {
		return Number(raw)
	}
	return Number(r["threshold"])
}

// Clone returns a shallow copy of the rule.
// Params: none.
// Returns: new map with the same top-level entries.
func (r Rule) Clone() Rule {
	if r == nil {
		return nil
	}
	out := make(Rule, len(r))
	for key, value := range r {
		out[key] = value
	}
	return out
}

// Configuration maps notification settings key to a raw rule entry.
// Params: values are a single mapping (legacy shape) or a sequence of mappings.
// Returns: raw notifications section of user settings.
type Configuration map[string]any

// Descriptor identifies one notification kind for rule resolution.
// Params: settings key, multi-rule support, and optional validity predicate.
// Returns: data part of a notification class.
type Descriptor struct {
	Key       string
	MultiRule bool
	Validate  func(Rule) bool
}

// Resolve extracts the rule set of one class from configuration.
// Params: class descriptor and raw configuration.
// Returns: ordered rule sequence; empty when entry is absent or malformed.
func Resolve(desc Descriptor, cfg Configuration) []Rule {
	if cfg == nil {
		return []Rule{}
	}
	raw, ok := cfg[desc.Key]
	if !ok || raw == nil {
		return []Rule{}
	}

	if single, ok := asRule(raw); ok {
		return []Rule{single}
	}

	switch typed := raw.(type) {
	case []Rule:
		out := make([]Rule, 0, len(typed))
		for _, rule := range typed {
			if rule != nil {
				out = append(out, rule.Clone())
			}
		}
		return out
	case []map[string]any:
		out := make([]Rule, 0, len(typed))
		for _, item := range typed {
			if item != nil {
				out = append(out, Rule(item).Clone())
			}
		}
		return out
	case []any:
		out := make([]Rule, 0, len(typed))
		for _, item := range typed {
			if rule, ok := asRule(item); ok {
				out = append(out, rule)
			}
		}
		return out
	default:
		return []Rule{}
	}
}

// Valid filters class rules down to semantically valid entries.
// Params: class descriptor and raw configuration.
// Returns: rules accepted by descriptor validator (all rules when validator is nil).
func Valid(desc Descriptor, cfg Configuration) []Rule {
	resolved := Resolve(desc, cfg)
	if desc.Validate == nil {
		return resolved
	}
	out := make([]Rule, 0, len(resolved))
	for _, rule := range resolved {
		if desc.Validate(rule) {
			out = append(out, rule)
		}
	}
	return out
}

// Enabled reports whether class has at least one valid enabled rule.
// Params: class descriptor and raw configuration.
// Returns: class enablement flag.
func Enabled(desc Descriptor, cfg Configuration) bool {
	for _, rule := range Valid(desc, cfg) {
		if rule.Enabled() {
			return true
		}
	}
	return false
}

// Active returns valid rules that are enabled.
// Params: class descriptor and raw configuration.
// Returns: ordered subset of Valid with `enabled: true`.
func Active(desc Descriptor, cfg Configuration) []Rule {
	valid := Valid(desc, cfg)
	out := make([]Rule, 0, len(valid))
	for _, rule := range valid {
		if rule.Enabled() {
			out = append(out, rule)
		}
	}
	return out
}

// asRule converts one raw mapping into a rule copy.
// Params: raw decoded value.
// Returns: rule and true when value is a mapping.
func asRule(raw any) (Rule, bool) {
	switch typed := raw.(type) {
	case Rule:
		if typed == nil {
			return nil, false
		}
		return typed.Clone(), true
	case map[string]any:
		if typed == nil {
			return nil, false
		}
		return Rule(typed).Clone(), true
	default:
		return nil, false
	}
}

// Number converts a decoded numeric value into decimal.
// Params: value decoded from JSON (float64/json.Number) or TOML (int64/float64).
// Returns: decimal and true for finite numbers; strings are rejected.
func Number(raw any) (decimal.Decimal, bool) {
	switch typed := raw.(type) {
	case decimal.Decimal:
		return typed, true
	case json.Number:
		value, err := decimal.NewFromString(typed.String())
		if err != nil {
			return decimal.Zero, false
		}
		return value, true
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(typed), true
	case float32:
		f := float64(typed)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(typed), true
	case int:
		return decimal.NewFromInt(int64(typed)), true
	case int32:
		return decimal.NewFromInt32(typed), true
	case int64:
		return decimal.NewFromInt(typed), true
	case uint:
		return decimal.NewFromUint64(uint64(typed)), true
	case uint32:
		return decimal.NewFromUint64(uint64(typed)), true
	case uint64:
		return decimal.NewFromUint64(typed), true
	default:
		return decimal.Zero, false
	}
}

// HasNumericValue is the shared validity predicate for threshold rules.
// Params: rule to check.
// Returns: true when `value` (or `threshold`) is numeric.
func HasNumericValue(rule Rule) bool {
	_, ok := rule.Value()
	return ok
}
