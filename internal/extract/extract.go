// Package extract is the baseline pattern-matching entity extractor. It
// returns raw string spans keyed by span name and applies no dialogue
// semantics; the resolver layers those on top.
package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountRe = regexp.MustCompile(`(?i)(?:\$\s*)?(\d+(?:,\d{3})*(?:\.\d{1,2})?)\s*(?:dollars|bucks|usd)?`)
	// recipientRe matches "to <name>" / "for <name>" with a capitalized name.
	recipientRe = regexp.MustCompile(`(?:to|for)\s+([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)?)`)
	accountRe   = regexp.MustCompile(`(?i)\b(savings|saving|checking|current|credit)\b`)
	billRe      = regexp.MustCompile(`(?i)\b(electricity|electric|gas|water|internet|phone|rent|insurance)\b`)
)

// Extractor implements the base entity extraction contract with regular
// expressions. Deterministic and dependency-free; a NER service can replace
// it behind the same interface.
type Extractor struct{}

// New returns the regex extractor.
func New() *Extractor { return &Extractor{} }

// Extract returns raw spans found in the text. Amounts are normalized to
// minor units since a span like "$50" and "50.00" denote the same quantity.
func (e *Extractor) Extract(_ context.Context, text string) (map[string]string, error) {
	spans := make(map[string]string)

	if m := amountRe.FindStringSubmatch(text); m != nil {
		if minor, ok := toMinorUnits(m[1]); ok {
			spans["amount"] = minor
		}
	}
	if m := recipientRe.FindStringSubmatch(text); m != nil {
		spans["recipient"] = m[1]
	}
	if m := accountRe.FindStringSubmatch(text); m != nil {
		acct := canonicalAccount(strings.ToLower(m[1]))
		spans["from_account"] = acct
		spans["account_type"] = acct
	}
	if m := billRe.FindStringSubmatch(text); m != nil {
		spans["bill_type"] = canonicalBill(strings.ToLower(m[1]))
	}

	return spans, nil
}

func toMinorUnits(s string) (string, bool) {
	s = strings.ReplaceAll(s, ",", "")
	whole, frac, _ := strings.Cut(s, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return "", false
	}
	cents := int64(0)
	if frac != "" {
		if len(frac) == 1 {
			frac += "0"
		}
		c, err := strconv.ParseInt(frac[:2], 10, 64)
		if err != nil {
			return "", false
		}
		cents = c
	}
	return strconv.FormatInt(n*100+cents, 10), true
}

func canonicalAccount(a string) string {
	switch a {
	case "saving":
		return "savings"
	case "current":
		return "checking"
	default:
		return a
	}
}

func canonicalBill(b string) string {
	if b == "electric" {
		return "electricity"
	}
	return b
}
