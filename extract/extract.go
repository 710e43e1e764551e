// Package extract locates order identifiers and subtotal amounts inside
// semi-structured text using ordered pattern rules with first-match-wins
// semantics.
package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Rule pairs a name with a compiled pattern whose first capture group holds
// the value of interest.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// OrderIDRules matches order identifiers, most specific template first.
// Identifiers are at least 6 characters of letters, digits, or hyphens.
var OrderIDRules = []Rule{
	{Name: "order-hash", Pattern: regexp.MustCompile(`(?i)Order\s*#?\s*([A-Z0-9-]{6,})`)},
	{Name: "order-id-label", Pattern: regexp.MustCompile(`(?i)Order\s+ID\s*:?\s*([A-Z0-9-]{6,})`)},
	{Name: "order-no-label", Pattern: regexp.MustCompile(`(?i)Order\s+No\.?\s*:?\s*([A-Z0-9-]{6,})`)},
	{Name: "your-order", Pattern: regexp.MustCompile(`(?i)Your\s+Order\s+([A-Z0-9-]{6,})`)},
	{Name: "order-generic", Pattern: regexp.MustCompile(`(?i)Order\s+([A-Z0-9-]{6,})`)},
}

// SubtotalRules matches monetary subtotal figures. Labeled "Subtotal" with
// currency prefixes first, then alternate labels, then a loose fallback and
// a reversed amount-before-label pattern. All require exactly two fractional
// digits.
var SubtotalRules = []Rule{
	{Name: "subtotal-rs", Pattern: regexp.MustCompile(`(?i)Subtotal\b[\s:]*Rs?\.?\s*(\d{1,3}(?:,\d{3})*\.\d{2})`)},
	{Name: "subtotal-inr", Pattern: regexp.MustCompile(`(?i)Subtotal\b[\s:]*INR\s*(\d{1,3}(?:,\d{3})*\.\d{2})`)},
	{Name: "subtotal-rupee", Pattern: regexp.MustCompile(`(?i)Subtotal\b[\s:]*₹?\s*(\d{1,3}(?:,\d{3})*\.\d{2})`)},
	{Name: "total-items", Pattern: regexp.MustCompile(`(?i)Total\s+Items\b[\s:]*Rs?\.?\s*(\d{1,3}(?:,\d{3})*\.\d{2})`)},
	{Name: "item-total", Pattern: regexp.MustCompile(`(?i)Item\s+Total\b[\s:]*Rs?\.?\s*(\d{1,3}(?:,\d{3})*\.\d{2})`)},
	{Name: "total-products", Pattern: regexp.MustCompile(`(?i)Total\s+Products\b[\s:]*Rs?\.?\s*(\d{1,3}(?:,\d{3})*\.\d{2})`)},
	{Name: "subtotal-loose", Pattern: regexp.MustCompile(`(?i)Subtotal\b[^\d]*(\d+\.\d{2})`)},
	{Name: "subtotal-reversed", Pattern: regexp.MustCompile(`(?i)Rs?\.?\s*(\d+\.\d{2})[\s\S]*Subtotal`)},
}

// Extractor applies ordered rule lists to recover fields from text. The rule
// lists are plain data so callers and tests can substitute their own.
type Extractor struct {
	OrderIDRules  []Rule
	SubtotalRules []Rule
}

// Default returns an Extractor with the stock rule lists.
func Default() *Extractor {
	return &Extractor{
		OrderIDRules:  OrderIDRules,
		SubtotalRules: SubtotalRules,
	}
}

// OrderID extracts an order identifier, checking the subject against every
// rule before the body is consulted at all. A subject-derived match wins even
// if the body would yield a different identifier.
func (e *Extractor) OrderID(subject, body string) string {
	if id := firstMatch(e.OrderIDRules, subject); id != "" {
		return id
	}
	if body != "" {
		return firstMatch(e.OrderIDRules, body)
	}
	return ""
}

// Subtotal extracts a monetary subtotal from text. The boolean is false when
// no rule matched; that is a valid negative result, not an error. A matched
// string that fails numeric parsing falls through to the next rule.
func (e *Extractor) Subtotal(text string) (decimal.Decimal, bool) {
	if text == "" {
		return decimal.Decimal{}, false
	}
	for _, rule := range e.SubtotalRules {
		m := rule.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		return amount, true
	}
	return decimal.Decimal{}, false
}

func firstMatch(rules []Rule, text string) string {
	if text == "" {
		return ""
	}
	for _, rule := range rules {
		if m := rule.Pattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
