package privacy

import (
	"regexp"
	"strings"
)

// registry holds the rules in evaluation order. Later rules run against text
// already masked by earlier ones, so the order is part of the behaviour.
var registry = []Rule{
	{
		Category: CategoryPhone,
		Pattern:  regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?(\(?\d{3}\)?[-.\s]?)?\d{3}[-.\s]?\d{4}`),
		Mask:     maskPhone,
	},
	{
		Category: CategoryEmail,
		Pattern:  regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		Mask:     maskEmail,
	},
	{
		Category: CategoryCreditCard,
		Pattern:  regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
		Mask:     fixed("****-****-****-****"),
	},
	{
		Category: CategorySSN,
		Pattern:  regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`),
		Mask:     fixed("***-**-****"),
	},
	{
		Category: CategoryAddress,
		Pattern: regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z0-9\s]+` +
			`(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Boulevard|Blvd|Court|Ct|Way|Place|Pl)` +
			`(?:\s+(?:Apt|Apartment|Unit|#)\s*\w+)?\b`),
		Mask: fixed("[ADDRESS MASKED]"),
	},
	{
		Category: CategoryDOB,
		Pattern:  regexp.MustCompile(`\b(?:\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{2,4}[-/]\d{1,2}[-/]\d{1,2})\b`),
		Mask:     fixed("[DATE MASKED]"),
	},
	{
		Category: CategoryZipCode,
		Pattern:  regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`),
		Mask:     maskZipCode,
	},
}

// Rules returns a copy of the rule table in evaluation order
func Rules() []Rule {
	rules := make([]Rule, len(registry))
	copy(rules, registry)
	return rules
}

// Categories returns every category in evaluation order
func Categories() []Category {
	categories := make([]Category, len(registry))
	for i, rule := range registry {
		categories[i] = rule.Category
	}
	return categories
}

// RuleFor looks up the rule for a category
func RuleFor(category Category) (Rule, bool) {
	for _, rule := range registry {
		if rule.Category == category {
			return rule, true
		}
	}
	return Rule{}, false
}

// ParseCategory accepts a category name in any case
func ParseCategory(name string) (Category, bool) {
	candidate := Category(strings.ToUpper(strings.TrimSpace(name)))
	_, ok := RuleFor(candidate)
	return candidate, ok
}

func fixed(replacement string) func(string) string {
	return func(string) string { return replacement }
}

// maskPhone keeps the last four digits when a full number was captured
func maskPhone(match string) string {
	digits := make([]byte, 0, len(match))
	for i := 0; i < len(match); i++ {
		if match[i] >= '0' && match[i] <= '9' {
			digits = append(digits, match[i])
		}
	}
	if len(digits) >= 10 {
		return "***-***-" + string(digits[len(digits)-4:])
	}
	return "***-***-****"
}

// maskEmail keeps the domain and at most two characters of the local part
func maskEmail(match string) string {
	local, domain, _ := strings.Cut(match, "@")
	if len(local) <= 2 {
		return "**@" + domain
	}
	return local[:2] + "***@" + domain
}

func maskZipCode(match string) string {
	return match[:2] + "***"
}
