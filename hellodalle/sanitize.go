package hellodalle

import (
	"fmt"
	"regexp"
)

// defaultSanitizerRules soften prompt wording that trips strict safety
// filters on some engines, while keeping the prompt's intent.
var defaultSanitizerRules = []SanitizerRuleConfig{
	{Pattern: `(?i)\broast(ing|ed)?\b`, Replacement: "playfully tease"},
	{Pattern: `(?i)\bmock(ing|ed)?\b`, Replacement: "gently poke fun at"},
	{Pattern: `(?i)\bshoot(ing)?\b`, Replacement: "photograph"},
	{Pattern: `(?i)\bkill(ing|ed)?\b`, Replacement: "defeat"},
	{Pattern: `(?i)\bblood(y|ied)?\b`, Replacement: "red paint"},
}

type sanitizerRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// PromptSanitizer rewrites prompts using an ordered list of regular
// expression rules. Rules are applied in order, each to the output of
// the previous one.
type PromptSanitizer struct {
	rules []sanitizerRule
}

// NewPromptSanitizer compiles the given rules. An empty slice selects
// the built-in default rule set. A rule with an invalid pattern is an
// error, not a silent skip.
func NewPromptSanitizer(rules []SanitizerRuleConfig) (*PromptSanitizer, error) {
	if len(rules) == 0 {
		rules = defaultSanitizerRules
	}
	s := &PromptSanitizer{rules: make([]sanitizerRule, 0, len(rules))}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf(
				"invalid sanitizer pattern %q: %w", r.Pattern, err,
			)
		}
		s.rules = append(
			s.rules,
			sanitizerRule{pattern: re, replacement: r.Replacement},
		)
	}
	return s, nil
}

// Sanitize applies every rule to prompt, in order.
func (s *PromptSanitizer) Sanitize(prompt string) string {
	for _, r := range s.rules {
		prompt = r.pattern.ReplaceAllString(prompt, r.replacement)
	}
	return prompt
}
