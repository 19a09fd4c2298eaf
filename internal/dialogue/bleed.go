package dialogue

import (
	"regexp"
	"strings"
)

// bleedRule rewrites one self-reference pattern in a completion.
type bleedRule struct {
	re          *regexp.Regexp
	replacement string
}

// BleedStripper removes an agent's habit of prefixing its own output with its
// name ("Thera: I think...", "[Thera] ...", "As Thera I believe..."). The
// rules are compiled once per agent and anchored to the start of the text, so
// a clean completion passes through untouched and stripping twice changes
// nothing.
type BleedStripper struct {
	rules []bleedRule
}

// NewBleedStripper compiles the stripping rules for the given display name.
func NewBleedStripper(name string) *BleedStripper {
	n := regexp.QuoteMeta(name)
	return &BleedStripper{rules: []bleedRule{
		{regexp.MustCompile(`(?i)^\s*` + n + `\s*[:,.]\s*`), ""},
		{regexp.MustCompile(`(?i)^\s*As\s+` + n + `\s+I\s+`), "I "},
		{regexp.MustCompile(`(?i)^\s*As\s+` + n + `[,:]?\s*`), ""},
		{regexp.MustCompile(`(?i)^\s*` + n + `\s+here[.,]?\s*`), ""},
		{regexp.MustCompile(`(?i)^\s*I\s+would\s+respond:\s*`), ""},
	}}
}

// Strip applies each rule in order and trims surrounding whitespace.
func (b *BleedStripper) Strip(text string) string {
	for _, r := range b.rules {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	return strings.TrimSpace(text)
}
