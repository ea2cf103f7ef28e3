// Package redact removes sensitive identifiers from free text before it
// leaves the local process. The extraction service only ever sees the
// cleaned text; identity fields it would need are re-derived locally.
package redact

import "regexp"

// Result holds the cleaned text and how many substitutions were made.
type Result struct {
	CleanedText    string
	RedactionCount int
}

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Ordering matters: SSNs must be consumed before the phone pattern gets a
// chance to partially match them.
var rules = []rule{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), "[EMAIL]"},
	{regexp.MustCompile(`\(?\b\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`), "[PHONE]"},
	{regexp.MustCompile(`(?i)\b(?:member|subscriber)\s*(?:id|#|no\.?)?\s*:\s*[A-Z0-9-]{4,20}`), "Member ID: [ID]"},
}

// Redact applies every redaction rule and returns the cleaned text with a
// substitution count for observability.
func Redact(text string) Result {
	count := 0
	for _, r := range rules {
		text = r.re.ReplaceAllStringFunc(text, func(string) string {
			count++
			return r.replacement
		})
	}
	return Result{CleanedText: text, RedactionCount: count}
}
