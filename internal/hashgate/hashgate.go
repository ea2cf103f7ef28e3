// Package hashgate provides change detection for re-rendered screen text.
//
// The source page re-renders constantly with cosmetically different clock
// times and dates. Hashing raw text would therefore miss the cache on every
// observation. The gate normalizes those volatile tokens to fixed
// placeholders before hashing, so two renders that differ only in
// timestamps produce the same digest.
package hashgate

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Clock times: "9:05", "12:30:15", "9:05 AM", "21:30 ET".
	clockRE = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\s*(?:AM|PM|am|pm)?\s*(?:ET|CT|MT|PT|UTC)?\b`)

	// Calendar dates: ISO, US slash form, and month-name forms.
	isoDateRE     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?)?\b`)
	slashDateRE   = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
	naturalDateRE = regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`)

	whitespaceRE = regexp.MustCompile(`\s+`)
)

const (
	timePlaceholder = "<time>"
	datePlaceholder = "<date>"
)

// Normalize strips volatile tokens from text: clock times and calendar
// dates become fixed placeholders, whitespace collapses to single spaces,
// and the result is lower-cased.
func Normalize(text string) string {
	text = isoDateRE.ReplaceAllString(text, datePlaceholder)
	text = slashDateRE.ReplaceAllString(text, datePlaceholder)
	text = naturalDateRE.ReplaceAllString(text, datePlaceholder)
	text = clockRE.ReplaceAllString(text, timePlaceholder)
	text = whitespaceRE.ReplaceAllString(text, " ")
	return strings.ToLower(strings.TrimSpace(text))
}

// Hash returns the hex SHA-256 digest of the normalized text. Two texts
// differing only in normalized-out tokens hash identically.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return fmt.Sprintf("%x", sum)
}
