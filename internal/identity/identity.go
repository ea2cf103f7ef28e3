// Package identity derives a subject identifier and secondary identifiers
// from raw screen text using pattern rules. It is purely local: nothing is
// transmitted anywhere and no state is kept between calls.
package identity

import (
	"regexp"
	"strings"
)

// Identity holds the subject identifier plus any secondary identifiers
// found alongside it. Name is the only required field; the rest are
// best-effort and empty when not visible on screen.
type Identity struct {
	Name        string
	DateOfBirth string
	ChartNumber string
	MemberID    string
}

// namePatterns match patient banner lines in priority order. The first
// pattern to produce a plausible name wins.
var namePatterns = []*regexp.Regexp{
	// "Patient: Jane Doe" / "Patient Name: Jane Doe"
	regexp.MustCompile(`(?im)^\s*patient(?:\s+name)?\s*:\s*([A-Za-z][A-Za-z.'-]+(?:,?\s+[A-Za-z][A-Za-z.'-]+){1,3})\s*$`),
	// "Name: Doe, Jane"
	regexp.MustCompile(`(?im)^\s*name\s*:\s*([A-Za-z][A-Za-z.'-]+,\s*[A-Za-z][A-Za-z.'-]+)\s*$`),
	// Banner form: "Doe, Jane  DOB: ..." on one line
	regexp.MustCompile(`(?im)^\s*([A-Za-z][A-Za-z.'-]+,\s*[A-Za-z][A-Za-z.'-]+)\s+(?:DOB|Age)\b`),
}

var (
	dobRE    = regexp.MustCompile(`(?i)\b(?:DOB|Birth\s*Date|Date\s+of\s+Birth)\s*:?\s*(\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2})`)
	chartRE  = regexp.MustCompile(`(?i)\b(?:Chart|Chart\s*(?:#|No\.?|Number))\s*:?\s*([A-Z0-9-]{3,16})`)
	memberRE = regexp.MustCompile(`(?i)\b(?:Member|Subscriber)\s*(?:ID|#|No\.?)?\s*:\s*([A-Z0-9-]{4,20})`)
)

// nonNameWords reject matches that are section headers rather than people.
var nonNameWords = map[string]bool{
	"insurance": true, "billing": true, "balance": true, "forms": true,
	"recare": true, "appointments": true, "claims": true, "perio": true,
	"charting": true, "overview": true, "summary": true, "unknown": true,
}

// Extract returns the identity visible in text, or nil when no subject
// identifier can be derived. A missing identity is not an error; it simply
// means there is nothing to do for this observation.
func Extract(text string) *Identity {
	name := extractName(text)
	if name == "" {
		return nil
	}

	id := &Identity{Name: name}
	if m := dobRE.FindStringSubmatch(text); m != nil {
		id.DateOfBirth = m[1]
	}
	if m := chartRE.FindStringSubmatch(text); m != nil {
		id.ChartNumber = m[1]
	}
	if m := memberRE.FindStringSubmatch(text); m != nil {
		id.MemberID = m[1]
	}
	return id
}

func extractName(text string) string {
	for _, re := range namePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name := normalizeName(m[1])
		if name != "" {
			return name
		}
	}
	return ""
}

// normalizeName converts "Last, First" to "First Last", collapses
// whitespace, and rejects header-like matches.
func normalizeName(raw string) string {
	name := strings.TrimSpace(raw)
	if idx := strings.Index(name, ","); idx > 0 {
		last := strings.TrimSpace(name[:idx])
		first := strings.TrimSpace(name[idx+1:])
		if last != "" && first != "" {
			name = first + " " + last
		}
	}
	name = strings.Join(strings.Fields(name), " ")

	words := strings.Fields(strings.ToLower(name))
	if len(words) < 2 || len(words) > 4 {
		return ""
	}
	for _, w := range words {
		if nonNameWords[strings.Trim(w, ".,")] {
			return ""
		}
	}
	return name
}
