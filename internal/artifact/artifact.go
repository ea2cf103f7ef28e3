// Package artifact defines the insurance benefits card: an externally
// produced, separately cached structured record that the rule engine
// cross-references against a patient profile.
package artifact

import (
	"strings"
	"time"
)

// Artifact is one cached benefits card. Coverage maps a procedure category
// (diagnostic, preventive, restorative, ...) to the covered percentage.
type Artifact struct {
	ID                  string             `json:"id"`
	SubscriberName      string             `json:"subscriber_name,omitempty"`
	DateOfBirth         string             `json:"date_of_birth,omitempty"`
	MemberID            string             `json:"member_id,omitempty"`
	Carrier             string             `json:"carrier,omitempty"`
	GroupNumber         string             `json:"group_number,omitempty"`
	Coverage            map[string]float64 `json:"coverage,omitempty"`
	ExcludedCodes       []string           `json:"excluded_codes,omitempty"`
	AnnualMaximum       float64            `json:"annual_maximum,omitempty"`
	DeductibleRemaining float64            `json:"deductible_remaining,omitempty"`
	VerifiedAt          time.Time          `json:"verified_at,omitempty"`
	CachedAt            time.Time          `json:"cached_at"`
}

// CoverageFor returns the covered percentage for a category. The second
// return distinguishes "0% covered" from "category not on the card".
func (a *Artifact) CoverageFor(category string) (float64, bool) {
	if a == nil || a.Coverage == nil {
		return 0, false
	}
	pct, ok := a.Coverage[strings.ToLower(strings.TrimSpace(category))]
	return pct, ok
}

// Excludes reports whether a procedure code is listed as excluded.
func (a *Artifact) Excludes(code string) bool {
	if a == nil {
		return false
	}
	for _, c := range a.ExcludedCodes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// MatchesSubject reports whether this card plausibly belongs to the named
// subject (case-insensitive name compare).
func (a *Artifact) MatchesSubject(name string) bool {
	if a == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a.SubscriberName), strings.TrimSpace(name))
}

// Key derives the cache identity key for an artifact, preferring the
// strongest combination of identifiers available:
//
//	member ID + date of birth  (two strong identifiers)
//	member ID + name           (strong + weak)
//	member ID                  (strong alone)
//	name                       (weak alone)
//
// When no identifier is present the artifact is not cacheable and the
// empty string is returned.
func (a *Artifact) Key() string {
	member := norm(a.MemberID)
	dob := norm(a.DateOfBirth)
	name := norm(a.SubscriberName)

	switch {
	case member != "" && dob != "":
		return member + "|" + dob
	case member != "" && name != "":
		return member + "|" + name
	case member != "":
		return member
	case name != "":
		return name
	}
	return ""
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
