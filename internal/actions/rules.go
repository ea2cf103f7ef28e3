// Package actions derives a prioritized, deduplicated action list from a
// merged patient profile and an optional cached benefits card.
//
// Generate is a pure function: no I/O, no randomness, and no wall-clock
// reads beyond the caller-supplied now used by the explicit recency rules.
// Given the same inputs it always produces the same ordered list.
package actions

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/siddharthshah87/PracticePilot/internal/artifact"
	"github.com/siddharthshah87/PracticePilot/internal/profile"
)

// Priority tiers, highest urgency first.
type Priority int

const (
	PriorityCritical    Priority = 1
	PriorityAction      Priority = 2
	PriorityRecommended Priority = 3
	PriorityInfo        Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityAction:
		return "ACTION"
	case PriorityRecommended:
		return "RECOMMENDED"
	case PriorityInfo:
		return "INFO"
	}
	return "UNKNOWN"
}

// Action is one recommendation. Ephemeral: recomputed fully on every merge
// and never persisted.
type Action struct {
	Priority Priority `json:"priority"`
	Icon     string   `json:"icon"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
	Category string   `json:"category"`
}

// VerificationMaxAge is the recency threshold for insurance verification.
const VerificationMaxAge = 30 * 24 * time.Hour

// coverageActionThreshold: coverage below this percentage warrants an
// estimate conversation before treatment.
const coverageActionThreshold = 80.0

// Generate evaluates every rule against the profile and benefits card and
// returns the sorted, deduplicated action list. Items of equal priority
// retain rule-firing order.
func Generate(p *profile.Profile, card *artifact.Artifact, now time.Time) []Action {
	var out []Action

	out = append(out, identityVerificationRules(p, card)...)
	out = append(out, verificationRecencyRules(p, card, now)...)
	out = append(out, billingRules(p)...)
	out = append(out, recareRules(p)...)
	out = append(out, formsRules(p)...)
	out = append(out, coverageRules(p, card)...)
	out = append(out, ageBandRules(p, now)...)
	out = append(out, completenessRules(p)...)

	out = dedupe(out)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// identityVerificationRules: a benefits card that carries no identifying
// data cannot be matched to the patient whose insurance we are looking at.
func identityVerificationRules(p *profile.Profile, card *artifact.Artifact) []Action {
	if !p.Observed(profile.SectionInsurance) || card == nil {
		return nil
	}
	if strings.TrimSpace(card.MemberID) != "" || strings.TrimSpace(card.SubscriberName) != "" {
		return nil
	}
	return []Action{{
		Priority: PriorityCritical,
		Icon:     "🪪",
		Title:    "Benefits card has no identifying data",
		Detail:   "The cached benefits card carries neither a member ID nor a subscriber name; confirm it belongs to this patient before relying on it.",
		Category: "identity",
	}}
}

func verificationRecencyRules(p *profile.Profile, card *artifact.Artifact, now time.Time) []Action {
	verifiedAt, ok := verificationTime(p, card)
	if !ok {
		return nil
	}
	age := now.Sub(verifiedAt)
	if age <= VerificationMaxAge {
		return nil
	}
	return []Action{{
		Priority: PriorityAction,
		Icon:     "📞",
		Title:    "Re-verify insurance eligibility",
		Detail:   fmt.Sprintf("Last verified %d days ago; eligibility checks older than 30 days should be repeated.", int(age.Hours()/24)),
		Category: "insurance",
	}}
}

func verificationTime(p *profile.Profile, card *artifact.Artifact) (time.Time, bool) {
	if card != nil && !card.VerifiedAt.IsZero() {
		return card.VerifiedAt, true
	}
	for _, key := range []string{"verified_at", "verified", "last_verified"} {
		if s, ok := p.StringField(profile.SectionInsurance, key); ok {
			if t, ok := parseDate(s); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// billingRules flags overdue aging buckets using the literal bucket fields
// the extraction layer emits.
func billingRules(p *profile.Profile) []Action {
	aging, _ := p.Field(profile.SectionBilling, "aging").(map[string]any)
	if aging == nil {
		return nil
	}

	var overdue []string
	total := 0.0
	for _, bucket := range []string{"over_30", "over_60", "over_90"} {
		if amt, ok := num(aging[bucket]); ok && amt > 0 {
			overdue = append(overdue, fmt.Sprintf("%s: $%.2f", strings.ReplaceAll(bucket, "_", " "), amt))
			total += amt
		}
	}
	if len(overdue) == 0 {
		return nil
	}
	return []Action{{
		Priority: PriorityAction,
		Icon:     "💰",
		Title:    "Collect overdue balance",
		Detail:   fmt.Sprintf("$%.2f past due (%s).", total, strings.Join(overdue, ", ")),
		Category: "billing",
	}}
}

// recareRules: the recare page was seen but no recurring hygiene visit is
// on the books.
func recareRules(p *profile.Profile) []Action {
	if !p.Observed(profile.SectionRecare) {
		return nil
	}
	for _, key := range []string{"next_due", "next_visit", "next_appointment"} {
		if _, ok := p.StringField(profile.SectionRecare, key); ok {
			return nil
		}
	}
	return []Action{{
		Priority: PriorityRecommended,
		Icon:     "📅",
		Title:    "Schedule recare visit",
		Detail:   "No recurring hygiene appointment is on record for this patient.",
		Category: "recare",
	}}
}

func formsRules(p *profile.Profile) []Action {
	incomplete, _ := p.Field(profile.SectionForms, "incomplete").(bool)
	pending, _ := num(p.Field(profile.SectionForms, "pending_count"))
	if !incomplete && pending <= 0 {
		return nil
	}
	detail := "Patient has forms awaiting completion."
	if pending > 0 {
		detail = fmt.Sprintf("Patient has %d form(s) awaiting completion.", int(pending))
	}
	return []Action{{
		Priority: PriorityAction,
		Icon:     "📋",
		Title:    "Complete outstanding forms",
		Detail:   detail,
		Category: "forms",
	}}
}

// coverageRules cross-references today's procedure codes against the static
// category table and the benefits card's coverage table.
func coverageRules(p *profile.Profile, card *artifact.Artifact) []Action {
	if p.TodayVisit == nil {
		return nil
	}

	var out []Action
	for _, code := range p.TodayVisit.ProcedureCodes {
		category := CategoryOf(code)

		if card != nil && card.Excludes(code) {
			out = append(out, Action{
				Priority: PriorityCritical,
				Icon:     "🚫",
				Title:    fmt.Sprintf("%s is excluded from coverage", code),
				Detail:   fmt.Sprintf("The benefits card lists %s as an excluded procedure; the patient pays in full.", code),
				Category: "coverage",
			})
			continue
		}

		pct, known := 0.0, false
		if category != "" {
			pct, known = card.CoverageFor(category)
		}

		switch {
		case known && pct == 0:
			out = append(out, Action{
				Priority: PriorityCritical,
				Icon:     "🚫",
				Title:    fmt.Sprintf("%s has 0%% coverage", code),
				Detail:   fmt.Sprintf("The %s category is not covered by this plan; collect payment for %s up front.", category, code),
				Category: "coverage",
			})
		case known && pct < coverageActionThreshold:
			out = append(out, Action{
				Priority: PriorityAction,
				Icon:     "⚠️",
				Title:    fmt.Sprintf("%s covered at %.0f%%", code, pct),
				Detail:   fmt.Sprintf("The %s category is only partially covered; present an estimate for %s before treatment.", category, code),
				Category: "coverage",
			})
		case !known && card == nil:
			out = append(out, Action{
				Priority: PriorityRecommended,
				Icon:     "🔍",
				Title:    fmt.Sprintf("Verify coverage for %s", code),
				Detail:   "No benefits card is on file for this patient.",
				Category: "coverage",
			})
		case !known:
			out = append(out, Action{
				Priority: PriorityRecommended,
				Icon:     "🔍",
				Title:    fmt.Sprintf("Verify coverage for %s", code),
				Detail:   fmt.Sprintf("The benefits card on file has no %s entry for this category.", coverageGapLabel(category)),
				Category: "coverage",
			})
		}
	}
	return out
}

func coverageGapLabel(category string) string {
	if category == "" {
		return "matching"
	}
	return category
}

func ageBandRules(p *profile.Profile, now time.Time) []Action {
	age, ok := patientAge(p, now)
	if !ok {
		return nil
	}
	switch {
	case age < 18:
		return []Action{{
			Priority: PriorityInfo,
			Icon:     "🧒",
			Title:    "Pediatric preventive reminders",
			Detail:   "Patient is under 18: consider fluoride varnish and sealant eligibility.",
			Category: "clinical",
		}}
	case age >= 65:
		return []Action{{
			Priority: PriorityInfo,
			Icon:     "🧓",
			Title:    "Senior clinical reminders",
			Detail:   "Patient is 65 or older: screen for dry mouth and root caries risk.",
			Category: "clinical",
		}}
	}
	return nil
}

func patientAge(p *profile.Profile, now time.Time) (int, bool) {
	if v, ok := num(p.Field(profile.SectionProfile, "age")); ok && v > 0 {
		return int(v), true
	}
	for _, key := range []string{"dob", "date_of_birth", "birth_date"} {
		if s, ok := p.StringField(profile.SectionProfile, key); ok {
			if t, ok := parseDate(s); ok {
				years := now.Year() - t.Year()
				if now.YearDay() < t.YearDay() {
					years--
				}
				return years, true
			}
		}
	}
	return 0, false
}

// completenessRules: some but not all important sections observed means the
// profile is partially assembled; name the gaps.
func completenessRules(p *profile.Profile) []Action {
	missing := p.MissingImportantSections()
	if len(missing) == 0 || len(missing) == len(profile.ImportantSections) {
		return nil
	}
	names := make([]string, len(missing))
	for i, s := range missing {
		names[i] = string(s)
	}
	return []Action{{
		Priority: PriorityInfo,
		Icon:     "🧩",
		Title:    "Profile incomplete",
		Detail:   fmt.Sprintf("Not yet observed: %s.", strings.Join(names, ", ")),
		Category: "completeness",
	}}
}

func dedupe(in []Action) []Action {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, a := range in {
		key := a.Category + "|" + a.Title
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// num coaxes the numeric shapes that JSON round-trips and the heuristic
// parser produce into a float64.
func num(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(n), "$"), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	time.RFC3339,
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
