package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/siddharthshah87/PracticePilot/internal/profile"
)

// Heuristic is the deterministic rule-based section parser. It scans for
// literal section markers and regular structural patterns and covers the
// same section set as the model tier, degrading gracefully rather than
// failing closed when the extraction service is unavailable.
type Heuristic struct{}

// NewHeuristic creates the fallback parser. It keeps no state.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// sectionMarkers map literal header text to a section. Longer markers are
// listed first inside each section so "insurance claims" resolves to claims
// before insurance gets a chance to match.
var sectionMarkers = []struct {
	marker  string
	section profile.SectionName
}{
	{"insurance claims", profile.SectionClaims},
	{"claims", profile.SectionClaims},
	{"patient information", profile.SectionProfile},
	{"patient info", profile.SectionProfile},
	{"demographics", profile.SectionProfile},
	{"insurance", profile.SectionInsurance},
	{"coverage", profile.SectionInsurance},
	{"billing", profile.SectionBilling},
	{"account balance", profile.SectionBilling},
	{"aging", profile.SectionBilling},
	{"recare", profile.SectionRecare},
	{"recall", profile.SectionRecare},
	{"hygiene", profile.SectionRecare},
	{"treatment plan", profile.SectionCharting},
	{"charting", profile.SectionCharting},
	{"forms", profile.SectionForms},
	{"documents", profile.SectionForms},
	{"periodontal", profile.SectionPerio},
	{"perio", profile.SectionPerio},
	{"appointments", profile.SectionAppointments},
	{"schedule", profile.SectionAppointments},
}

var (
	kvLineRE     = regexp.MustCompile(`^[-*•]?\s*([A-Za-z][A-Za-z0-9 /#.'-]{0,40}?)\s*:\s*(.+)$`)
	moneyRE      = regexp.MustCompile(`\$\s*([\d,]+(?:\.\d{2})?)`)
	agingRE      = regexp.MustCompile(`(?i)\b(0\s*-\s*30|31\s*-\s*60|61\s*-\s*90|(?:over\s*90|90\s*\+))\b[^$]*\$\s*([\d,]+(?:\.\d{2})?)`)
	procCodeRE   = regexp.MustCompile(`\b(D\d{4})\b`)
	todayLineRE  = regexp.MustCompile(`(?i)^\s*today(?:'s)?\s+(?:appointment|visit)\b`)
	timeOfDayRE  = regexp.MustCompile(`\b(\d{1,2}:\d{2}\s*(?:AM|PM|am|pm)?)\b`)
	providerRE   = regexp.MustCompile(`\b(Dr\.?\s+[A-Z][a-z]+)\b`)
	incompleteRE = regexp.MustCompile(`(?i)\b(\d+)?\s*(?:incomplete|pending|outstanding)\s+forms?\b|\bforms?\s+(?:incomplete|pending|outstanding)\b`)
)

// Parse extracts sections from raw text. It always succeeds; screens with
// no recognizable structure simply produce an empty result.
func (h *Heuristic) Parse(text string) *Result {
	res := &Result{
		Sections:   make(map[profile.SectionName]map[string]any),
		Provenance: ProvenanceHeuristic,
	}

	current := profile.SectionProfile
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		if sec, ok := matchSectionMarker(line); ok {
			current = sec
			// A bare header observes the section even with no fields below.
			ensureSection(res, current)
			continue
		}

		if todayLineRE.MatchString(line) {
			res.TodayVisit = parseVisitLine(line, res.TodayVisit)
			continue
		}
		if res.TodayVisit != nil && current == profile.SectionAppointments {
			// Procedure codes often trail on the following schedule lines.
			if codes := procCodeRE.FindAllString(line, -1); len(codes) > 0 {
				res.TodayVisit.ProcedureCodes = appendUnique(res.TodayVisit.ProcedureCodes, codes)
				continue
			}
		}

		if m := agingRE.FindAllStringSubmatch(line, -1); len(m) > 0 && current == profile.SectionBilling {
			parseAgingBuckets(res, m)
			continue
		}

		if m := kvLineRE.FindStringSubmatch(line); m != nil {
			key := cleanKey(m[1])
			value := strings.TrimSpace(m[2])
			if key == "" || value == "" {
				continue
			}
			sec := ensureSection(res, current)
			sec[key] = typedValue(key, value)
			continue
		}

		if current == profile.SectionForms {
			if m := incompleteRE.FindStringSubmatch(line); m != nil {
				sec := ensureSection(res, profile.SectionForms)
				sec["incomplete"] = true
				if m[1] != "" {
					if n, err := strconv.Atoi(m[1]); err == nil {
						sec["pending_count"] = n
					}
				}
			}
		}
	}

	return res
}

func matchSectionMarker(line string) (profile.SectionName, bool) {
	lower := strings.ToLower(strings.Trim(line, "#*=- \t"))
	// Only header-like lines: short, no key/value separator.
	if len(lower) > 40 || strings.Contains(lower, ":") {
		return "", false
	}
	for _, sm := range sectionMarkers {
		if strings.HasPrefix(lower, sm.marker) {
			return sm.section, true
		}
	}
	return "", false
}

func ensureSection(res *Result, name profile.SectionName) map[string]any {
	sec := res.Sections[name]
	if sec == nil {
		sec = make(map[string]any)
		res.Sections[name] = sec
	}
	return sec
}

func parseVisitLine(line string, existing *profile.Visit) *profile.Visit {
	v := existing
	if v == nil {
		v = &profile.Visit{}
	}
	if m := timeOfDayRE.FindStringSubmatch(line); m != nil {
		v.Time = strings.TrimSpace(m[1])
	}
	if m := providerRE.FindStringSubmatch(line); m != nil {
		v.Provider = m[1]
	}
	if codes := procCodeRE.FindAllString(line, -1); len(codes) > 0 {
		v.ProcedureCodes = appendUnique(v.ProcedureCodes, codes)
	}
	return v
}

func parseAgingBuckets(res *Result, matches [][]string) {
	sec := ensureSection(res, profile.SectionBilling)
	aging, ok := sec["aging"].(map[string]any)
	if !ok {
		aging = make(map[string]any)
		sec["aging"] = aging
	}
	for _, m := range matches {
		bucket := strings.ToLower(strings.ReplaceAll(m[1], " ", ""))
		amount := parseMoney(m[2])
		switch {
		case strings.HasPrefix(bucket, "0-30"):
			aging["current"] = amount
		case strings.HasPrefix(bucket, "31-60"):
			aging["over_30"] = amount
		case strings.HasPrefix(bucket, "61-90"):
			aging["over_60"] = amount
		default:
			aging["over_90"] = amount
		}
	}
}

// typedValue converts obvious numeric values (money amounts on balance-like
// keys) so the rule engine can compare them without re-parsing.
func typedValue(key, value string) any {
	if strings.Contains(key, "balance") || strings.Contains(key, "amount") ||
		strings.Contains(key, "maximum") || strings.Contains(key, "deductible") {
		if m := moneyRE.FindStringSubmatch(value); m != nil {
			return parseMoney(m[1])
		}
	}
	return value
}

func parseMoney(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// cleanKey normalizes a raw key into lower snake form ("Member ID" ->
// "member_id").
func cleanKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.Trim(key, "#.")
	key = strings.NewReplacer(" ", "_", "/", "_", "#", "", "'", "", ".", "").Replace(key)
	return strings.Trim(key, "_")
}

func appendUnique(dst []string, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}
