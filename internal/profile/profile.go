// Package profile defines the per-patient structured profile and the
// monotonic deep-merge engine that assembles it from partial observations.
//
// A profile is built up incrementally: the same screen is re-observed many
// times, each observation revealing a partial, possibly overlapping slice of
// the patient's record. The merge rules guarantee that a value once known is
// never regressed to unknown by a later, less complete observation.
package profile

import (
	"strings"
	"time"
)

// SectionName identifies one independently populated sub-document of a profile.
type SectionName string

const (
	SectionProfile      SectionName = "profile"
	SectionInsurance    SectionName = "insurance"
	SectionBilling      SectionName = "billing"
	SectionRecare       SectionName = "recare"
	SectionCharting     SectionName = "charting"
	SectionForms        SectionName = "forms"
	SectionClaims       SectionName = "claims"
	SectionPerio        SectionName = "perio"
	SectionAppointments SectionName = "appointments"
)

// AllSections lists every known section in canonical order.
var AllSections = []SectionName{
	SectionProfile,
	SectionInsurance,
	SectionBilling,
	SectionRecare,
	SectionCharting,
	SectionForms,
	SectionClaims,
	SectionPerio,
	SectionAppointments,
}

// ImportantSections is the subset whose absence is surfaced as a
// data-completeness gap by the rule engine.
var ImportantSections = []SectionName{
	SectionProfile,
	SectionInsurance,
	SectionBilling,
	SectionRecare,
	SectionForms,
}

// KnownSection reports whether name is one of the canonical sections.
func KnownSection(name SectionName) bool {
	for _, s := range AllSections {
		if s == name {
			return true
		}
	}
	return false
}

// Visit is the single most-recent transient record for today's scheduled
// encounter. Unlike sections it is replaced wholesale on each observation
// that includes one, never merged field-by-field.
type Visit struct {
	Time           string   `json:"time,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	Kind           string   `json:"kind,omitempty"`
	ProcedureCodes []string `json:"procedure_codes,omitempty"`
}

// Profile is the accumulated structured record for one patient.
type Profile struct {
	SubjectID        string                             `json:"subject_id"`
	Sections         map[SectionName]map[string]any     `json:"sections"`
	ObservedSections map[SectionName]bool               `json:"observed_sections"`
	TodayVisit       *Visit                             `json:"today_visit,omitempty"`
	CreatedAt        time.Time                          `json:"created_at"`
	LastUpdatedAt    time.Time                          `json:"last_updated_at"`
}

// New creates an empty profile for the given subject.
func New(subjectID string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		SubjectID:        subjectID,
		Sections:         make(map[SectionName]map[string]any),
		ObservedSections: make(map[SectionName]bool),
		CreatedAt:        now,
		LastUpdatedAt:    now,
	}
}

// Key returns the stable lower-cased comparison key for a subject identifier.
func Key(subjectID string) string {
	return strings.ToLower(strings.TrimSpace(subjectID))
}

// SameSubject compares two subject identifiers case-insensitively.
func SameSubject(a, b string) bool {
	return Key(a) == Key(b)
}

// Section returns the named section map, or nil if never merged.
func (p *Profile) Section(name SectionName) map[string]any {
	if p.Sections == nil {
		return nil
	}
	return p.Sections[name]
}

// Field returns a leaf value from a section, or nil if absent.
func (p *Profile) Field(section SectionName, key string) any {
	s := p.Section(section)
	if s == nil {
		return nil
	}
	return s[key]
}

// StringField returns a leaf value as a string if present and non-empty.
func (p *Profile) StringField(section SectionName, key string) (string, bool) {
	v := p.Field(section, key)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Observed reports whether a section has ever been merged into this profile.
func (p *Profile) Observed(name SectionName) bool {
	return p.ObservedSections[name]
}

// MissingImportantSections returns the important sections never observed,
// in canonical order.
func (p *Profile) MissingImportantSections() []SectionName {
	var missing []SectionName
	for _, s := range ImportantSections {
		if !p.ObservedSections[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
