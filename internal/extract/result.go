// Package extract turns cleaned screen text into structured section data.
//
// Two tiers produce results: an external OpenAI-compatible extraction
// service (Client) and a deterministic rule-based parser (Heuristic) used
// when the service is unavailable or fails. Results carry a provenance tag
// so downstream confidence scoring can tell the tiers apart. A session
// scoped bounded cache keyed by content hash short-circuits repeat
// extractions of unchanged screens.
package extract

import (
	"context"

	"github.com/siddharthshah87/PracticePilot/internal/artifact"
	"github.com/siddharthshah87/PracticePilot/internal/profile"
)

// Provenance records which tier produced a result.
type Provenance string

const (
	ProvenanceModel     Provenance = "model"
	ProvenanceHeuristic Provenance = "heuristic"
)

// Result is one structured extraction of a screen of text.
type Result struct {
	Sections   map[profile.SectionName]map[string]any `json:"sections"`
	TodayVisit *profile.Visit                         `json:"today_visit,omitempty"`
	Provenance Provenance                             `json:"provenance"`
	FromCache  bool                                   `json:"from_cache"`
}

// Observation converts a result into the merge engine's input form.
func (r *Result) Observation() profile.Observation {
	return profile.Observation{Sections: r.Sections, TodayVisit: r.TodayVisit}
}

// Service is the external extraction collaborator. Implementations may
// fail; callers fall back to the heuristic parser rather than failing
// closed.
type Service interface {
	Extract(ctx context.Context, cleanedText string, hint *artifact.Artifact) (*Result, error)
}
