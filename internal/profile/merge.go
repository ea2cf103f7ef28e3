package profile

import "time"

// Observation is one partial view of a patient's record, produced by the
// extraction layer from a single screen of text.
type Observation struct {
	Sections   map[SectionName]map[string]any
	TodayVisit *Visit
}

// Merge folds an observation into the profile.
//
// Merge rules, applied per leaf field of each incoming section:
//   - nil incoming values never overwrite anything (a later observation that
//     failed to see a field must not erase it)
//   - non-nil incoming values overwrite, including with a different value
//   - nested maps recurse with the same rules
//   - arrays are replaced wholesale, but only when the incoming array is
//     non-empty
//
// ObservedSections grows by the union of sections present in the
// observation and never shrinks. TodayVisit is replaced wholesale when the
// observation carries one. LastUpdatedAt advances on every merge.
func (p *Profile) Merge(obs Observation) {
	for name, incoming := range obs.Sections {
		if incoming == nil {
			continue
		}
		existing := p.Sections[name]
		if existing == nil {
			existing = make(map[string]any)
			p.Sections[name] = existing
		}
		mergeFields(existing, incoming)
		p.ObservedSections[name] = true
	}

	if obs.TodayVisit != nil {
		v := *obs.TodayVisit
		p.TodayVisit = &v
	}

	p.LastUpdatedAt = time.Now().UTC()
}

// mergeFields applies the leaf-level merge rules to one field bag.
func mergeFields(dst, src map[string]any) {
	for key, incoming := range src {
		if incoming == nil {
			continue
		}
		switch v := incoming.(type) {
		case map[string]any:
			nested, ok := dst[key].(map[string]any)
			if !ok {
				nested = make(map[string]any)
				dst[key] = nested
			}
			mergeFields(nested, v)
		case []any:
			if len(v) > 0 {
				dst[key] = v
			}
		case []string:
			if len(v) > 0 {
				dst[key] = v
			}
		case string:
			if v != "" {
				dst[key] = v
			}
		default:
			dst[key] = incoming
		}
	}
}
