package profile

import (
	"reflect"
	"testing"
)

func TestMerge_FillsGaps(t *testing.T) {
	p := New("Jane Doe")
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionProfile: {"name": "Jane Doe", "age": 34},
		},
	})

	if got := p.Field(SectionProfile, "name"); got != "Jane Doe" {
		t.Errorf("name = %v, want Jane Doe", got)
	}
	if got := p.Field(SectionProfile, "age"); got != 34 {
		t.Errorf("age = %v, want 34", got)
	}
	if !p.Observed(SectionProfile) {
		t.Error("profile section should be marked observed")
	}
}

func TestMerge_NilNeverOverwrites(t *testing.T) {
	p := New("Jane Doe")
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionInsurance: {"carrier": "Delta Dental", "member_id": "Z1234"},
		},
	})
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionInsurance: {"carrier": nil, "member_id": "", "group": "G-88"},
		},
	})

	if got := p.Field(SectionInsurance, "carrier"); got != "Delta Dental" {
		t.Errorf("carrier regressed to %v", got)
	}
	if got := p.Field(SectionInsurance, "member_id"); got != "Z1234" {
		t.Errorf("member_id regressed to %v", got)
	}
	if got := p.Field(SectionInsurance, "group"); got != "G-88" {
		t.Errorf("group = %v, want G-88", got)
	}
}

func TestMerge_NonNilOverwrites(t *testing.T) {
	p := New("Jane Doe")
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionBilling: {"balance": 120.0},
		},
	})
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionBilling: {"balance": 80.0},
		},
	})

	if got := p.Field(SectionBilling, "balance"); got != 80.0 {
		t.Errorf("balance = %v, want 80.0", got)
	}
}

func TestMerge_NestedMapsRecurse(t *testing.T) {
	p := New("Jane Doe")
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionBilling: {
				"aging": map[string]any{"current": 50.0, "over_90": 200.0},
			},
		},
	})
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionBilling: {
				"aging": map[string]any{"over_30": 25.0, "over_90": nil},
			},
		},
	})

	aging, ok := p.Field(SectionBilling, "aging").(map[string]any)
	if !ok {
		t.Fatalf("aging is %T, want map", p.Field(SectionBilling, "aging"))
	}
	if aging["current"] != 50.0 || aging["over_30"] != 25.0 || aging["over_90"] != 200.0 {
		t.Errorf("aging merged wrong: %v", aging)
	}
}

func TestMerge_EmptyArraysDoNotReplace(t *testing.T) {
	p := New("Jane Doe")
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionClaims: {"open": []any{"C-1", "C-2"}},
		},
	})
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionClaims: {"open": []any{}},
		},
	})

	got, _ := p.Field(SectionClaims, "open").([]any)
	if !reflect.DeepEqual(got, []any{"C-1", "C-2"}) {
		t.Errorf("open claims = %v, want original pair", got)
	}

	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionClaims: {"open": []any{"C-3"}},
		},
	})
	got, _ = p.Field(SectionClaims, "open").([]any)
	if !reflect.DeepEqual(got, []any{"C-3"}) {
		t.Errorf("non-empty array should replace wholesale, got %v", got)
	}
}

func TestMerge_TodayVisitReplacedWholesale(t *testing.T) {
	p := New("Jane Doe")
	p.Merge(Observation{
		TodayVisit: &Visit{Time: "9:00 AM", Provider: "Dr. Lee", ProcedureCodes: []string{"D1110", "D0120"}},
	})
	p.Merge(Observation{
		TodayVisit: &Visit{Time: "9:30 AM", Provider: "Dr. Lee"},
	})

	if p.TodayVisit.Time != "9:30 AM" {
		t.Errorf("visit time = %q, want 9:30 AM", p.TodayVisit.Time)
	}
	if len(p.TodayVisit.ProcedureCodes) != 0 {
		t.Errorf("visit should be fully replaced, kept codes %v", p.TodayVisit.ProcedureCodes)
	}

	// Observation with no visit leaves the last one in place.
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{SectionProfile: {"age": 34}},
	})
	if p.TodayVisit == nil || p.TodayVisit.Time != "9:30 AM" {
		t.Error("visit should survive observations that carry none")
	}
}

func TestMerge_ObservedSectionsMonotonic(t *testing.T) {
	p := New("Jane Doe")
	observations := []Observation{
		{Sections: map[SectionName]map[string]any{SectionProfile: {"name": "Jane Doe"}}},
		{Sections: map[SectionName]map[string]any{SectionInsurance: {"carrier": "Delta Dental"}}},
		{Sections: map[SectionName]map[string]any{SectionProfile: {"age": 34}}},
	}

	seen := make(map[SectionName]bool)
	for i, obs := range observations {
		p.Merge(obs)
		for s := range obs.Sections {
			seen[s] = true
		}
		for s := range seen {
			if !p.Observed(s) {
				t.Fatalf("after merge %d, section %s lost from observed set", i, s)
			}
		}
	}
}

func TestMissingImportantSections(t *testing.T) {
	p := New("Jane Doe")
	p.Merge(Observation{
		Sections: map[SectionName]map[string]any{
			SectionProfile:   {"name": "Jane Doe"},
			SectionInsurance: {"carrier": "Delta Dental"},
		},
	})

	missing := p.MissingImportantSections()
	want := []SectionName{SectionBilling, SectionRecare, SectionForms}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("missing = %v, want %v", missing, want)
	}
}

func TestSameSubject(t *testing.T) {
	if !SameSubject("Jane Doe", "  jane doe ") {
		t.Error("comparison should be case-insensitive and trimmed")
	}
	if SameSubject("Jane Doe", "John Doe") {
		t.Error("different subjects compared equal")
	}
}
