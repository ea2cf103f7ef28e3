package hashgate

import "testing"

func TestHash_StableAcrossVolatileTokens(t *testing.T) {
	cases := []struct{ a, b string }{
		{
			"Patient: Jane Doe  Last refreshed 9:05 AM",
			"Patient: Jane Doe  Last refreshed 11:42 PM",
		},
		{
			"Next recare: 03/14/2026\nBalance: $120.00",
			"Next recare: 09/01/2026\nBalance: $120.00",
		},
		{
			"Updated 2026-08-30T10:15:00Z — Insurance on file",
			"Updated 2026-01-02T23:59:59Z — Insurance on file",
		},
		{
			"Seen March 15, 2026 at 9:00",
			"Seen October 3, 2025 at 17:30",
		},
		{
			"Patient:   Jane\tDoe", // whitespace and case only
			"patient: jane doe",
		},
	}
	for i, c := range cases {
		if Hash(c.a) != Hash(c.b) {
			t.Errorf("case %d: hashes differ\n a=%q -> %s\n b=%q -> %s",
				i, c.a, Normalize(c.a), c.b, Normalize(c.b))
		}
	}
}

func TestHash_DetectsRealChanges(t *testing.T) {
	cases := []struct{ a, b string }{
		{"Balance: $120.00", "Balance: $480.00"},
		{"Patient: Jane Doe", "Patient: John Doe"},
		{"Insurance: Delta Dental", "Insurance: MetLife"},
	}
	for i, c := range cases {
		if Hash(c.a) == Hash(c.b) {
			t.Errorf("case %d: distinct texts hashed identically", i)
		}
	}
}

func TestNormalize_Placeholders(t *testing.T) {
	got := Normalize("Refreshed 9:05 AM on 03/14/2026")
	want := "refreshed <time> on <date>"
	if got != want {
		t.Errorf("Normalize = %q, want %q", got, want)
	}
}
