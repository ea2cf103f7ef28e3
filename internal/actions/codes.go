package actions

import (
	"strconv"
	"strings"
)

// CDT procedure codes are "D" followed by four digits, banded by specialty.
// This static reference table maps a code to its benefits category, which is
// the key used in a benefits card's coverage table.
type codeBand struct {
	lo, hi   int
	category string
}

var codeBands = []codeBand{
	{100, 999, "diagnostic"},
	{1000, 1999, "preventive"},
	{2000, 2999, "restorative"},
	{3000, 3999, "endodontic"},
	{4000, 4999, "periodontic"},
	{5000, 5899, "prosthodontic"},
	{5900, 5999, "maxillofacial"},
	{6000, 6199, "implant"},
	{6200, 6999, "prosthodontic"},
	{7000, 7999, "oral surgery"},
	{8000, 8999, "orthodontic"},
	{9000, 9999, "adjunctive"},
}

// CategoryOf returns the benefits category for a CDT procedure code, or ""
// when the code is malformed or outside every known band.
func CategoryOf(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 5 || code[0] != 'D' {
		return ""
	}
	n, err := strconv.Atoi(code[1:])
	if err != nil {
		return ""
	}
	for _, b := range codeBands {
		if n >= b.lo && n <= b.hi {
			return b.category
		}
	}
	return ""
}
