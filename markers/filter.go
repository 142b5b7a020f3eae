package markers

import "strings"

// FilterSpec selects the subset of markers eligible for display. Empty
// fields are wildcards; the date range only applies when both bounds are
// set. Dates are zero-padded ISO-8601 strings, so lexicographic comparison
// matches chronological order.
type FilterSpec struct {
	Location  string `json:"location"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

func (f FilterSpec) IsZero() bool {
	return f.Location == "" && f.StartDate == "" && f.EndDate == ""
}

func (f FilterSpec) Matches(m Marker) bool {
	if f.Location != "" && !strings.Contains(strings.ToLower(m.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.StartDate != "" && f.EndDate != "" {
		if m.Date < f.StartDate || m.Date > f.EndDate {
			return false
		}
	}
	return true
}

// Apply derives the displayable subset, preserving input order.
func (f FilterSpec) Apply(ms []Marker) []Marker {
	out := make([]Marker, 0, len(ms))
	for _, m := range ms {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}
