package markers

import "sort"

type YearCount struct {
	Year  string `json:"year"`
	Count int    `json:"count"`
}

// CountByYear aggregates markers per travel year, newest year first.
func CountByYear(ms []Marker) []YearCount {
	counts := map[string]int{}
	for _, m := range ms {
		if len(m.Date) < 4 {
			continue
		}
		counts[m.Date[:4]]++
	}
	out := make([]YearCount, 0, len(counts))
	for year, count := range counts {
		out = append(out, YearCount{Year: year, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Year > out[j].Year
	})
	return out
}
