package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMarkers() []Marker {
	return []Marker{
		{ID: "1", Lat: 45.81, Lng: 9.08, Header: "Lake", Date: "2024-03-01", Location: "Como, Italy", Paragraph: "nice"},
		{ID: "2", Lat: 48.85, Lng: 2.35, Header: "City", Date: "2024-05-12", Location: "Paris, France", Paragraph: "busy"},
		{ID: "3", Lat: 46.05, Lng: 14.50, Header: "Home", Date: "2023-11-30", Location: "Ljubljana, Slovenia", Paragraph: "rainy"},
	}
}

func TestFilterEmptySpecMatchesEverything(t *testing.T) {
	ms := sampleMarkers()
	got := FilterSpec{}.Apply(ms)
	assert.Equal(t, ms, got)
}

func TestFilterLocation(t *testing.T) {
	ms := sampleMarkers()

	tests := []struct {
		name     string
		location string
		wantIDs  []string
	}{
		{"lowercase substring", "como", []string{"1"}},
		{"uppercase substring", "COMO", []string{"1"}},
		{"mixed case", "pArIs", []string{"2"}},
		{"country part", "italy", []string{"1"}},
		{"shared substring", "an", []string{"2", "3"}},
		{"no match", "berlin", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterSpec{Location: tt.location}.Apply(ms)
			ids := make([]string, 0, len(got))
			for _, m := range got {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestFilterDateRange(t *testing.T) {
	m := Marker{ID: "1", Date: "2024-03-01", Location: "Como"}

	tests := []struct {
		name  string
		spec  FilterSpec
		match bool
	}{
		{"inside range", FilterSpec{StartDate: "2024-01-01", EndDate: "2024-12-31"}, true},
		{"on start bound", FilterSpec{StartDate: "2024-03-01", EndDate: "2024-12-31"}, true},
		{"on end bound", FilterSpec{StartDate: "2024-01-01", EndDate: "2024-03-01"}, true},
		{"before range", FilterSpec{StartDate: "2024-03-02", EndDate: "2024-12-31"}, false},
		{"after range", FilterSpec{StartDate: "2023-01-01", EndDate: "2024-02-29"}, false},
		{"only start is a wildcard", FilterSpec{StartDate: "2025-01-01"}, true},
		{"only end is a wildcard", FilterSpec{EndDate: "2023-01-01"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.spec.Apply([]Marker{m})
			if tt.match {
				assert.Equal(t, []Marker{m}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestFilterIdempotent(t *testing.T) {
	ms := sampleMarkers()
	spec := FilterSpec{Location: "o", StartDate: "2023-01-01", EndDate: "2024-12-31"}

	once := spec.Apply(ms)
	twice := spec.Apply(once)
	require.Equal(t, once, twice)
}

func TestFilterPreservesOrder(t *testing.T) {
	ms := sampleMarkers()
	got := FilterSpec{StartDate: "2023-01-01", EndDate: "2024-12-31"}.Apply(ms)

	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "3", got[2].ID)
}
