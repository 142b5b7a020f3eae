// Package geocode looks up place names for coordinates and coordinates
// for free-text queries. Lookups are best-effort enrichment: a failure
// must never block the marker CRUD flow, callers fall back to Unknown.
package geocode

import "context"

// Unknown is the sentinel place name substituted when a lookup fails or
// returns no results.
const Unknown = "Unknown location"

// Result is one forward-lookup hit.
type Result struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type Geocoder interface {
	// Reverse returns a human-readable place name for the coordinates.
	Reverse(ctx context.Context, lat, lng float64) (string, error)
	// Forward returns candidate places for a free-text query.
	Forward(ctx context.Context, query string) ([]Result, error)
}
