package session

import (
	"net/url"
	"sort"

	"github.com/twpayne/go-polyline"

	"github.com/matematik7/travelmap-go/geocode"
	"github.com/matematik7/travelmap-go/markers"
)

type Dialog string

const (
	DialogNone Dialog = ""
	DialogAdd  Dialog = "add"
	DialogEdit Dialog = "edit"
)

// ViewCommand asks the map surface to center on a point.
type ViewCommand struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom int     `json:"zoom"`
}

// DefaultView is the initial map view before any marker is focused.
var DefaultView = ViewCommand{Lat: 45.816666, Lng: 9.083333, Zoom: 18}

const focusZoom = 13

// RenderModel is the immutable snapshot handed to the presentation layer.
// While Busy is true a network call is outstanding and the UI must
// disable resubmission.
type RenderModel struct {
	Mode          Mode                `json:"mode"`
	Dialog        Dialog              `json:"dialog,omitempty"`
	Draft         markers.Draft       `json:"draft"`
	Coords        *markers.Coords     `json:"coords,omitempty"`
	EditingID     string              `json:"editingId,omitempty"`
	Filter        markers.FilterSpec  `json:"filter"`
	Visible       []markers.Marker    `json:"visibleMarkers"`
	InitialView   ViewCommand         `json:"initialView"`
	Route         string              `json:"route,omitempty"`
	Busy          bool                `json:"busy"`
	Flashes       []Flash             `json:"flashes,omitempty"`
	SearchResults []geocode.Result    `json:"searchResults,omitempty"`
	MapView       *ViewCommand        `json:"mapView,omitempty"`
	Years         []markers.YearCount `json:"years,omitempty"`
	Version       uint64              `json:"version"`
}

const maxRouteLen = 1800

// routePolyline encodes the visible markers' path in date order,
// decimating until the URL-escaped encoding fits the length budget.
func routePolyline(ms []markers.Marker) string {
	if len(ms) < 2 {
		return ""
	}

	sorted := make([]markers.Marker, len(ms))
	copy(sorted, ms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})

	inc := 1
	for {
		coords := [][]float64{}
		for i := 0; i < len(sorted); i += inc {
			coords = append(coords, []float64{sorted[i].Lat, sorted[i].Lng})
		}

		encoded := string(polyline.EncodeCoords(coords))
		if len(url.QueryEscape(encoded)) <= maxRouteLen || len(coords) <= 2 {
			return encoded
		}

		inc *= 2
	}
}
