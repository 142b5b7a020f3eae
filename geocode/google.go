package geocode

import (
	"context"

	"github.com/pkg/errors"
	"googlemaps.github.io/maps"
)

// Google is the Google Maps geocoding provider, selectable instead of
// OpenCage via configuration.
type Google struct {
	maps *maps.Client
}

func NewGoogle(apiKey string) (*Google, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "could not get maps client")
	}
	return &Google{maps: client}, nil
}

func (g *Google) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	result, err := g.maps.Geocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{
			Lat: lat,
			Lng: lng,
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "could not get geocode result")
	}

	if len(result) < 1 {
		return "", errors.New("no results for geocode")
	}

	for _, ac := range result[0].AddressComponents {
		for _, typ := range ac.Types {
			if typ == "locality" {
				return ac.LongName, nil
			}
		}
	}
	return result[0].FormattedAddress, nil
}

func (g *Google) Forward(ctx context.Context, query string) ([]Result, error) {
	result, err := g.maps.Geocode(ctx, &maps.GeocodingRequest{
		Address: query,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not get geocode result")
	}

	if len(result) < 1 {
		return nil, errors.New("no results for geocode")
	}

	results := make([]Result, 0, len(result))
	for _, r := range result {
		results = append(results, Result{
			Name: r.FormattedAddress,
			Lat:  r.Geometry.Location.Lat,
			Lng:  r.Geometry.Location.Lng,
		})
	}
	return results, nil
}
