package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const opencageURL = "https://api.opencagedata.com/geocode/v1/json"

// OpenCage queries the OpenCage geocoding API.
type OpenCage struct {
	key     string
	baseURL string
	http    *http.Client
}

func NewOpenCage(key string) *OpenCage {
	return &OpenCage{
		key:     key,
		baseURL: opencageURL,
		http:    http.DefaultClient,
	}
}

type opencageResponse struct {
	Results []struct {
		Formatted  string `json:"formatted"`
		Components struct {
			City    string `json:"city"`
			Town    string `json:"town"`
			Village string `json:"village"`
		} `json:"components"`
		Geometry struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
	} `json:"results"`
}

func (c *OpenCage) call(ctx context.Context, query string) (*opencageResponse, error) {
	u := fmt.Sprintf("%s?q=%s&key=%s", c.baseURL, url.QueryEscape(query), url.QueryEscape(c.key))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not call opencage")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("opencage error: %v", resp.Status)
	}

	response := &opencageResponse{}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil {
		return nil, errors.Wrap(err, "could not decode opencage response")
	}

	return response, nil
}

// Reverse prefers the locality (city, town or village) over the full
// formatted address.
func (c *OpenCage) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	response, err := c.call(ctx, fmt.Sprintf("%f,%f", lat, lng))
	if err != nil {
		return "", err
	}
	if len(response.Results) < 1 {
		return "", errors.New("no results for reverse geocode")
	}

	result := response.Results[0]
	for _, name := range []string{
		result.Components.City,
		result.Components.Town,
		result.Components.Village,
	} {
		if name != "" {
			return name, nil
		}
	}
	return result.Formatted, nil
}

func (c *OpenCage) Forward(ctx context.Context, query string) ([]Result, error) {
	response, err := c.call(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(response.Results) < 1 {
		return nil, errors.New("no results for forward geocode")
	}

	results := make([]Result, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, Result{
			Name: r.Formatted,
			Lat:  r.Geometry.Lat,
			Lng:  r.Geometry.Lng,
		})
	}
	return results, nil
}
