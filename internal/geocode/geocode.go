// Package geocode models the external geocoding service: query URLs, the
// response envelope with its status codes, and toponym assembly from address
// components. The actual HTTP fetch goes through the scheduler like any
// other URL so geocoder traffic shares the host's permit budget.
package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/anatolia-labs/dizin/internal/model"
)

// Geocoder response statuses. Anything else is a terminal domain outcome,
// not an error.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// Component is one tagged address component.
type Component struct {
	LongName string   `json:"long_name"`
	Types    []string `json:"types"`
}

// Result is one geocoding candidate.
type Result struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	AddressComponents []Component `json:"address_components"`
}

// Centroid returns the candidate's location.
func (r *Result) Centroid() model.Coordinates {
	return model.Coordinates{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng}
}

// Response is the geocoder's JSON envelope.
type Response struct {
	Status  string   `json:"status"`
	Results []Result `json:"results"`
}

// Parse decodes a geocoder response body.
func Parse(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}
	return &resp, nil
}

// localityClasses are the component types that make up a toponym.
var localityClasses = map[string]struct{}{
	"country":                     {},
	"administrative_area_level_1": {},
	"administrative_area_level_2": {},
	"locality":                    {},
}

// Toponym joins the locality-class components in their returned order, or in
// reverse when reversed is set (most local first, for prefix search).
func Toponym(components []Component, reversed bool) string {
	var parts []string
	for _, c := range components {
		for _, t := range c.Types {
			if _, ok := localityClasses[t]; ok {
				parts = append(parts, c.LongName)
				break
			}
		}
	}
	if reversed {
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
	}
	return strings.Join(parts, ", ")
}

// Client builds query URLs for the geocoding API and throttles request
// admission on top of the per-host permit.
type Client struct {
	baseURL  string
	key      string
	language string
	limiter  *rate.Limiter
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (tests point it at a local server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithLanguage sets the response language parameter.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithRateLimit caps geocoding queries per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
		}
	}
}

// NewClient creates a Client for the given API key.
func NewClient(key string, opts ...Option) *Client {
	c := &Client{
		baseURL:  "https://maps.googleapis.com/maps/api/geocode/json",
		key:      key,
		language: "en",
		limiter:  rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryURL returns the full request URL for a free-text address query.
func (c *Client) QueryURL(address string) string {
	params := url.Values{
		"key":      {c.key},
		"address":  {address},
		"language": {c.language},
	}
	return c.baseURL + "?" + params.Encode()
}

// Wait blocks until the client-side rate limit admits another query.
func (c *Client) Wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "geocode: rate limit")
	}
	return nil
}
