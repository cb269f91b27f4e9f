// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package places looks up points of interest with the Google Places Nearby
// Search API.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"googlemaps.github.io/maps"

	"github.com/jllopis/soundscape/pkg/capability"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
)

// PlaceType is the Nearby Search type filter.
const PlaceType = maps.PlaceType("point_of_interest")

// Lookup implements capability.PlacesLookup.
type Lookup struct {
	apiKey  string
	baseURL string

	mu      sync.Mutex
	clients map[string]*maps.Client
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithAPIKey sets the key used when the call context carries none.
func WithAPIKey(key string) Option {
	return func(l *Lookup) { l.apiKey = key }
}

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) Option {
	return func(l *Lookup) { l.baseURL = url }
}

// New creates a places lookup.
func New(opts ...Option) *Lookup {
	l := &Lookup{clients: make(map[string]*maps.Client)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// client returns a maps client for the key in ctx, or the default key.
func (l *Lookup) client(ctx context.Context) (*maps.Client, error) {
	key := l.apiKey
	if s, ok := credentials.FromContext(ctx, credentials.MapsKey); ok {
		key = s.Reveal()
	}
	if key == "" {
		return nil, errors.New(errors.CodeInvalidInput, "no maps key", nil)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[key]; ok {
		return c, nil
	}
	opts := []maps.ClientOption{maps.WithAPIKey(key)}
	if l.baseURL != "" {
		opts = append(opts, maps.WithBaseURL(l.baseURL))
	}
	c, err := maps.NewClient(opts...)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "create maps client", err)
	}
	l.clients[key] = c
	return c, nil
}

// Nearby returns the points of interest within radius meters, nearest first,
// and the search response as JSON.
func (l *Lookup) Nearby(ctx context.Context, lat, lng, radius float64) (capability.NearbyPlaces, error) {
	c, err := l.client(ctx)
	if err != nil {
		return capability.NearbyPlaces{}, err
	}
	resp, err := c.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: lat, Lng: lng},
		Radius:   uint(math.Round(radius)),
		Type:     PlaceType,
	})
	if err != nil {
		return capability.NearbyPlaces{}, errors.New(errors.CodeCollaboratorFailure, "places nearby search", err).
			WithRecoverable(true)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return capability.NearbyPlaces{}, fmt.Errorf("encode places response: %w", err)
	}

	results := append([]maps.PlacesSearchResult(nil), resp.Results...)
	sort.SliceStable(results, func(i, j int) bool {
		return distance(lat, lng, results[i]) < distance(lat, lng, results[j])
	})
	places := make([]core.Place, 0, len(results))
	for _, r := range results {
		places = append(places, core.Place{Name: r.Name, Vicinity: r.Vicinity})
	}
	return capability.NearbyPlaces{Places: places, Raw: raw}, nil
}

const earthRadius = 6371000.0

// distance is the haversine distance in meters from (lat, lng) to r.
func distance(lat, lng float64, r maps.PlacesSearchResult) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	lat1, lat2 := toRad(lat), toRad(r.Geometry.Location.Lat)
	dLat := lat2 - lat1
	dLng := toRad(r.Geometry.Location.Lng - lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}

var _ capability.PlacesLookup = (*Lookup)(nil)
