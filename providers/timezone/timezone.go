// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package timezone resolves the local wall-clock time at a location with the
// Google Time Zone API, falling back to a longitude-based offset.
package timezone

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
	_ "time/tzdata"

	"googlemaps.github.io/maps"

	"github.com/jllopis/soundscape/pkg/capability"
	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
)

// Layout formats the local time, for example "7:42 PM".
const Layout = "3:04 PM"

// Lookup implements capability.TimeLookup.
type Lookup struct {
	apiKey   string
	baseURL  string
	fallback bool
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*maps.Client
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithAPIKey sets the key used when the call context carries none.
func WithAPIKey(key string) Option {
	return func(l *Lookup) { l.apiKey = key }
}

// WithBaseURL points the maps client at another endpoint.
func WithBaseURL(url string) Option {
	return func(l *Lookup) { l.baseURL = url }
}

// WithSolarFallback enables the longitude-based offset when the API cannot
// answer. It is enabled by default.
func WithSolarFallback(enabled bool) Option {
	return func(l *Lookup) { l.fallback = enabled }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lookup) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lookup) { l.logger = logger }
}

// New creates a time lookup.
func New(opts ...Option) *Lookup {
	l := &Lookup{
		fallback: true,
		now:      time.Now,
		logger:   slog.Default(),
		clients:  make(map[string]*maps.Client),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LocalTime returns the current time at (lat, lng).
func (l *Lookup) LocalTime(ctx context.Context, lat, lng float64) (capability.LocalTime, error) {
	now := l.now()
	loc, err := l.zone(ctx, lat, lng, now)
	if err != nil {
		if !l.fallback {
			return capability.LocalTime{}, err
		}
		l.logger.WarnContext(ctx, "timezone.fallback",
			slog.Float64("longitude", lng),
			slog.String("error", err.Error()),
		)
		loc = SolarZone(lng)
	}
	return capability.LocalTime{Text: now.In(loc).Format(Layout), Zone: loc.String()}, nil
}

func (l *Lookup) zone(ctx context.Context, lat, lng float64, at time.Time) (*time.Location, error) {
	c, err := l.client(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.Timezone(ctx, &maps.TimezoneRequest{
		Location:  &maps.LatLng{Lat: lat, Lng: lng},
		Timestamp: at,
	})
	if err != nil {
		return nil, errors.New(errors.CodeCollaboratorFailure, "timezone lookup", err).WithRecoverable(true)
	}
	if loc, err := time.LoadLocation(res.TimeZoneID); err == nil && res.TimeZoneID != "" {
		return loc, nil
	}
	// Unknown to the local tz database: trust the offsets from the API.
	return time.FixedZone(res.TimeZoneID, res.RawOffset+res.DstOffset), nil
}

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

// SolarZone approximates the zone at a longitude as a whole-hour offset
// from UTC, named like "UTC-8".
func SolarZone(lng float64) *time.Location {
	hours := int(math.Round(lng / 15))
	if hours > 14 {
		hours = 14
	}
	if hours < -12 {
		hours = -12
	}
	name := "UTC"
	if hours != 0 {
		name = fmt.Sprintf("UTC%+d", hours)
	}
	return time.FixedZone(name, hours*3600)
}

var _ capability.TimeLookup = (*Lookup)(nil)
