// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openweather describes the current weather with the OpenWeather
// current weather API.
package openweather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jllopis/soundscape/pkg/capability"
	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
)

// DefaultBaseURL is the OpenWeather API root.
const DefaultBaseURL = "https://api.openweathermap.org"

const maxBody = 1 << 20

// Lookup implements capability.WeatherLookup.
type Lookup struct {
	apiKey  string
	baseURL string
	units   string
	client  *http.Client
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithAPIKey sets the key used when the call context carries none.
func WithAPIKey(key string) Option {
	return func(l *Lookup) { l.apiKey = key }
}

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(l *Lookup) { l.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Lookup) { l.client = c }
}

// New creates a weather lookup using metric units.
func New(opts ...Option) *Lookup {
	l := &Lookup{
		baseURL: DefaultBaseURL,
		units:   "metric",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Describe returns the description of the first weather entry, for example
// "clear sky".
func (l *Lookup) Describe(ctx context.Context, lat, lng float64) (string, error) {
	key := l.apiKey
	if s, ok := credentials.FromContext(ctx, credentials.WeatherKey); ok {
		key = s.Reveal()
	}
	if key == "" {
		return "", errors.New(errors.CodeInvalidInput, "no weather key", nil)
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("units", l.units)
	q.Set("appid", key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/data/2.5/weather?"+q.Encode(), nil)
	if err != nil {
		return "", errors.New(errors.CodeInvalidInput, "build weather request", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", errors.New(errors.CodeCollaboratorFailure, "weather request", err).WithRecoverable(true)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", errors.New(errors.CodeCollaboratorFailure, "read weather response", err).WithRecoverable(true)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", errors.Newf(errors.CodeCollaboratorFailure, "weather api status %d: %s", resp.StatusCode, msg).
			WithContext("status", resp.StatusCode).
			WithRecoverable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}
	if !gjson.ValidBytes(body) {
		return "", errors.New(errors.CodeCollaboratorFailure, "weather response is not JSON", nil)
	}
	desc := gjson.GetBytes(body, "weather.0.description")
	if !desc.Exists() || desc.String() == "" {
		return "", errors.New(errors.CodeCollaboratorFailure, "weather response has no description", nil).
			WithContext("body", truncate(string(body), 200))
	}
	return desc.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

var _ capability.WeatherLookup = (*Lookup)(nil)
