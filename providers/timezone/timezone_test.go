// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package timezone

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	serrors "github.com/jllopis/soundscape/pkg/errors"
)

var fixed = time.Date(2026, 7, 4, 2, 42, 0, 0, time.UTC)

func clock() time.Time { return fixed }

func TestLocalTimeFromAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/timezone/json") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dstOffset":3600,"rawOffset":-28800,"status":"OK","timeZoneId":"America/Los_Angeles","timeZoneName":"Pacific Daylight Time"}`))
	}))
	defer srv.Close()

	l := New(WithAPIKey("k"), WithBaseURL(srv.URL), WithClock(clock), WithSolarFallback(false))
	got, err := l.LocalTime(context.Background(), 34.0156, -118.4944)
	if err != nil {
		t.Fatalf("LocalTime: %v", err)
	}
	if got.Text != "7:42 PM" {
		t.Errorf("expected 7:42 PM, got %q", got.Text)
	}
	if got.Zone != "America/Los_Angeles" {
		t.Errorf("unexpected zone %q", got.Zone)
	}
}

func TestLocalTimeFallsBackWithoutKey(t *testing.T) {
	got, err := New(WithClock(clock)).LocalTime(context.Background(), 34.0156, -118.4944)
	if err != nil {
		t.Fatalf("LocalTime: %v", err)
	}
	if got.Text != "6:42 PM" || got.Zone != "UTC-8" {
		t.Errorf("unexpected solar time %+v", got)
	}
}

func TestLocalTimeWithoutFallback(t *testing.T) {
	_, err := New(WithClock(clock), WithSolarFallback(false)).LocalTime(context.Background(), 0, 0)
	if !serrors.HasCode(err, serrors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestSolarZone(t *testing.T) {
	tests := []struct {
		lng  float64
		name string
	}{
		{0, "UTC"},
		{2.17, "UTC"},
		{-118.49, "UTC-8"},
		{139.69, "UTC+9"},
		{179.9, "UTC+12"},
	}
	for _, tt := range tests {
		if got := SolarZone(tt.lng).String(); got != tt.name {
			t.Errorf("SolarZone(%v) = %s, want %s", tt.lng, got, tt.name)
		}
	}
}
