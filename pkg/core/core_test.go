// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"
)

func TestAgentAddress(t *testing.T) {
	addr := AgentAddress(" Weather ")
	if addr != "agent://weather" {
		t.Fatalf("unexpected address %q", addr)
	}
	if addr.Name() != "weather" {
		t.Errorf("expected name weather, got %q", addr.Name())
	}
	if addr.IsQuery() {
		t.Errorf("agent address must not be a query address")
	}
}

func TestQueryAddressIsUnique(t *testing.T) {
	a, b := NewQueryAddress(), NewQueryAddress()
	if a == b {
		t.Fatalf("expected distinct query addresses")
	}
	if !a.IsQuery() {
		t.Errorf("expected query scheme, got %q", a)
	}
}

func TestReplyVariants(t *testing.T) {
	tests := []struct {
		reply Reply
		kind  MessageKind
		src   Capability
	}{
		{BuildingsResult{CycleID: "c1"}, KindBuildings, CapabilityBuildings},
		{WeatherResult{CycleID: "c1"}, KindWeather, CapabilityWeather},
		{TimeResult{CycleID: "c1"}, KindTime, CapabilityTime},
		{Failure{CycleID: "c1", Capability: CapabilityWeather}, KindFailure, CapabilityWeather},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if tt.reply.Kind() != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, tt.reply.Kind())
			}
			if tt.reply.Source() != tt.src {
				t.Errorf("expected source %s, got %s", tt.src, tt.reply.Source())
			}
			if tt.reply.Correlation() != "c1" {
				t.Errorf("expected correlation c1, got %s", tt.reply.Correlation())
			}
		})
	}
}

func TestLocationValidate(t *testing.T) {
	tests := []struct {
		name    string
		loc     Location
		wantErr bool
	}{
		{"santa monica", Location{Latitude: 34.0156, Longitude: -118.4944, Radius: 20}, false},
		{"latitude", Location{Latitude: 91}, true},
		{"longitude", Location{Longitude: -181}, true},
		{"radius", Location{Radius: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.loc.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHealthRegistryWorstStatusWins(t *testing.T) {
	reg := NewHealthRegistry()
	healthy := &StatusReporter{}
	degraded := &StatusReporter{}
	degraded.Set(HealthDegraded, "partial cycle")
	reg.Register("time", healthy)
	reg.Register("soundscape", degraded)

	results, overall := reg.CheckAll(context.Background())
	if overall != HealthDegraded {
		t.Fatalf("expected DEGRADED, got %s", overall)
	}
	if len(results) != 2 || results[0].Component != "soundscape" {
		t.Errorf("expected results sorted by component, got %+v", results)
	}

	failed := &StatusReporter{}
	failed.Set(HealthUnhealthy, "startup failed")
	reg.Register("weather", failed)
	if _, overall := reg.CheckAll(context.Background()); overall != HealthUnhealthy {
		t.Errorf("expected UNHEALTHY, got %s", overall)
	}

	if _, err := reg.Check(context.Background(), "missing"); err == nil {
		t.Errorf("expected error for unknown component")
	}
}

func TestCycleIDContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := CycleID(ctx); ok {
		t.Fatalf("expected no cycle id")
	}
	ctx = WithCycleID(ctx, "cycle-1")
	if id, ok := CycleID(ctx); !ok || id != "cycle-1" {
		t.Errorf("expected cycle-1, got %q", id)
	}
}
