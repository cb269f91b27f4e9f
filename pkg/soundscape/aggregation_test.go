// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package soundscape

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/jllopis/soundscape/pkg/core"
)

func sampleReplies(cycleID string) []core.Reply {
	return []core.Reply{
		core.BuildingsResult{
			CycleID: cycleID,
			Places:  []core.Place{{Name: "Pier", Vicinity: "Santa Monica"}},
			Raw:     json.RawMessage(`{"results":[{"name":"Pier"}]}`),
		},
		core.WeatherResult{CycleID: cycleID, Description: "clear sky"},
		core.TimeResult{CycleID: cycleID, LocalTime: "7:42 PM"},
	}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := append([]int{}, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestAggregationOrderIndependent(t *testing.T) {
	start := time.Date(2026, 3, 1, 19, 42, 0, 0, time.UTC)
	replies := sampleReplies("c1")

	want := NewAggregation("c1", core.Location{Latitude: 34, Longitude: -118}, start)
	for _, r := range replies {
		want.Apply(r)
	}

	orders := permutations(len(replies))
	if len(orders) != 6 {
		t.Fatalf("expected 6 orders, got %d", len(orders))
	}
	for _, order := range orders {
		got := NewAggregation("c1", core.Location{Latitude: 34, Longitude: -118}, start)
		for i, idx := range order {
			if !got.Apply(replies[idx]) {
				t.Fatalf("order %v: reply %d rejected", order, idx)
			}
			if got.Complete() != (i == len(order)-1) {
				t.Fatalf("order %v: Complete()=%v after %d replies", order, got.Complete(), i+1)
			}
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("order %v: aggregation differs\n got %+v\nwant %+v", order, got, want)
		}
	}
}

func TestAggregationRejectsStaleAndDuplicate(t *testing.T) {
	agg := NewAggregation("c2", core.Location{}, time.Now())

	if agg.Apply(core.WeatherResult{CycleID: "c1", Description: "rain"}) {
		t.Errorf("reply for another cycle must be rejected")
	}
	if !agg.Apply(core.WeatherResult{CycleID: "c2", Description: "mist"}) {
		t.Fatalf("expected first weather reply to apply")
	}
	if agg.Apply(core.WeatherResult{CycleID: "c2", Description: "storm"}) {
		t.Errorf("duplicate reply must be rejected")
	}
	if agg.Apply(core.Failure{CycleID: "c2", Capability: core.CapabilityWeather, Reason: "late"}) {
		t.Errorf("failure after a result must be rejected")
	}
	if agg.Weather != "mist" {
		t.Errorf("first reply must win, got %q", agg.Weather)
	}
}

func TestAggregationFailureCountsAsReceived(t *testing.T) {
	agg := NewAggregation("c3", core.Location{}, time.Now())
	agg.Apply(core.Failure{CycleID: "c3", Capability: core.CapabilityBuildings, Reason: "quota"})
	agg.Apply(core.WeatherResult{CycleID: "c3", Description: "haze"})

	if !agg.Received(core.CapabilityBuildings) {
		t.Errorf("failure should mark buildings as received")
	}
	if agg.Complete() {
		t.Errorf("time has not replied yet")
	}
	missing := agg.Missing()
	want := []core.Capability{core.CapabilityBuildings, core.CapabilityTime}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("Missing() = %v, want %v", missing, want)
	}
	if string(agg.RawBuildings()) != "null" {
		t.Errorf("expected null raw buildings, got %s", agg.RawBuildings())
	}

	agg.Apply(core.TimeResult{CycleID: "c3", LocalTime: "9:00 AM"})
	if !agg.Complete() {
		t.Errorf("expected complete after all three capabilities replied")
	}
}

func TestAggregationIgnoresUnknownFailure(t *testing.T) {
	agg := NewAggregation("c4", core.Location{}, time.Now())
	if agg.Apply(core.Failure{CycleID: "c4", Capability: "traffic"}) {
		t.Errorf("failure from an unknown capability must be rejected")
	}
}
