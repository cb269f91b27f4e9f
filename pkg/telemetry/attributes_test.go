// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/soundscape/pkg/core"
)

func TestEnvelopeAttributes(t *testing.T) {
	env := core.NewEnvelope(core.AgentAddress("soundscape"), core.AgentAddress("weather"), core.LocationRequest{CycleID: "c1"})
	attrs := EnvelopeAttributes(env)

	expected := map[string]any{
		AttrMessageKind: string(core.KindLocationRequest),
		AttrEnvelopeID:  env.ID,
		AttrMessageFrom: "agent://soundscape",
		AttrMessageTo:   "agent://weather",
	}

	assertAttributes(t, attrs, expected)
}

func TestCycleAttributes(t *testing.T) {
	attrs := CycleAttributes("c1", core.Location{Latitude: 34.0156, Longitude: -118.4944, Radius: 20})

	expected := map[string]any{
		AttrCycleID:   "c1",
		AttrLatitude:  34.0156,
		AttrLongitude: -118.4944,
		AttrRadius:    20.0,
	}

	assertAttributes(t, attrs, expected)
}

func TestOutcomeAttributes(t *testing.T) {
	attrs := OutcomeAttributes(core.OutcomePartial, []core.Capability{core.CapabilityWeather})
	assertAttributes(t, attrs, map[string]any{AttrCycleOutcome: "partial"})

	var missing []string
	for _, attr := range attrs {
		if string(attr.Key) == AttrCycleMissing {
			missing = attr.Value.AsStringSlice()
		}
	}
	if len(missing) != 1 || missing[0] != "weather" {
		t.Errorf("unexpected missing attribute %v", missing)
	}

	if attrs := OutcomeAttributes(core.OutcomeComplete, nil); len(attrs) != 1 {
		t.Errorf("complete cycle should not carry a missing attribute, got %v", attrs)
	}
}

// assertAttributes checks that expected key-value pairs exist in attrs
func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()

	found := make(map[string]attribute.KeyValue)
	for _, attr := range attrs {
		found[string(attr.Key)] = attr
	}

	for key, expectedVal := range expected {
		attr, ok := found[key]
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}

		var actualVal any
		switch attr.Value.Type() {
		case attribute.STRING:
			actualVal = attr.Value.AsString()
		case attribute.INT64:
			actualVal = int(attr.Value.AsInt64())
		case attribute.FLOAT64:
			actualVal = attr.Value.AsFloat64()
		case attribute.BOOL:
			actualVal = attr.Value.AsBool()
		}

		if actualVal != expectedVal {
			t.Errorf("attribute %s: got %v, want %v", key, actualVal, expectedVal)
		}
	}
}
