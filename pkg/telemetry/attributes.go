// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration: exporter setup,
// trace-aware logging, span attributes and cycle metrics.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/soundscape/pkg/core"
)

// Attribute keys shared by spans and metrics.
const (
	// Agent attributes
	AttrAgentAddress = "soundscape.agent.address"
	AttrAgentStatus  = "soundscape.agent.status"

	// Message attributes
	AttrMessageKind = "soundscape.message.kind"
	AttrMessageFrom = "soundscape.message.from"
	AttrMessageTo   = "soundscape.message.to"
	AttrEnvelopeID  = "soundscape.envelope.id"
	AttrDuplicate   = "soundscape.envelope.duplicate"

	// Cycle attributes
	AttrCycleID      = "soundscape.cycle.id"
	AttrCycleOutcome = "soundscape.cycle.outcome"
	AttrCycleMissing = "soundscape.cycle.missing"

	// Location attributes
	AttrLatitude  = "soundscape.location.latitude"
	AttrLongitude = "soundscape.location.longitude"
	AttrRadius    = "soundscape.location.radius"

	// Reply attributes
	AttrCapability    = "soundscape.capability"
	AttrReplyOK       = "soundscape.reply.ok"
	AttrDiscardReason = "soundscape.reply.discard_reason"
)

// EnvelopeAttributes returns attributes for a span handling env.
func EnvelopeAttributes(env core.Envelope) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrMessageKind, string(env.Kind())),
	}
	if env.ID != "" {
		attrs = append(attrs, attribute.String(AttrEnvelopeID, env.ID))
	}
	if !env.From.IsZero() {
		attrs = append(attrs, attribute.String(AttrMessageFrom, env.From.String()))
	}
	if !env.To.IsZero() {
		attrs = append(attrs, attribute.String(AttrMessageTo, env.To.String()))
	}
	return attrs
}

// CycleAttributes returns the attributes set when a cycle starts.
func CycleAttributes(cycleID string, loc core.Location) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCycleID, cycleID),
		attribute.Float64(AttrLatitude, loc.Latitude),
		attribute.Float64(AttrLongitude, loc.Longitude),
		attribute.Float64(AttrRadius, loc.Radius),
	}
}

// OutcomeAttributes returns the attributes set when a cycle closes.
func OutcomeAttributes(outcome core.Outcome, missing []core.Capability) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCycleOutcome, string(outcome)),
	}
	if len(missing) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrCycleMissing, CapabilityNames(missing)))
	}
	return attrs
}

// CapabilityNames converts capabilities to their string form.
func CapabilityNames(caps []core.Capability) []string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return names
}
