// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CycleMetrics tracks cycle outcomes, reply arrivals and dropped work.
// A nil *CycleMetrics records nothing.
type CycleMetrics struct {
	// cycles counts closed cycles by outcome
	cycles metric.Int64Counter

	// duration records how long cycles take from fan-out to close
	duration metric.Float64Histogram

	// replies counts replies applied to a cycle by capability and success
	replies metric.Int64Counter

	// discarded counts stale or duplicate replies
	discarded metric.Int64Counter

	// skipped counts timer ticks that found a cycle in flight
	skipped metric.Int64Counter
}

// NewCycleMetrics creates the cycle instruments on mp, or on the global
// meter provider when mp is nil.
func NewCycleMetrics(mp metric.MeterProvider) (*CycleMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("soundscape/cycles")

	cycles, err := meter.Int64Counter(
		"soundscape.cycles",
		metric.WithDescription("Closed cycles by outcome"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"soundscape.cycle.duration",
		metric.WithDescription("Cycle duration from fan-out to close"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	replies, err := meter.Int64Counter(
		"soundscape.replies",
		metric.WithDescription("Replies applied to a cycle by capability"),
	)
	if err != nil {
		return nil, err
	}

	discarded, err := meter.Int64Counter(
		"soundscape.replies.discarded",
		metric.WithDescription("Replies dropped as stale or duplicate"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter(
		"soundscape.ticks.skipped",
		metric.WithDescription("Timer ticks skipped because a cycle was in flight"),
	)
	if err != nil {
		return nil, err
	}

	return &CycleMetrics{
		cycles:    cycles,
		duration:  duration,
		replies:   replies,
		discarded: discarded,
		skipped:   skipped,
	}, nil
}

// RecordCycle counts a closed cycle and its duration.
func (m *CycleMetrics) RecordCycle(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrCycleOutcome, outcome))
	m.cycles.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

// RecordReply counts a reply applied to the current cycle.
func (m *CycleMetrics) RecordReply(ctx context.Context, capability string, ok bool) {
	if m == nil {
		return
	}
	m.replies.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCapability, capability),
		attribute.Bool(AttrReplyOK, ok),
	))
}

// RecordDiscarded counts a dropped reply.
func (m *CycleMetrics) RecordDiscarded(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.discarded.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrDiscardReason, reason)))
}

// RecordSkippedTick counts a coalesced timer tick.
func (m *CycleMetrics) RecordSkippedTick(ctx context.Context) {
	if m == nil {
		return
	}
	m.skipped.Add(ctx, 1)
}
