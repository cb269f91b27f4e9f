// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jllopis/soundscape/pkg/core"
)

// Metrics holds the Prometheus collectors of a bus.
type Metrics struct {
	sent     *prometheus.CounterVec
	rejected *prometheus.CounterVec
	routed   *prometheus.CounterVec
	depth    *prometheus.GaugeVec
}

// NewMetrics registers the bus collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "soundscape",
				Subsystem: "bus",
				Name:      "messages_delivered_total",
				Help:      "Messages accepted into a local mailbox, by kind",
			},
			[]string{"kind"},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "soundscape",
				Subsystem: "bus",
				Name:      "messages_rejected_total",
				Help:      "Messages refused by the bus, by kind and error code",
			},
			[]string{"kind", "code"},
		),
		routed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "soundscape",
				Subsystem: "bus",
				Name:      "messages_routed_total",
				Help:      "Messages handed to a remote transport, by kind",
			},
			[]string{"kind"},
		),
		depth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "soundscape",
				Subsystem: "bus",
				Name:      "mailbox_depth",
				Help:      "Envelopes waiting in a mailbox",
			},
			[]string{"address"},
		),
	}
}

func (m *Metrics) delivered(kind core.MessageKind, to core.Address, depth int) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(string(kind)).Inc()
	if !to.IsQuery() {
		m.depth.WithLabelValues(to.String()).Set(float64(depth))
	}
}

func (m *Metrics) rejectedWith(kind core.MessageKind, code string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(string(kind), code).Inc()
}

func (m *Metrics) routedOut(kind core.MessageKind) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) popped(addr core.Address, depth int) {
	if m == nil || addr.IsQuery() {
		return
	}
	m.depth.WithLabelValues(addr.String()).Set(float64(depth))
}
