// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package soundscape

import (
	"encoding/json"
	"time"

	"github.com/jllopis/soundscape/pkg/core"
)

// Aggregation collects the replies of one cycle. A fresh value is created
// for every cycle; a Failure reply marks its capability as received without
// a payload.
type Aggregation struct {
	CycleID   string
	Location  core.Location
	StartedAt time.Time

	BuildingsReceived bool
	WeatherReceived   bool
	TimeReceived      bool

	Places    []core.Place
	Raw       json.RawMessage
	Weather   string
	TimeOfDay string

	Failures map[core.Capability]string
}

// NewAggregation starts an empty aggregation for cycleID.
func NewAggregation(cycleID string, loc core.Location, now time.Time) *Aggregation {
	return &Aggregation{
		CycleID:   cycleID,
		Location:  loc,
		StartedAt: now,
		Failures:  make(map[core.Capability]string),
	}
}

// Apply records r. It returns false, leaving the aggregation untouched, when
// r belongs to another cycle or its capability already replied.
func (a *Aggregation) Apply(r core.Reply) bool {
	if r == nil || r.Correlation() != a.CycleID || a.Received(r.Source()) {
		return false
	}
	switch v := r.(type) {
	case core.BuildingsResult:
		a.BuildingsReceived = true
		a.Places = v.Places
		a.Raw = v.Raw
	case core.WeatherResult:
		a.WeatherReceived = true
		a.Weather = v.Description
	case core.TimeResult:
		a.TimeReceived = true
		a.TimeOfDay = v.LocalTime
	case core.Failure:
		if !a.markReceived(v.Capability) {
			return false
		}
		a.Failures[v.Capability] = v.Reason
	default:
		return false
	}
	return true
}

func (a *Aggregation) markReceived(c core.Capability) bool {
	switch c {
	case core.CapabilityBuildings:
		a.BuildingsReceived = true
	case core.CapabilityWeather:
		a.WeatherReceived = true
	case core.CapabilityTime:
		a.TimeReceived = true
	default:
		return false
	}
	return true
}

// Received reports whether c has replied, successfully or not.
func (a *Aggregation) Received(c core.Capability) bool {
	switch c {
	case core.CapabilityBuildings:
		return a.BuildingsReceived
	case core.CapabilityWeather:
		return a.WeatherReceived
	case core.CapabilityTime:
		return a.TimeReceived
	}
	return false
}

// Complete reports whether every capability replied.
func (a *Aggregation) Complete() bool {
	return a.BuildingsReceived && a.WeatherReceived && a.TimeReceived
}

// Missing lists the capabilities whose data is absent: not received or
// answered with a Failure.
func (a *Aggregation) Missing() []core.Capability {
	var missing []core.Capability
	for _, c := range core.Capabilities() {
		if !a.Received(c) {
			missing = append(missing, c)
			continue
		}
		if _, failed := a.Failures[c]; failed {
			missing = append(missing, c)
		}
	}
	return missing
}

// RawBuildings returns the raw lookup payload, or JSON null when absent.
func (a *Aggregation) RawBuildings() json.RawMessage {
	if len(a.Raw) == 0 {
		return json.RawMessage("null")
	}
	return a.Raw
}
