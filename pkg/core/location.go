// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"fmt"
)

// Capability identifies one of the data sources queried every cycle.
type Capability string

const (
	CapabilityBuildings Capability = "buildings"
	CapabilityWeather   Capability = "weather"
	CapabilityTime      Capability = "time"
)

// Capabilities lists every capability in a stable order.
func Capabilities() []Capability {
	return []Capability{CapabilityBuildings, CapabilityWeather, CapabilityTime}
}

// Location is a point plus a search radius in meters.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

// Validate checks coordinate ranges and a non-negative radius.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", l.Longitude)
	}
	if l.Radius < 0 {
		return fmt.Errorf("radius %v must not be negative", l.Radius)
	}
	return nil
}

// LocationRequest is fanned out to every capability agent once per cycle.
type LocationRequest struct {
	CycleID string `json:"cycle_id"`
	Location
}

// Kind implements Message.
func (LocationRequest) Kind() MessageKind { return KindLocationRequest }

// Place is a nearby point of interest. Lists of places are ordered nearest first.
type Place struct {
	Name     string `json:"name"`
	Vicinity string `json:"vicinity"`
}

// Reply is the single answer a capability agent sends for a LocationRequest.
// The set of implementations is closed: BuildingsResult, WeatherResult,
// TimeResult and Failure.
type Reply interface {
	Message
	// Correlation returns the cycle id of the request being answered.
	Correlation() string
	// Source returns the capability that produced the reply.
	Source() Capability
	isReply()
}

// BuildingsResult carries nearby places and the raw lookup payload.
type BuildingsResult struct {
	CycleID string          `json:"cycle_id"`
	Places  []Place         `json:"places"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

func (BuildingsResult) Kind() MessageKind     { return KindBuildings }
func (r BuildingsResult) Correlation() string { return r.CycleID }
func (BuildingsResult) Source() Capability    { return CapabilityBuildings }
func (BuildingsResult) isReply()              {}

// WeatherResult carries a short weather description.
type WeatherResult struct {
	CycleID     string `json:"cycle_id"`
	Description string `json:"description"`
}

func (WeatherResult) Kind() MessageKind     { return KindWeather }
func (r WeatherResult) Correlation() string { return r.CycleID }
func (WeatherResult) Source() Capability    { return CapabilityWeather }
func (WeatherResult) isReply()              {}

// TimeResult carries the formatted local time at the location.
type TimeResult struct {
	CycleID   string `json:"cycle_id"`
	LocalTime string `json:"local_time"`
	Zone      string `json:"zone,omitempty"`
}

func (TimeResult) Kind() MessageKind     { return KindTime }
func (r TimeResult) Correlation() string { return r.CycleID }
func (TimeResult) Source() Capability    { return CapabilityTime }
func (TimeResult) isReply()              {}

// Failure reports that a capability could not produce its result.
type Failure struct {
	CycleID    string     `json:"cycle_id"`
	Capability Capability `json:"capability"`
	Reason     string     `json:"reason"`
}

func (Failure) Kind() MessageKind     { return KindFailure }
func (r Failure) Correlation() string { return r.CycleID }
func (r Failure) Source() Capability  { return r.Capability }
func (Failure) isReply()              {}

// CycleRequest asks the orchestrator to run one cycle for a location.
type CycleRequest struct {
	Location
}

// Kind implements Message.
func (CycleRequest) Kind() MessageKind { return KindCycleRequest }

// Outcome is the terminal state of a cycle.
type Outcome string

const (
	// OutcomeComplete means every reply arrived and content was produced.
	OutcomeComplete Outcome = "complete"
	// OutcomePartial means the deadline elapsed with replies missing but content was produced.
	OutcomePartial Outcome = "partial"
	// OutcomeExtractionFailed means the generated text had no usable content.
	OutcomeExtractionFailed Outcome = "extraction_failed"
	// OutcomeGenerationFailed means the content collaborator returned an error.
	OutcomeGenerationFailed Outcome = "generation_failed"
	// OutcomeRejected means the request was invalid and no cycle ran.
	OutcomeRejected Outcome = "rejected"
	// OutcomeBusy means the orchestrator had no room to queue the request and no cycle ran.
	OutcomeBusy Outcome = "busy"
)

// CycleResult answers a CycleRequest once its cycle closes.
type CycleResult struct {
	CycleID    string       `json:"cycle_id"`
	Outcome    Outcome      `json:"outcome"`
	ContentRef string       `json:"content_ref,omitempty"`
	Missing    []Capability `json:"missing,omitempty"`
}

// Kind implements Message.
func (CycleResult) Kind() MessageKind { return KindCycleResult }
