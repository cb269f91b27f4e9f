// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/jllopis/soundscape/pkg/agent"
	"github.com/jllopis/soundscape/pkg/core"
)

// Behavior answers one LocationRequest on behalf of a capability agent.
type Behavior func(ctx *agent.Context, env core.Envelope, req core.LocationRequest) error

// Reply answers immediately with the reply built for the cycle.
func Reply(build func(cycleID string) core.Reply) Behavior {
	return func(ctx *agent.Context, env core.Envelope, req core.LocationRequest) error {
		return ctx.Reply(env, build(req.CycleID))
	}
}

// ReplyAfter answers after d without blocking the agent loop.
func ReplyAfter(d time.Duration, build func(cycleID string) core.Reply) Behavior {
	return func(ctx *agent.Context, env core.Envelope, req core.LocationRequest) error {
		ctx.After(d, func(ctx *agent.Context) error {
			return ctx.Reply(env, build(req.CycleID))
		})
		return nil
	}
}

// Fail answers with a Failure for capability c.
func Fail(c core.Capability, reason string) Behavior {
	return Reply(func(cycleID string) core.Reply {
		return core.Failure{CycleID: cycleID, Capability: c, Reason: reason}
	})
}

// Silent never answers.
func Silent(*agent.Context, core.Envelope, core.LocationRequest) error { return nil }

// Buildings is a canned buildings reply.
func Buildings(cycleID string) core.Reply {
	return core.BuildingsResult{
		CycleID: cycleID,
		Places:  []core.Place{{Name: "Santa Monica Pier", Vicinity: "Santa Monica"}},
		Raw:     json.RawMessage(`{"results":[{"name":"Santa Monica Pier"}],"status":"OK"}`),
	}
}

// Weather is a canned weather reply.
func Weather(cycleID string) core.Reply {
	return core.WeatherResult{CycleID: cycleID, Description: "clear sky"}
}

// Time is a canned time reply.
func Time(cycleID string) core.Reply {
	return core.TimeResult{CycleID: cycleID, LocalTime: "7:42 PM"}
}

// DefaultBehaviors answers every capability immediately.
func DefaultBehaviors() map[core.Capability]Behavior {
	return map[core.Capability]Behavior{
		core.CapabilityBuildings: Reply(Buildings),
		core.CapabilityWeather:   Reply(Weather),
		core.CapabilityTime:      Reply(Time),
	}
}

// NewResponder creates an agent named after c that answers with b and
// counts the requests it receives.
func NewResponder(c core.Capability, b Behavior, requests *atomic.Int64) (*agent.Agent, error) {
	a, err := agent.New(string(c))
	if err != nil {
		return nil, err
	}
	a.OnMessage(core.KindLocationRequest, func(ctx *agent.Context, env core.Envelope) error {
		if requests != nil {
			requests.Add(1)
		}
		req, ok := env.Message.(core.LocationRequest)
		if !ok {
			return nil
		}
		return b(ctx, env, req)
	})
	return a, nil
}
