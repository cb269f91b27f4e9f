// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jllopis/soundscape/pkg/agent"
	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/core"
	serrors "github.com/jllopis/soundscape/pkg/errors"
)

func mustAgent(t *testing.T, name string) *agent.Agent {
	t.Helper()
	a, err := agent.New(name)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAddRejectsDuplicateAddress(t *testing.T) {
	rt := NewLocal(bus.New())
	if err := rt.Add(mustAgent(t, "weather")); err != nil {
		t.Fatal(err)
	}
	if err := rt.Add(mustAgent(t, "weather")); !serrors.HasCode(err, serrors.CodeDuplicateAddress) {
		t.Fatalf("expected DUPLICATE_ADDRESS, got %v", err)
	}
}

func TestStartAbortsOnStartupFailure(t *testing.T) {
	rt := NewLocal(bus.New(), WithStartupPolicy(PolicyAbort))
	bad := mustAgent(t, "buildings")
	bad.OnStartup(func(*agent.Context) error { return errors.New("MAPSKEY missing") })
	rt.Add(mustAgent(t, "weather"))
	rt.Add(bad)

	err := rt.Start(context.Background())
	if !serrors.HasCode(err, serrors.CodeStartupFailure) {
		t.Fatalf("expected STARTUP_FAILURE, got %v", err)
	}
}

func TestStartContinuesPastFailedAgent(t *testing.T) {
	b := bus.New()
	rt := NewLocal(b)

	bad := mustAgent(t, "buildings")
	bad.OnStartup(func(*agent.Context) error { return errors.New("MAPSKEY missing") })
	good := mustAgent(t, "weather")
	good.OnMessage(core.KindLocationRequest, func(ctx *agent.Context, env core.Envelope) error {
		return ctx.Reply(env, core.WeatherResult{CycleID: env.Message.(core.LocationRequest).CycleID, Description: "mist"})
	})
	rt.Add(bad)
	rt.Add(good)

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop(context.Background())

	if b.Has(bad.Address()) {
		t.Errorf("expected failed agent address to be released")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := b.Query(ctx, good.Address(), core.LocationRequest{CycleID: "c1"})
	if err != nil {
		t.Fatalf("query healthy agent: %v", err)
	}
	if reply.(core.WeatherResult).Description != "mist" {
		t.Errorf("unexpected reply %+v", reply)
	}

	results, overall := rt.Health().CheckAll(context.Background())
	if overall != core.HealthUnhealthy || len(results) != 2 {
		t.Errorf("expected failed agent to report unhealthy, got %s %+v", overall, results)
	}
}

func TestStartupsFinishBeforeAnyLoop(t *testing.T) {
	b := bus.New()
	rt := NewLocal(b)

	// The first agent messages the second during its own startup; the
	// second must still see its startup state when handling it.
	first := mustAgent(t, "soundscape")
	second := mustAgent(t, "time")
	first.OnStartup(func(ctx *agent.Context) error {
		return ctx.Send(second.Address(), core.LocationRequest{CycleID: "early"})
	})
	loaded := make(chan bool, 1)
	second.OnStartup(func(ctx *agent.Context) error {
		return ctx.Store().Set(ctx, "ready", "yes")
	})
	second.OnMessage(core.KindLocationRequest, func(ctx *agent.Context, _ core.Envelope) error {
		_, ok, _ := ctx.Store().Get(ctx, "ready")
		loaded <- ok
		return nil
	})
	rt.Add(first)
	rt.Add(second)

	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer rt.Stop(context.Background())

	select {
	case ok := <-loaded:
		if !ok {
			t.Errorf("message handled before startup completed")
		}
	case <-time.After(time.Second):
		t.Fatal("message never handled")
	}
}

func TestStopWaitsForLoops(t *testing.T) {
	rt := NewLocal(bus.New())
	a := mustAgent(t, "weather")
	rt.Add(a)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Status() != agent.StatusStopped {
		t.Errorf("expected stopped agent, got %s", a.Status())
	}
}
