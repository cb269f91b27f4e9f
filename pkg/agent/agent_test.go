// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/core"
	serrors "github.com/jllopis/soundscape/pkg/errors"
)

func newBound(t *testing.T, b *bus.Bus, name string) *Agent {
	t.Helper()
	a, err := New(name)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Bind(b, nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return a
}

func runAgent(t *testing.T, a *Agent) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRequiresName(t *testing.T) {
	if _, err := New("  "); !serrors.HasCode(err, serrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestBindDuplicateAddress(t *testing.T) {
	b := bus.New()
	newBound(t, b, "weather")
	a, _ := New("weather")
	if err := a.Bind(b, nil); !serrors.HasCode(err, serrors.CodeDuplicateAddress) {
		t.Fatalf("expected DUPLICATE_ADDRESS, got %v", err)
	}
}

func TestStartupRunsBeforeMessages(t *testing.T) {
	b := bus.New()
	a := newBound(t, b, "weather")

	var mu sync.Mutex
	var order []string
	a.OnStartup(func(ctx *Context) error {
		mu.Lock()
		order = append(order, "startup")
		mu.Unlock()
		return ctx.Store().Set(ctx, "weather_key", "w-1")
	})
	a.OnMessage(core.KindLocationRequest, func(ctx *Context, env core.Envelope) error {
		key, ok, _ := ctx.Store().Get(ctx, "weather_key")
		mu.Lock()
		if ok {
			order = append(order, "message:"+key)
		} else {
			order = append(order, "message:nokey")
		}
		mu.Unlock()
		return nil
	})

	// Queued before the agent starts.
	if err := b.Send(context.Background(), "agent://soundscape", a.Address(), core.LocationRequest{}); err != nil {
		t.Fatal(err)
	}
	stop := runAgent(t, a)
	defer stop()

	waitFor(t, "message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	if order[0] != "startup" || order[1] != "message:w-1" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestStartupFailureMarksAgentFailed(t *testing.T) {
	a := newBound(t, bus.New(), "buildings")
	a.OnStartup(func(*Context) error { return errors.New("MAPSKEY missing") })

	err := a.Start(context.Background())
	if !serrors.HasCode(err, serrors.CodeStartupFailure) {
		t.Fatalf("expected STARTUP_FAILURE, got %v", err)
	}
	if a.Status() != StatusFailed {
		t.Errorf("expected failed status, got %s", a.Status())
	}
	if got := a.Health().Check(context.Background()).Status; got != core.HealthUnhealthy {
		t.Errorf("expected UNHEALTHY, got %s", got)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Errorf("expected Run to refuse a failed agent")
	}
}

func TestHandlersNeverOverlap(t *testing.T) {
	b := bus.New()
	a := newBound(t, b, "soundscape")

	var active, maxActive, handled atomic.Int32
	enter := func() {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		handled.Add(1)
	}
	a.OnMessage(core.KindWeather, func(*Context, core.Envelope) error { enter(); return nil })
	a.OnMessage(core.KindTime, func(*Context, core.Envelope) error { enter(); return nil })
	a.OnInterval(2*time.Millisecond, func(*Context) error { enter(); return nil })

	stop := runAgent(t, a)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				var msg core.Message = core.WeatherResult{}
				if i%2 == 0 {
					msg = core.TimeResult{}
				}
				_ = b.Send(context.Background(), "agent://test", a.Address(), msg)
			}
		}(i)
	}
	wg.Wait()

	waitFor(t, "handlers", func() bool { return handled.Load() >= 80 })
	if maxActive.Load() != 1 {
		t.Errorf("expected handlers to be serialized, max concurrent %d", maxActive.Load())
	}
}

func TestIntervalTicksAreCoalesced(t *testing.T) {
	a := newBound(t, bus.New(), "soundscape")

	var ticks atomic.Int32
	a.OnInterval(5*time.Millisecond, func(*Context) error {
		ticks.Add(1)
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	stop := runAgent(t, a)
	time.Sleep(230 * time.Millisecond)
	stop()

	// A 100ms handler on a 5ms period: without coalescing ~45 ticks would queue.
	if n := ticks.Load(); n < 2 || n > 4 {
		t.Errorf("expected 2-4 coalesced ticks, got %d", n)
	}
}

func TestUnhandledKindIsDropped(t *testing.T) {
	b := bus.New()
	a := newBound(t, b, "time")
	var handled atomic.Bool
	a.OnMessage(core.KindLocationRequest, func(*Context, core.Envelope) error {
		handled.Store(true)
		return nil
	})
	stop := runAgent(t, a)
	defer stop()

	_ = b.Send(context.Background(), "agent://test", a.Address(), core.WeatherResult{})
	_ = b.Send(context.Background(), "agent://test", a.Address(), core.LocationRequest{})
	waitFor(t, "location request", handled.Load)
}

func TestPanickingHandlerDoesNotStopAgent(t *testing.T) {
	b := bus.New()
	a := newBound(t, b, "time")
	var calls atomic.Int32
	a.OnMessage(core.KindLocationRequest, func(*Context, core.Envelope) error {
		if calls.Add(1) == 1 {
			panic("tz database missing")
		}
		return nil
	})
	stop := runAgent(t, a)
	defer stop()

	_ = b.Send(context.Background(), "agent://test", a.Address(), core.LocationRequest{})
	_ = b.Send(context.Background(), "agent://test", a.Address(), core.LocationRequest{})
	waitFor(t, "second message", func() bool { return calls.Load() == 2 })
}

func TestAfterFiresOnAgentLoopAndCancels(t *testing.T) {
	b := bus.New()
	a := newBound(t, b, "soundscape")

	var fired, canceledFired atomic.Bool
	a.OnMessage(core.KindCycleRequest, func(ctx *Context, _ core.Envelope) error {
		ctx.After(10*time.Millisecond, func(*Context) error {
			fired.Store(true)
			return nil
		})
		cancel := ctx.After(10*time.Millisecond, func(*Context) error {
			canceledFired.Store(true)
			return nil
		})
		cancel()
		return nil
	})
	stop := runAgent(t, a)
	defer stop()

	_ = b.Send(context.Background(), "agent://test", a.Address(), core.CycleRequest{})
	waitFor(t, "timer", fired.Load)
	time.Sleep(30 * time.Millisecond)
	if canceledFired.Load() {
		t.Errorf("canceled timer fired")
	}
}

func TestReplyGoesToSender(t *testing.T) {
	b := bus.New()
	weather := newBound(t, b, "weather")
	weather.OnMessage(core.KindLocationRequest, func(ctx *Context, env core.Envelope) error {
		req := env.Message.(core.LocationRequest)
		return ctx.Reply(env, core.WeatherResult{CycleID: req.CycleID, Description: "clear sky"})
	})
	stop := runAgent(t, weather)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := b.Query(ctx, weather.Address(), core.LocationRequest{CycleID: "c1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if w := reply.(core.WeatherResult); w.CycleID != "c1" || w.Description != "clear sky" {
		t.Errorf("unexpected reply %+v", w)
	}
}
