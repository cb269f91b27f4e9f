// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime binds agents to a bus, runs their startup hooks and
// drives their loops until shutdown.
package runtime

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/soundscape/pkg/agent"
	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
	"github.com/jllopis/soundscape/pkg/storage"
	"github.com/jllopis/soundscape/pkg/telemetry"
)

// StartupPolicy decides what happens when an agent's startup fails.
type StartupPolicy string

const (
	// PolicyAbort stops every agent and fails Start.
	PolicyAbort StartupPolicy = "abort"
	// PolicyContinue releases the failed agent's address and keeps the others.
	PolicyContinue StartupPolicy = "continue"
)

// Runtime defines the minimal lifecycle for running agents.
type Runtime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// LocalRuntime runs agents in process on one bus.
type LocalRuntime struct {
	bus    *bus.Bus
	stores storage.Provider
	health *core.HealthRegistry
	policy StartupPolicy
	tracer trace.Tracer
	logger *slog.Logger

	mu      sync.Mutex
	agents  []*agent.Agent
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a LocalRuntime.
type Option func(*LocalRuntime)

// WithStorage sets the provider of agent private stores.
func WithStorage(p storage.Provider) Option {
	return func(r *LocalRuntime) { r.stores = p }
}

// WithHealth sets the registry agents report into.
func WithHealth(h *core.HealthRegistry) Option {
	return func(r *LocalRuntime) { r.health = h }
}

// WithStartupPolicy sets the startup failure policy. Default is continue.
func WithStartupPolicy(p StartupPolicy) Option {
	return func(r *LocalRuntime) { r.policy = p }
}

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *LocalRuntime) { r.logger = l }
}

// NewLocal creates a runtime on b.
func NewLocal(b *bus.Bus, opts ...Option) *LocalRuntime {
	r := &LocalRuntime{
		bus:    b,
		policy: PolicyContinue,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.stores == nil {
		r.stores = storage.NewMemoryProvider()
	}
	if r.health == nil {
		r.health = core.NewHealthRegistry()
	}
	r.tracer = otel.Tracer("soundscape/runtime")
	return r
}

// Health returns the registry holding every agent's checker.
func (r *LocalRuntime) Health() *core.HealthRegistry { return r.health }

// Add binds a to the bus. Address collisions fail here, before Start.
func (r *LocalRuntime) Add(a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New(errors.CodeInvalidInput, "runtime already started", nil).
			WithContext("agent", a.Address().String())
	}
	if err := a.Bind(r.bus, r.stores.For(a.Address())); err != nil {
		return err
	}
	r.agents = append(r.agents, a)
	r.health.Register(a.Address().Name(), a.Health())
	return nil
}

// Start runs every startup hook in registration order, then starts the
// agent loops. No loop runs before all startups finished, so every agent
// can rely on its peers having loaded their state.
func (r *LocalRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	running := make([]*agent.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if err := r.startAgent(runCtx, a); err != nil {
			if r.policy == PolicyAbort {
				cancel()
				return err
			}
			r.bus.Unregister(a.Address())
			continue
		}
		running = append(running, a)
	}

	for _, a := range running {
		r.wg.Add(1)
		go func(a *agent.Agent) {
			defer r.wg.Done()
			if err := a.Run(runCtx); err != nil {
				r.logger.Error("runtime.agent.run.error",
					slog.String("agent", a.Address().String()),
					slog.String("error", err.Error()),
				)
			}
		}(a)
	}
	r.cancel = cancel
	r.started = true
	r.logger.Info("runtime.start",
		slog.Int("agents", len(r.agents)),
		slog.Int("running", len(running)),
	)
	return nil
}

func (r *LocalRuntime) startAgent(ctx context.Context, a *agent.Agent) error {
	ctx, span := r.tracer.Start(ctx, "Runtime.StartAgent", trace.WithAttributes(
		attribute.String(telemetry.AttrAgentAddress, a.Address().String()),
	))
	defer span.End()

	r.logger.Info("runtime.agent.start", slog.String("agent", a.Address().String()))
	if err := a.Start(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		traceID, spanID := traceIDs(span)
		r.logger.Error("runtime.agent.start.error",
			slog.String("agent", a.Address().String()),
			slog.String("policy", string(r.policy)),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Stop cancels every agent loop and waits for them to return or ctx to end.
func (r *LocalRuntime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("runtime.stop")
		return nil
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "agents did not stop in time", ctx.Err())
	}
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
