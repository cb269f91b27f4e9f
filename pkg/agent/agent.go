// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements addressable agents: a mailbox bound on the bus,
// a startup hook, interval ticks, per-kind message handlers and one-shot
// timers, all run on a single goroutine per agent.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
	"github.com/jllopis/soundscape/pkg/storage"
	"github.com/jllopis/soundscape/pkg/telemetry"
)

// StartupHandler runs once before any other handler.
type StartupHandler func(ctx *Context) error

// TickHandler runs on every interval tick.
type TickHandler func(ctx *Context) error

// MessageHandler handles one envelope of a registered kind.
type MessageHandler func(ctx *Context, env core.Envelope) error

// TimerHandler runs when a timer scheduled with Context.After fires.
type TimerHandler func(ctx *Context) error

// Bus is the part of the message bus an agent needs.
type Bus interface {
	Register(addr core.Address) (*bus.Mailbox, error)
	Send(ctx context.Context, from, to core.Address, msg core.Message) error
}

// Status is the lifecycle state of an agent.
type Status int32

const (
	StatusCreated Status = iota
	StatusStarting
	StatusRunning
	StatusFailed
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusStopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

type interval struct {
	period  time.Duration
	handler TickHandler
	pending atomic.Bool
}

type timer struct {
	handler  TimerHandler
	canceled bool
}

// Agent is an addressable actor.
type Agent struct {
	addr   core.Address
	logger *slog.Logger

	startup   StartupHandler
	intervals []*interval
	handlers  map[core.MessageKind]MessageHandler

	bus     Bus
	mailbox *bus.Mailbox
	store   storage.Store
	status  atomic.Int32
	health  *core.StatusReporter

	wake    chan struct{}
	timerMu sync.Mutex
	timers  map[uint64]*timer
	due     []uint64
	nextID  uint64
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates an agent named name. Its address is core.AgentAddress(name).
func New(name string, opts ...Option) (*Agent, error) {
	addr := core.AgentAddress(name)
	if addr.Name() == "" {
		return nil, errors.New(errors.CodeInvalidInput, "agent name is required", nil)
	}
	a := &Agent{
		addr:     addr,
		logger:   slog.Default(),
		handlers: make(map[core.MessageKind]MessageHandler),
		health:   &core.StatusReporter{},
		wake:     make(chan struct{}, 1),
		timers:   make(map[uint64]*timer),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	a.logger = a.logger.With(slog.String("agent", addr.String()))
	return a, nil
}

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

// OnStartup sets the handler run once when the agent starts.
func (a *Agent) OnStartup(h StartupHandler) { a.startup = h }

// OnInterval adds a recurring handler. The first tick comes one period after
// startup completes; ticks that fall due while a handler is running are
// coalesced into a single pending tick.
func (a *Agent) OnInterval(period time.Duration, h TickHandler) {
	a.intervals = append(a.intervals, &interval{period: period, handler: h})
}

// OnMessage sets the handler for a message kind.
func (a *Agent) OnMessage(kind core.MessageKind, h MessageHandler) {
	a.handlers[kind] = h
}

// Address returns the agent address.
func (a *Agent) Address() core.Address { return a.addr }

// Status returns the lifecycle state.
func (a *Agent) Status() Status { return Status(a.status.Load()) }

// Health returns the checker reporting this agent's lifecycle.
func (a *Agent) Health() core.HealthChecker { return a.health }

// Bind registers the agent mailbox on b and attaches its private store.
func (a *Agent) Bind(b Bus, store storage.Store) error {
	mb, err := b.Register(a.addr)
	if err != nil {
		return err
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}
	a.bus = b
	a.mailbox = mb
	a.store = store
	return nil
}

// Start runs the startup handler. Messages sent to the agent before or
// during startup stay queued until Run.
func (a *Agent) Start(ctx context.Context) error {
	if a.mailbox == nil {
		return errors.New(errors.CodeStartupFailure, "agent is not bound to a bus", nil).
			WithContext("agent", a.addr.String())
	}
	if !a.status.CompareAndSwap(int32(StatusCreated), int32(StatusStarting)) {
		return errors.Newf(errors.CodeStartupFailure, "agent %s already started", a.addr)
	}
	if a.startup != nil {
		err := a.safely("startup", func() error { return a.startup(a.context(ctx)) })
		if err != nil {
			a.status.Store(int32(StatusFailed))
			a.health.Set(core.HealthUnhealthy, err.Error())
			return errors.New(errors.CodeStartupFailure, "startup failed", err).
				WithContext("agent", a.addr.String())
		}
	}
	a.status.Store(int32(StatusRunning))
	a.health.Set(core.HealthHealthy, "running")
	return nil
}

// Run processes mailbox envelopes, interval ticks and timers until ctx is
// done. All handlers run on the calling goroutine.
func (a *Agent) Run(ctx context.Context) error {
	if a.Status() != StatusRunning {
		return errors.Newf(errors.CodeStartupFailure, "agent %s is %s", a.addr, a.Status())
	}
	var wg sync.WaitGroup
	for _, iv := range a.intervals {
		wg.Add(1)
		go func(iv *interval) {
			defer wg.Done()
			ticker := time.NewTicker(iv.period)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					iv.pending.Store(true)
					a.signal()
				}
			}
		}(iv)
	}
	defer func() {
		wg.Wait()
		a.status.Store(int32(StatusStopped))
		a.logger.Debug("agent.stop")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.mailbox.Ready():
			if env, ok := a.mailbox.Pop(); ok {
				a.dispatch(ctx, env)
			}
		case <-a.wake:
			a.runTicks(ctx)
			a.runTimers(ctx)
		}
	}
}

func (a *Agent) dispatch(ctx context.Context, env core.Envelope) {
	h, ok := a.handlers[env.Kind()]
	if !ok {
		a.logger.Warn("agent.message.unhandled",
			slog.String("kind", string(env.Kind())),
			slog.String("from", env.From.String()),
		)
		return
	}
	ctx, span := otel.Tracer("soundscape/agent").Start(ctx, "agent.handle")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrAgentAddress, a.addr.String()))
	span.SetAttributes(telemetry.EnvelopeAttributes(env)...)
	if err := a.safely(string(env.Kind()), func() error { return h(a.context(ctx), env) }); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (a *Agent) runTicks(ctx context.Context) {
	for _, iv := range a.intervals {
		if iv.pending.CompareAndSwap(true, false) {
			_ = a.safely("tick", func() error { return iv.handler(a.context(ctx)) })
		}
	}
}

func (a *Agent) runTimers(ctx context.Context) {
	a.timerMu.Lock()
	due := a.due
	a.due = nil
	fire := make([]TimerHandler, 0, len(due))
	for _, id := range due {
		if t, ok := a.timers[id]; ok {
			if !t.canceled {
				fire = append(fire, t.handler)
			}
			delete(a.timers, id)
		}
	}
	a.timerMu.Unlock()
	for _, h := range fire {
		_ = a.safely("timer", func() error { return h(a.context(ctx)) })
	}
}

func (a *Agent) schedule(d time.Duration, h TimerHandler) func() {
	a.timerMu.Lock()
	a.nextID++
	id := a.nextID
	t := &timer{handler: h}
	a.timers[id] = t
	a.timerMu.Unlock()

	stop := time.AfterFunc(d, func() {
		a.timerMu.Lock()
		if _, ok := a.timers[id]; ok {
			a.due = append(a.due, id)
		}
		a.timerMu.Unlock()
		a.signal()
	})
	return func() {
		stop.Stop()
		a.timerMu.Lock()
		t.canceled = true
		delete(a.timers, id)
		a.timerMu.Unlock()
	}
}

func (a *Agent) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Agent) context(ctx context.Context) *Context {
	return &Context{Context: core.WithAgent(ctx, a.addr), agent: a}
}

// safely runs fn, logging its error or panic. The agent loop never stops
// because of a handler.
func (a *Agent) safely(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", what, r)
			a.logger.Error("agent.handler.panic",
				slog.String("handler", what),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err = fn(); err != nil {
		a.logger.Error("agent.handler.error",
			slog.String("handler", what),
			slog.String("error", err.Error()),
		)
	}
	return err
}
