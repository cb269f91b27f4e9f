// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package soundscape implements the orchestrating agent: it fans a location
// out to the capability agents, gathers their replies for one cycle and
// turns them into generated content.
package soundscape

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/soundscape/pkg/agent"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
	"github.com/jllopis/soundscape/pkg/export"
	"github.com/jllopis/soundscape/pkg/resilience"
	"github.com/jllopis/soundscape/pkg/telemetry"
)

// Name is the agent name of the orchestrator.
const Name = "soundscape"

// ProjectKeyStoreKey holds the generative project key in the orchestrator store.
const ProjectKeyStoreKey = "project_key"

// ContentGenerator turns a composite prompt into free text.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Exporter persists the artifacts of a cycle.
type Exporter interface {
	// ExportBuildings writes the raw buildings payload; raw is JSON null
	// when the cycle has none.
	ExportBuildings(ctx context.Context, cycleID string, raw json.RawMessage) error
	// ExportContent stores extracted content and returns its reference.
	ExportContent(ctx context.Context, cycleID, text string) (string, error)
}

// Journal records closed cycles.
type Journal interface {
	Record(ctx context.Context, rec export.CycleRecord) error
}

// State is the orchestrator state.
type State int32

const (
	StateIdle State = iota
	StateAwaitingReplies
	StateAssembling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReplies:
		return "awaiting_replies"
	case StateAssembling:
		return "assembling"
	}
	return "unknown"
}

// Config holds the orchestrator settings.
type Config struct {
	// Interval between timer-driven cycles.
	Interval time.Duration
	// Deadline bounds the wait for replies within a cycle.
	Deadline time.Duration
	// GenerateTimeout bounds the content generator call.
	GenerateTimeout time.Duration
	// Location is used by timer-driven cycles.
	Location core.Location
	// MaxQueued bounds cycle requests waiting behind a running cycle.
	MaxQueued int
	// Capabilities maps each capability to the address of its agent.
	Capabilities map[core.Capability]core.Address
	// RequireProjectKey fails startup when the project key is missing.
	RequireProjectKey bool
}

// DefaultConfig returns the defaults: a 20s interval over Santa Monica.
func DefaultConfig() Config {
	return Config{
		Interval:        20 * time.Second,
		Deadline:        10 * time.Second,
		GenerateTimeout: 30 * time.Second,
		Location: core.Location{
			Latitude:  34.0156229728407,
			Longitude: -118.49441383847054,
			Radius:    20,
		},
		MaxQueued: 16,
		Capabilities: map[core.Capability]core.Address{
			core.CapabilityBuildings: core.AgentAddress(string(core.CapabilityBuildings)),
			core.CapabilityWeather:   core.AgentAddress(string(core.CapabilityWeather)),
			core.CapabilityTime:      core.AgentAddress(string(core.CapabilityTime)),
		},
	}
}

type cycleRequest struct {
	from     core.Address
	location core.Location
}

// Orchestrator owns the cycle state machine. All state below the options is
// touched only from the agent loop.
type Orchestrator struct {
	cfg       Config
	generator ContentGenerator
	exporter  Exporter
	journal   Journal
	secrets   credentials.Source
	metrics   *telemetry.CycleMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
	health    *core.StatusReporter
	now       func() time.Time

	state          atomic.Int32
	discarded      atomic.Int64
	skipped        atomic.Int64
	current        *Aggregation
	requester      core.Address
	cancelDeadline func()
	span           trace.Span
	queue          []cycleRequest
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records every closed cycle in j.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithSecrets loads the project key from s at startup.
func WithSecrets(s credentials.Source) Option {
	return func(o *Orchestrator) { o.secrets = s }
}

// WithMetrics records cycle metrics.
func WithMetrics(m *telemetry.CycleMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator.
func New(cfg Config, generator ContentGenerator, exporter Exporter, opts ...Option) (*Orchestrator, error) {
	if generator == nil || exporter == nil {
		return nil, errors.New(errors.CodeInvalidInput, "generator and exporter are required", nil)
	}
	if cfg.Interval <= 0 || cfg.Deadline <= 0 {
		return nil, errors.New(errors.CodeInvalidInput, "interval and deadline must be positive", nil)
	}
	for _, c := range core.Capabilities() {
		if cfg.Capabilities[c].IsZero() {
			return nil, errors.Newf(errors.CodeInvalidInput, "no address for capability %s", c)
		}
	}
	o := &Orchestrator{
		cfg:       cfg,
		generator: generator,
		exporter:  exporter,
		logger:    slog.Default(),
		tracer:    otel.Tracer("soundscape/orchestrator"),
		health:    &core.StatusReporter{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Agent builds the agent running this orchestrator.
func (o *Orchestrator) Agent(opts ...agent.Option) (*agent.Agent, error) {
	a, err := agent.New(Name, append([]agent.Option{agent.WithLogger(o.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	a.OnStartup(o.startup)
	a.OnInterval(o.cfg.Interval, o.tick)
	a.OnMessage(core.KindCycleRequest, o.onCycleRequest)
	for _, kind := range []core.MessageKind{core.KindBuildings, core.KindWeather, core.KindTime, core.KindFailure} {
		a.OnMessage(kind, o.onReply)
	}
	return a, nil
}

// State returns the current state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Discarded returns how many replies were dropped as stale or duplicate.
func (o *Orchestrator) Discarded() int64 { return o.discarded.Load() }

// SkippedTicks returns how many timer ticks found a cycle in flight.
func (o *Orchestrator) SkippedTicks() int64 { return o.skipped.Load() }

// Health reports Degraded after a cycle that missed data or content.
func (o *Orchestrator) Health() core.HealthChecker { return o.health }

func (o *Orchestrator) startup(ctx *agent.Context) error {
	if o.secrets == nil {
		return nil
	}
	key, err := o.secrets.Lookup(credentials.ProjectKey)
	if err != nil {
		if o.cfg.RequireProjectKey {
			return err
		}
		ctx.Logger().Warn("soundscape.startup.project_key.missing", slog.String("error", err.Error()))
		return nil
	}
	ctx.Logger().Info("soundscape.startup.project_key", slog.Any("key", key))
	return ctx.Store().Set(ctx, ProjectKeyStoreKey, key.Reveal())
}

func (o *Orchestrator) tick(ctx *agent.Context) error {
	if o.State() != StateIdle {
		o.skipped.Add(1)
		o.metrics.RecordSkippedTick(ctx)
		ctx.Logger().Info("soundscape.tick.skipped",
			slog.String("state", o.State().String()),
			slog.String("cycle_id", o.current.CycleID),
		)
		return nil
	}
	o.startCycle(ctx, cycleRequest{location: o.cfg.Location})
	return nil
}

func (o *Orchestrator) onCycleRequest(ctx *agent.Context, env core.Envelope) error {
	req := env.Message.(core.CycleRequest)
	if err := req.Location.Validate(); err != nil {
		ctx.Logger().Warn("soundscape.request.invalid", slog.String("error", err.Error()))
		return ctx.Reply(env, core.CycleResult{Outcome: core.OutcomeRejected})
	}
	r := cycleRequest{from: env.From, location: req.Location}
	if o.State() == StateIdle {
		o.startCycle(ctx, r)
		return nil
	}
	if len(o.queue) >= o.cfg.MaxQueued && o.cfg.MaxQueued > 0 {
		ctx.Logger().Warn("soundscape.request.busy",
			slog.String("from", env.From.String()),
			slog.Int("queued", len(o.queue)),
		)
		return ctx.Reply(env, core.CycleResult{Outcome: core.OutcomeBusy})
	}
	o.queue = append(o.queue, r)
	ctx.Logger().Info("soundscape.request.queued",
		slog.String("from", env.From.String()),
		slog.Int("queued", len(o.queue)),
	)
	return nil
}

func (o *Orchestrator) startCycle(ctx *agent.Context, r cycleRequest) {
	cycleID := uuid.NewString()
	o.current = NewAggregation(cycleID, r.location, o.now())
	o.requester = r.from
	o.state.Store(int32(StateAwaitingReplies))

	_, o.span = o.tracer.Start(context.WithoutCancel(ctx), "soundscape.cycle",
		trace.WithAttributes(telemetry.CycleAttributes(cycleID, r.location)...))
	ctx.Logger().Info("soundscape.cycle.start",
		slog.String("cycle_id", cycleID),
		slog.Float64("latitude", r.location.Latitude),
		slog.Float64("longitude", r.location.Longitude),
		slog.Float64("radius", r.location.Radius),
	)

	req := core.LocationRequest{CycleID: cycleID, Location: r.location}
	for _, c := range core.Capabilities() {
		if err := ctx.Send(o.cfg.Capabilities[c], req); err != nil {
			o.current.Apply(core.Failure{CycleID: cycleID, Capability: c, Reason: err.Error()})
			o.metrics.RecordReply(ctx, string(c), false)
		}
	}
	if o.current.Complete() {
		o.assemble(ctx, false)
		return
	}
	o.cancelDeadline = ctx.After(o.cfg.Deadline, func(ctx *agent.Context) error {
		if o.State() != StateAwaitingReplies || o.current == nil || o.current.CycleID != cycleID {
			return nil
		}
		err := errors.New(errors.CodeAggregationTimeout, "cycle deadline elapsed", nil).
			WithContext("cycle_id", cycleID).
			WithContext("missing", o.current.Missing())
		ctx.Logger().Warn("soundscape.cycle.deadline", slog.String("error", err.Error()))
		o.assemble(ctx, true)
		return nil
	})
}

func (o *Orchestrator) onReply(ctx *agent.Context, env core.Envelope) error {
	reply, ok := env.Message.(core.Reply)
	if !ok {
		return nil
	}
	if o.State() != StateAwaitingReplies || o.current == nil || reply.Correlation() != o.current.CycleID {
		o.discard(ctx, reply, "stale")
		return nil
	}
	if !o.current.Apply(reply) {
		o.discard(ctx, reply, "duplicate")
		return nil
	}
	_, failed := reply.(core.Failure)
	o.metrics.RecordReply(ctx, string(reply.Source()), !failed)
	if failed {
		ctx.Logger().Warn("soundscape.reply.failure",
			slog.String("cycle_id", reply.Correlation()),
			slog.String("capability", string(reply.Source())),
			slog.String("reason", reply.(core.Failure).Reason),
		)
	}
	if o.current.Complete() {
		o.assemble(ctx, false)
	}
	return nil
}

func (o *Orchestrator) discard(ctx *agent.Context, reply core.Reply, reason string) {
	o.discarded.Add(1)
	o.metrics.RecordDiscarded(ctx, reason)
	ctx.Logger().Debug("soundscape.reply.discarded",
		slog.String("reason", reason),
		slog.String("cycle_id", reply.Correlation()),
		slog.String("capability", string(reply.Source())),
	)
}

// assemble runs on the agent loop, so no new cycle can start until it returns.
func (o *Orchestrator) assemble(ctx *agent.Context, timedOut bool) {
	o.state.Store(int32(StateAssembling))
	if o.cancelDeadline != nil {
		o.cancelDeadline()
		o.cancelDeadline = nil
	}
	agg := o.current
	spanCtx := core.WithCycleID(trace.ContextWithSpan(ctx, o.span), agg.CycleID)

	if err := o.exporter.ExportBuildings(spanCtx, agg.CycleID, agg.RawBuildings()); err != nil {
		ctx.Logger().Error("soundscape.export.buildings", slog.String("cycle_id", agg.CycleID), slog.String("error", err.Error()))
	}

	prompt := BuildPrompt(agg.Places, agg.TimeOfDay, agg.Weather)
	ctx.Logger().Debug("soundscape.prompt", slog.String("cycle_id", agg.CycleID), slog.String("prompt", prompt))

	outcome, ref := o.produce(ctx, spanCtx, agg, prompt)
	if outcome == core.OutcomeComplete && (timedOut || len(agg.Missing()) > 0) {
		outcome = core.OutcomePartial
	}
	o.closeCycle(ctx, agg, prompt, outcome, ref)
}

func (o *Orchestrator) produce(ctx *agent.Context, spanCtx context.Context, agg *Aggregation, prompt string) (core.Outcome, string) {
	if v, ok, err := ctx.Store().Get(ctx, ProjectKeyStoreKey); err == nil && ok {
		spanCtx = credentials.WithSecret(spanCtx, credentials.ProjectKey, credentials.Secret(v))
	}
	text, err := resilience.WithTimeout(spanCtx, o.cfg.GenerateTimeout, func(c context.Context) (string, error) {
		return o.generator.Generate(c, prompt)
	})
	if err != nil {
		ctx.Logger().Error("soundscape.generate.error",
			slog.String("cycle_id", agg.CycleID),
			slog.String("code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return core.OutcomeGenerationFailed, ""
	}
	content, err := ExtractContent(text)
	if err != nil {
		ctx.Logger().Error("soundscape.extract.error",
			slog.String("cycle_id", agg.CycleID),
			slog.String("code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return core.OutcomeExtractionFailed, ""
	}
	ref, err := o.exporter.ExportContent(spanCtx, agg.CycleID, content)
	if err != nil {
		ctx.Logger().Error("soundscape.export.content", slog.String("cycle_id", agg.CycleID), slog.String("error", err.Error()))
		return core.OutcomeGenerationFailed, ""
	}
	return core.OutcomeComplete, ref
}

func (o *Orchestrator) closeCycle(ctx *agent.Context, agg *Aggregation, prompt string, outcome core.Outcome, ref string) {
	finished := o.now()
	duration := finished.Sub(agg.StartedAt)
	missing := agg.Missing()

	if o.journal != nil {
		rec := export.CycleRecord{
			CycleID:    agg.CycleID,
			Outcome:    outcome,
			Missing:    missing,
			Prompt:     prompt,
			ContentRef: ref,
			StartedAt:  agg.StartedAt,
			FinishedAt: finished,
		}
		if err := o.journal.Record(ctx, rec); err != nil {
			ctx.Logger().Error("soundscape.journal.error", slog.String("cycle_id", agg.CycleID), slog.String("error", err.Error()))
		}
	}
	o.metrics.RecordCycle(ctx, string(outcome), duration)

	if outcome == core.OutcomeComplete {
		o.health.Set(core.HealthHealthy, "last cycle complete")
	} else {
		o.health.Set(core.HealthDegraded, "last cycle "+string(outcome))
	}

	missingNames := telemetry.CapabilityNames(missing)
	o.span.SetAttributes(telemetry.OutcomeAttributes(outcome, missing)...)
	if outcome == core.OutcomeExtractionFailed || outcome == core.OutcomeGenerationFailed {
		o.span.SetStatus(otelcodes.Error, string(outcome))
	}
	o.span.End()

	ctx.Logger().Info("soundscape.cycle.close",
		slog.String("cycle_id", agg.CycleID),
		slog.String("outcome", string(outcome)),
		slog.Any("missing", missingNames),
		slog.String("content_ref", ref),
		slog.Duration("duration", duration),
	)

	if !o.requester.IsZero() {
		res := core.CycleResult{CycleID: agg.CycleID, Outcome: outcome, ContentRef: ref, Missing: missing}
		if err := ctx.Send(o.requester, res); err != nil {
			ctx.Logger().Warn("soundscape.cycle.result.undelivered",
				slog.String("cycle_id", agg.CycleID),
				slog.String("to", o.requester.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	o.current = nil
	o.requester = ""
	o.span = nil
	o.state.Store(int32(StateIdle))

	if len(o.queue) > 0 {
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.startCycle(ctx, next)
	}
}
