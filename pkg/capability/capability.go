// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability provides the agents that answer a LocationRequest with
// exactly one reply: buildings nearby, current weather or local time.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/soundscape/pkg/agent"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
	"github.com/jllopis/soundscape/pkg/resilience"
)

// DefaultTimeout bounds one collaborator call including retries.
const DefaultTimeout = 8 * time.Second

// NearbyPlaces is the answer of a places lookup: places nearest first and
// the collaborator payload as received.
type NearbyPlaces struct {
	Places []core.Place
	Raw    json.RawMessage
}

// PlacesLookup finds points of interest around a location.
type PlacesLookup interface {
	Nearby(ctx context.Context, lat, lng, radius float64) (NearbyPlaces, error)
}

// WeatherLookup describes the current weather at a location.
type WeatherLookup interface {
	Describe(ctx context.Context, lat, lng float64) (string, error)
}

// LocalTime is a formatted wall-clock time and the zone it was computed in.
type LocalTime struct {
	Text string
	Zone string
}

// TimeLookup returns the local time at a location.
type TimeLookup interface {
	LocalTime(ctx context.Context, lat, lng float64) (LocalTime, error)
}

// Store keys holding credentials loaded at startup.
const (
	MapsKeyStoreKey    = "maps_key"
	WeatherKeyStoreKey = "weather_key"
)

type options struct {
	name      string
	timeout   time.Duration
	retry     resilience.RetryConfig
	breaker   resilience.BreakerConfig
	secrets   credentials.Source
	required  *bool
	logger    *slog.Logger
	agentOpts []agent.Option
}

// Option configures a capability agent.
type Option func(*options)

// WithName overrides the agent name, which defaults to the capability.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithTimeout bounds each collaborator call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry sets the retry policy applied inside the timeout.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(o *options) { o.retry = rc }
}

// WithBreaker sets the circuit breaker guarding the collaborator.
func WithBreaker(cfg resilience.BreakerConfig) Option {
	return func(o *options) { o.breaker = cfg }
}

// WithSecrets loads the capability credential from s at startup.
func WithSecrets(s credentials.Source) Option {
	return func(o *options) { o.secrets = s }
}

// WithCredentialRequired decides whether a missing credential fails startup.
func WithCredentialRequired(required bool) Option {
	return func(o *options) { o.required = &required }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAgentOptions passes options through to agent.New.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(o *options) { o.agentOpts = append(o.agentOpts, opts...) }
}

// handler answers LocationRequests for one capability with a collaborator
// returning T.
type handler[T any] struct {
	capability core.Capability
	credential string
	storeKey   string
	required   bool

	call  func(ctx context.Context, loc core.Location) (T, error)
	empty func(T) bool
	reply func(cycleID string, v T) core.Reply

	timeout time.Duration
	retry   resilience.RetryConfig
	breaker *resilience.Breaker[T]
	secrets credentials.Source
	logger  *slog.Logger
}

func build[T any](h *handler[T], opts []Option) (*agent.Agent, error) {
	o := options{
		name:    string(h.capability),
		timeout: DefaultTimeout,
		retry:   resilience.DefaultRetryConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.required != nil {
		h.required = *o.required
	}
	if o.breaker.Name == "" {
		o.breaker.Name = string(h.capability)
	}
	h.timeout = o.timeout
	h.retry = o.retry
	h.secrets = o.secrets
	h.logger = o.logger.With(slog.String("capability", string(h.capability)))
	h.breaker = resilience.NewBreaker[T](o.breaker, h.logger)

	a, err := agent.New(o.name, append([]agent.Option{agent.WithLogger(h.logger)}, o.agentOpts...)...)
	if err != nil {
		return nil, err
	}
	a.OnStartup(h.startup)
	a.OnMessage(core.KindLocationRequest, h.onRequest)
	return a, nil
}

func (h *handler[T]) startup(ctx *agent.Context) error {
	if h.credential == "" || h.secrets == nil {
		if h.required && h.credential != "" {
			return errors.Newf(errors.CodeStartupFailure, "no credential source for %s", h.credential)
		}
		return nil
	}
	key, err := h.secrets.Lookup(h.credential)
	if err != nil {
		if h.required {
			return err
		}
		ctx.Logger().Warn("capability.startup.credential.missing",
			slog.String("credential", h.credential),
			slog.String("error", err.Error()),
		)
		return nil
	}
	ctx.Logger().Info("capability.startup.credential", slog.String("credential", h.credential), slog.Any("key", key))
	return ctx.Store().Set(ctx, h.storeKey, key.Reveal())
}

func (h *handler[T]) onRequest(ctx *agent.Context, env core.Envelope) error {
	req := env.Message.(core.LocationRequest)
	return ctx.Reply(env, h.answer(ctx, req))
}

// answer always returns a reply; collaborator errors, empty results,
// timeouts and panics become a Failure.
func (h *handler[T]) answer(ctx *agent.Context, req core.LocationRequest) (reply core.Reply) {
	started := time.Now()
	fail := func(reason string) core.Reply {
		ctx.Logger().Warn("capability.lookup.failure",
			slog.String("cycle_id", req.CycleID),
			slog.String("reason", reason),
			slog.Duration("elapsed", time.Since(started)),
		)
		return core.Failure{CycleID: req.CycleID, Capability: h.capability, Reason: reason}
	}
	defer func() {
		if r := recover(); r != nil {
			reply = fail(fmt.Sprintf("collaborator panic: %v", r))
		}
	}()

	callCtx := core.WithCycleID(context.Context(ctx), req.CycleID)
	if h.storeKey != "" {
		if v, ok, err := ctx.Store().Get(ctx, h.storeKey); err == nil && ok {
			callCtx = credentials.WithSecret(callCtx, h.credential, credentials.Secret(v))
		}
	}

	v, err := resilience.WithTimeout(callCtx, h.timeout, func(c context.Context) (T, error) {
		return resilience.Retry(c, h.retry, func(c context.Context) (T, error) {
			return h.breaker.Execute(func() (T, error) { return h.call(c, req.Location) })
		})
	})
	if err != nil {
		return fail(err.Error())
	}
	if h.empty != nil && h.empty(v) {
		return fail("empty result")
	}
	ctx.Logger().Debug("capability.lookup.ok",
		slog.String("cycle_id", req.CycleID),
		slog.Duration("elapsed", time.Since(started)),
	)
	return h.reply(req.CycleID, v)
}

// NewBuildings creates the buildings agent. It requires the maps key unless
// told otherwise.
func NewBuildings(lookup PlacesLookup, opts ...Option) (*agent.Agent, error) {
	if lookup == nil {
		return nil, errors.New(errors.CodeInvalidInput, "places lookup is required", nil)
	}
	return build(&handler[NearbyPlaces]{
		capability: core.CapabilityBuildings,
		credential: credentials.MapsKey,
		storeKey:   MapsKeyStoreKey,
		required:   true,
		call: func(ctx context.Context, loc core.Location) (NearbyPlaces, error) {
			return lookup.Nearby(ctx, loc.Latitude, loc.Longitude, loc.Radius)
		},
		empty: func(v NearbyPlaces) bool { return len(v.Places) == 0 },
		reply: func(cycleID string, v NearbyPlaces) core.Reply {
			return core.BuildingsResult{CycleID: cycleID, Places: v.Places, Raw: v.Raw}
		},
	}, opts)
}

// NewWeather creates the weather agent. It requires the weather key unless
// told otherwise.
func NewWeather(lookup WeatherLookup, opts ...Option) (*agent.Agent, error) {
	if lookup == nil {
		return nil, errors.New(errors.CodeInvalidInput, "weather lookup is required", nil)
	}
	return build(&handler[string]{
		capability: core.CapabilityWeather,
		credential: credentials.WeatherKey,
		storeKey:   WeatherKeyStoreKey,
		required:   true,
		call: func(ctx context.Context, loc core.Location) (string, error) {
			return lookup.Describe(ctx, loc.Latitude, loc.Longitude)
		},
		empty: func(s string) bool { return s == "" },
		reply: func(cycleID string, s string) core.Reply {
			return core.WeatherResult{CycleID: cycleID, Description: s}
		},
	}, opts)
}

// NewTime creates the time agent. The maps key is optional for it.
func NewTime(lookup TimeLookup, opts ...Option) (*agent.Agent, error) {
	if lookup == nil {
		return nil, errors.New(errors.CodeInvalidInput, "time lookup is required", nil)
	}
	return build(&handler[LocalTime]{
		capability: core.CapabilityTime,
		credential: credentials.MapsKey,
		storeKey:   MapsKeyStoreKey,
		call: func(ctx context.Context, loc core.Location) (LocalTime, error) {
			return lookup.LocalTime(ctx, loc.Latitude, loc.Longitude)
		},
		empty: func(t LocalTime) bool { return t.Text == "" },
		reply: func(cycleID string, t LocalTime) core.Reply {
			return core.TimeResult{CycleID: cycleID, LocalTime: t.Text, Zone: t.Zone}
		},
	}, opts)
}
