// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"github.com/jllopis/soundscape/pkg/api"
	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/bus/grpcbus"
	"github.com/jllopis/soundscape/pkg/config"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/credentials"
	"github.com/jllopis/soundscape/pkg/errors"
	"github.com/jllopis/soundscape/pkg/export"
	"github.com/jllopis/soundscape/pkg/runtime"
	"github.com/jllopis/soundscape/pkg/soundscape"
	"github.com/jllopis/soundscape/pkg/storage"
	"github.com/jllopis/soundscape/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// cycleJournal records cycles for the orchestrator and lists them for the API.
type cycleJournal interface {
	soundscape.Journal
	api.CycleLister
}

// node is the set of components one process runs: a bus, its runtime and
// whatever agents are local to this process.
type node struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	bus      *bus.Bus
	runtime  *runtime.LocalRuntime
	secrets  credentials.Source

	journal cycleJournal

	grpcServer *grpc.Server
	closers    []func() error
}

// newNode builds the bus, storage, credentials, runtime and remote routes.
// Agents are added by the caller.
func newNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	n.registry.MustRegister(collectors.NewGoCollector())

	n.bus = bus.New(
		bus.WithCapacity(cfg.Bus.Capacity),
		bus.WithQueryTimeout(cfg.Bus.QueryTimeout),
		bus.WithLogger(logger),
		bus.WithMetrics(bus.NewMetrics(n.registry)),
	)

	var provider storage.Provider
	switch cfg.Storage.Driver {
	case "sqlite":
		p, err := storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, p.Close)
		provider = p
		j, err := export.NewSQLiteJournal(p.DB())
		if err != nil {
			n.close()
			return nil, err
		}
		n.journal = j
	default:
		provider = storage.NewMemoryProvider()
		n.journal = export.NewMemoryJournal()
	}

	n.secrets = loadSecrets(cfg.Credentials.Path, logger)

	n.runtime = runtime.NewLocal(n.bus,
		runtime.WithStorage(provider),
		runtime.WithStartupPolicy(runtime.StartupPolicy(cfg.Runtime.StartupPolicy)),
		runtime.WithLogger(logger),
	)

	for name, target := range cfg.Bus.Routes {
		conn, err := grpcbus.Dial(target)
		if err != nil {
			n.close()
			return nil, errors.New(errors.CodeInvalidInput, "dial route", err).
				WithContext("agent", name).
				WithContext("target", target)
		}
		n.closers = append(n.closers, conn.Close)
		if err := n.bus.Route(core.AgentAddress(name), grpcbus.NewClient(conn)); err != nil {
			n.close()
			return nil, err
		}
		logger.Info("bus.route", slog.String("agent", name), slog.String("target", target))
	}
	return n, nil
}

// routed reports whether the named agent lives behind a remote route.
func (n *node) routed(name string) bool {
	_, ok := n.cfg.Bus.Routes[name]
	return ok
}

// addCapabilities adds every capability agent not routed elsewhere.
func (n *node) addCapabilities() error {
	for _, c := range core.Capabilities() {
		if n.routed(string(c)) {
			continue
		}
		if err := n.addCapability(c); err != nil {
			return err
		}
	}
	return nil
}

func (n *node) addCapability(c core.Capability) error {
	a, err := newCapabilityAgent(c, n.cfg, n.secrets, n.logger)
	if err != nil {
		return err
	}
	return n.runtime.Add(a)
}

// addOrchestrator wires the orchestrator with its generator, exporter and
// journal, and returns the exporter that serves the latest content.
func (n *node) addOrchestrator() (*export.FileExporter, error) {
	gen, err := newGenerator(n.cfg.Generator)
	if err != nil {
		return nil, err
	}
	exporter, err := export.NewFileExporter(n.cfg.Export.Dir)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewCycleMetrics(nil)
	if err != nil {
		return nil, err
	}

	o, err := soundscape.New(orchestratorConfig(n.cfg), gen, exporter,
		soundscape.WithJournal(n.journal),
		soundscape.WithSecrets(n.secrets),
		soundscape.WithMetrics(metrics),
		soundscape.WithLogger(n.logger),
	)
	if err != nil {
		return nil, err
	}
	a, err := o.Agent()
	if err != nil {
		return nil, err
	}
	if err := n.runtime.Add(a); err != nil {
		return nil, err
	}
	n.runtime.Health().Register("cycles", o.Health())
	return exporter, nil
}

// serveGRPC accepts remote deliveries into the local bus.
func (n *node) serveGRPC() error {
	addr := n.cfg.Bus.GRPCListen
	if addr == "" {
		return nil
	}
	srv, err := grpcbus.NewServer(n.bus,
		grpcbus.WithDedupSize(n.cfg.Bus.DedupSize),
		grpcbus.WithServerLogger(n.logger),
	)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.CodeStartupFailure, "grpc listen", err).WithContext("addr", addr)
	}
	n.grpcServer = grpc.NewServer()
	srv.Register(n.grpcServer)
	go func() {
		if err := n.grpcServer.Serve(lis); err != nil {
			n.logger.Error("grpcbus.serve.error", slog.String("error", err.Error()))
		}
	}()
	n.logger.Info("grpcbus.listen", slog.String("addr", addr))
	return nil
}

// shutdown stops the agents, the gRPC bridge and releases resources.
func (n *node) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.runtime.Stop(ctx); err != nil {
		n.logger.Warn("runtime.stop.error", slog.String("error", err.Error()))
	}
	if n.grpcServer != nil {
		n.grpcServer.GracefulStop()
	}
	n.close()
}

func (n *node) close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			n.logger.Warn("close.error", slog.String("error", err.Error()))
		}
	}
	n.closers = nil
}

func orchestratorConfig(cfg *config.Config) soundscape.Config {
	oc := soundscape.DefaultConfig()
	oc.Interval = cfg.Orchestrator.Interval
	oc.Deadline = cfg.Orchestrator.Deadline
	oc.GenerateTimeout = cfg.Orchestrator.GenerateTimeout
	oc.MaxQueued = cfg.Orchestrator.MaxQueued
	oc.RequireProjectKey = cfg.Orchestrator.RequireProjectKey
	oc.Location = core.Location{
		Latitude:  cfg.Orchestrator.Latitude,
		Longitude: cfg.Orchestrator.Longitude,
		Radius:    cfg.Orchestrator.Radius,
	}
	return oc
}

// loadSecrets reads the credentials file. A missing file falls back to the
// SOUNDSCAPE_KEY_* environment. A file that cannot be loaded yields a source
// that fails every lookup, so only agents that need a key fail at startup.
func loadSecrets(path string, logger *slog.Logger) credentials.Source {
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Warn("credentials.file.missing", slog.String("path", path))
			path = ""
		}
	}
	set, err := credentials.Load(path)
	if err != nil {
		logger.Error("credentials.load.error", slog.String("path", path), slog.String("error", err.Error()))
		return credentials.Unavailable{Err: err}
	}
	return set
}

// telemetryConfig maps the telemetry section for a process playing role
// and hosting agents.
func telemetryConfig(cfg *config.Config, role string, agents []string) telemetry.Config {
	return telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
		Role:               role,
		Agents:             agents,
		SampleRatio:        cfg.Telemetry.SampleRatio,
		MetricInterval:     cfg.Telemetry.MetricInterval,
	}
}

// localAgents lists the agents a serve process runs itself.
func localAgents(cfg *config.Config) []string {
	agents := []string{soundscape.Name}
	for _, c := range core.Capabilities() {
		if _, routed := cfg.Bus.Routes[string(c)]; !routed {
			agents = append(agents, string(c))
		}
	}
	return agents
}

func setupTelemetry(cfg *config.Config, role string, agents []string) (*slog.Logger, telemetry.ShutdownFunc, error) {
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetryConfig(cfg, role, agents))
	if err != nil {
		return nil, nil, err
	}
	return logger, shutdown, nil
}

func runServe(ctx context.Context, flags globalFlags, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return NewConfigError(err, configPath(flags.ConfigArgs))
	}
	logger, shutdownTelemetry, err := setupTelemetry(cfg, telemetry.RoleServe, localAgents(cfg))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	n, err := newNode(cfg, logger)
	if err != nil {
		return NewStartupError(err, "node")
	}
	defer n.shutdown()

	if err := n.addCapabilities(); err != nil {
		return NewStartupError(err, "capabilities")
	}
	exporter, err := n.addOrchestrator()
	if err != nil {
		return NewStartupError(err, soundscape.Name)
	}

	watcher, err := config.NewWatcher(flags.ConfigArgs, config.WithWatchLogger(logger))
	if err != nil {
		return NewConfigError(err, configPath(flags.ConfigArgs))
	}
	watcher.OnChange(func(c *config.Config) {
		telemetry.SetLogLevel(c.Log.Level)
	})
	watcher.Start(ctx)
	defer watcher.Stop()

	if err := n.serveGRPC(); err != nil {
		return NewStartupError(err, "grpcbus")
	}
	if err := n.runtime.Start(ctx); err != nil {
		return NewStartupError(err, "runtime")
	}

	srv, err := api.New(api.Config{
		Orchestrator:   core.AgentAddress(soundscape.Name),
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
		RateClients:    cfg.HTTP.RateClients,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
	}, n.bus, exporter,
		api.WithCycles(n.journal),
		api.WithHealth(n.runtime.Health()),
		api.WithMetrics(n.registry),
		api.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, cfg.HTTP.Addr)
}

// runAgent runs one capability agent whose orchestrator lives in another
// process. Replies travel back through the route named after the
// orchestrator.
func runAgent(ctx context.Context, cfg *config.Config, name string) error {
	c := core.Capability(name)
	known := false
	for _, k := range core.Capabilities() {
		known = known || k == c
	}
	if !known {
		return NewInvalidArgumentError("agent", fmt.Sprintf("unknown capability %q", name))
	}
	if err := cfg.Validate(); err != nil {
		return NewConfigError(err, "")
	}
	if cfg.Bus.GRPCListen == "" {
		return NewInvalidArgumentError("bus.grpc_listen", "a standalone agent needs bus.grpc_listen")
	}
	if _, ok := cfg.Bus.Routes[soundscape.Name]; !ok {
		return NewInvalidArgumentError("bus.routes", "a standalone agent needs a route for "+soundscape.Name)
	}

	logger, shutdownTelemetry, err := setupTelemetry(cfg, telemetry.RoleAgent, []string{name})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	n, err := newNode(cfg, logger)
	if err != nil {
		return NewStartupError(err, "node")
	}
	defer n.shutdown()

	if err := n.addCapability(c); err != nil {
		return NewStartupError(err, name)
	}
	if err := n.serveGRPC(); err != nil {
		return NewStartupError(err, "grpcbus")
	}
	if err := n.runtime.Start(ctx); err != nil {
		return NewStartupError(err, "runtime")
	}
	<-ctx.Done()
	return nil
}
