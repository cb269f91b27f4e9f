// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the orchestrator over HTTP: trigger a cycle for a
// location, fetch the latest content, list past cycles, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
	"github.com/jllopis/soundscape/pkg/export"
)

// DefaultRequestTimeout bounds a cycle triggered over HTTP.
const DefaultRequestTimeout = 15 * time.Second

// DefaultRateClients is how many client buckets the rate limiter tracks.
const DefaultRateClients = 1024

// Querier sends a message and waits for the reply.
type Querier interface {
	Query(ctx context.Context, to core.Address, msg core.Message) (core.Message, error)
}

// ContentSource returns the last-known-good content.
type ContentSource interface {
	Latest(ctx context.Context) (export.Content, error)
}

// CycleLister lists journaled cycles, newest first.
type CycleLister interface {
	List(ctx context.Context, filter export.JournalFilter) ([]export.CycleRecord, error)
}

// Config configures the HTTP facade.
type Config struct {
	Orchestrator   core.Address
	RequestTimeout time.Duration

	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// RateClients bounds the tracked clients; the least recently seen is
	// evicted first.
	RateClients int
	CORSOrigins []string
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	bus      Querier
	content  ContentSource
	cycles   CycleLister
	health   *core.HealthRegistry
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	limiter *clientLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithCycles enables GET /api/cycles.
func WithCycles(l CycleLister) Option {
	return func(s *Server) { s.cycles = l }
}

// WithHealth enables GET /healthz.
func WithHealth(h *core.HealthRegistry) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics enables GET /metrics for g.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates the API server.
func New(cfg Config, bus Querier, content ContentSource, opts ...Option) (*Server, error) {
	if bus == nil || content == nil {
		return nil, errors.New(errors.CodeInvalidInput, "bus and content source are required", nil)
	}
	if cfg.Orchestrator.IsZero() {
		return nil, errors.New(errors.CodeInvalidInput, "orchestrator address is required", nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		cfg:     cfg,
		bus:     bus,
		content: content,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		size := cfg.RateClients
		if size <= 0 {
			size = DefaultRateClients
		}
		limiter, err := newClientLimiter(rate.Limit(cfg.RateLimit), burst, size)
		if err != nil {
			return nil, err
		}
		s.limiter = limiter
	}
	return s, nil
}

// Handler returns the routed handler wrapped in CORS and rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/location", s.handleLocation)
	mux.HandleFunc("GET /api/audio", s.handleAudio)
	if s.cycles != nil {
		mux.HandleFunc("GET /api/cycles", s.handleCycles)
	}
	if s.health != nil {
		mux.HandleFunc("GET /healthz", s.handleHealth)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.middleware(h)
	}
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(h)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api.listen", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type locationBody struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Radius    *float64 `json:"radius"`
}

// parseLocation reads a JSON body or latitude/longitude/radius query
// parameters. Radius defaults to 20 meters.
func parseLocation(r *http.Request) (core.Location, error) {
	loc := core.Location{Radius: 20}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body locationBody
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
		if err := dec.Decode(&body); err != nil {
			return loc, errors.New(errors.CodeInvalidInput, "invalid JSON body", err)
		}
		if body.Latitude == nil || body.Longitude == nil {
			return loc, errors.New(errors.CodeInvalidInput, "latitude and longitude are required", nil)
		}
		loc.Latitude, loc.Longitude = *body.Latitude, *body.Longitude
		if body.Radius != nil {
			loc.Radius = *body.Radius
		}
		return loc, validate(loc)
	}

	q := r.URL.Query()
	fields := []struct {
		name     string
		dst      *float64
		required bool
	}{
		{"latitude", &loc.Latitude, true},
		{"longitude", &loc.Longitude, true},
		{"radius", &loc.Radius, false},
	}
	for _, f := range fields {
		raw := q.Get(f.name)
		if raw == "" {
			if f.required {
				return loc, errors.Newf(errors.CodeInvalidInput, "%s is required", f.name)
			}
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return loc, errors.New(errors.CodeInvalidInput, "invalid "+f.name, err)
		}
		*f.dst = v
	}
	return loc, validate(loc)
}

func validate(loc core.Location) error {
	if err := loc.Validate(); err != nil {
		return errors.New(errors.CodeInvalidInput, "invalid location", err)
	}
	return nil
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := parseLocation(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	msg, err := s.bus.Query(ctx, s.cfg.Orchestrator, core.CycleRequest{Location: loc})
	if err != nil {
		s.logger.WarnContext(r.Context(), "api.location.error",
			slog.String("code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	res, ok := msg.(core.CycleResult)
	if !ok {
		writeError(w, errors.Newf(errors.CodeInternal, "unexpected reply %s", msg.Kind()))
		return
	}
	switch res.Outcome {
	case core.OutcomeRejected:
		writeError(w, errors.New(errors.CodeInvalidInput, "location rejected", nil))
		return
	case core.OutcomeBusy:
		writeError(w, errors.New(errors.CodeMailboxFull, "cycle queue is full", nil))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	c, err := s.content.Latest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	filter := export.JournalFilter{
		Outcome: core.Outcome(r.URL.Query().Get("outcome")),
		Limit:   20,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, errors.New(errors.CodeInvalidInput, "invalid limit", err))
			return
		}
		filter.Limit = n
	}
	records, err := s.cycles.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []export.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results, overall := s.health.CheckAll(r.Context())
	code := http.StatusOK
	if overall == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     overall,
		"components": results,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(errors.StatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  string(code),
		"detail": err.Error(),
	})
}

// clientLimiter keeps one token bucket per client IP in a bounded LRU.
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]
}

func newClientLimiter(limit rate.Limit, burst, size int) (*clientLimiter, error) {
	clients, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "rate limiter cache", err)
	}
	return &clientLimiter{limit: limit, burst: burst, clients: clients}, nil
}

func (l *clientLimiter) get(ip string) *rate.Limiter {
	if lim, ok := l.clients.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if prev, ok, _ := l.clients.PeekOrAdd(ip, lim); ok {
		return prev
	}
	return lim
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.get(ip).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
