// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing SoundScape cycles end to end.
//
// This package includes:
//   - Scenario definitions for declarative cycle testing
//   - A scripted content generator
//   - Capability responders with canned replies
//
// Example usage:
//
//	scenario := testing.NewScenario("weather never answers").
//	    WithBehavior(core.CapabilityWeather, testing.Silent).
//	    ExpectOutcome(core.OutcomePartial).
//	    ExpectMissing(core.CapabilityWeather)
//
//	result := scenario.Run(t)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/export"
	"github.com/jllopis/soundscape/pkg/runtime"
	"github.com/jllopis/soundscape/pkg/soundscape"
	"github.com/jllopis/soundscape/pkg/storage"
)

// DefaultResponse is a generator answer with extractable content.
const DefaultResponse = "1. ocean ambient\n2. soft synths\n@ dreamy ambient synthwave at dusk"

// Scenario defines one requested cycle against in-process agents.
type Scenario struct {
	name         string
	location     core.Location
	deadline     time.Duration
	timeout      time.Duration
	behaviors    map[core.Capability]Behavior
	generator    *ScriptedGenerator
	options      []soundscape.Option
	expectations []Expectation
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Result   core.CycleResult
	Error    error
	Content  export.Content
	Prompts  []string
	Requests map[core.Capability]int64
	Duration time.Duration
}

// NewScenario creates a scenario where every capability answers at once and
// the generator returns DefaultResponse.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:      name,
		location:  soundscape.DefaultConfig().Location,
		deadline:  150 * time.Millisecond,
		timeout:   3 * time.Second,
		behaviors: DefaultBehaviors(),
		generator: NewScriptedGenerator().WithDefaultResponse(DefaultResponse),
	}
}

// WithLocation sets the requested location.
func (s *Scenario) WithLocation(loc core.Location) *Scenario {
	s.location = loc
	return s
}

// WithDeadline sets the aggregation deadline.
func (s *Scenario) WithDeadline(d time.Duration) *Scenario {
	s.deadline = d
	return s
}

// WithTimeout bounds the whole request.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithBehavior replaces how capability c answers.
func (s *Scenario) WithBehavior(c core.Capability, b Behavior) *Scenario {
	s.behaviors[c] = b
	return s
}

// WithGenerator replaces the scripted generator.
func (s *Scenario) WithGenerator(g *ScriptedGenerator) *Scenario {
	s.generator = g
	return s
}

// WithOptions passes extra options to the orchestrator.
func (s *Scenario) WithOptions(opts ...soundscape.Option) *Scenario {
	s.options = append(s.options, opts...)
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectOutcome expects the cycle to close with outcome o.
func (s *Scenario) ExpectOutcome(o core.Outcome) *Scenario {
	return s.Expect(&outcomeExpectation{outcome: o})
}

// ExpectMissing expects exactly these capabilities to be reported missing.
func (s *Scenario) ExpectMissing(caps ...core.Capability) *Scenario {
	return s.Expect(&missingExpectation{caps: caps})
}

// ExpectContent expects the latest exported content to match.
func (s *Scenario) ExpectContent(matcher StringMatcher) *Scenario {
	return s.Expect(&contentExpectation{matcher: matcher})
}

// ExpectPrompt expects the last generator prompt to match.
func (s *Scenario) ExpectPrompt(matcher StringMatcher) *Scenario {
	return s.Expect(&promptExpectation{matcher: matcher})
}

// ExpectNoError expects the request to be answered.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectMaxDuration expects the cycle to complete within d.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run wires a bus, a runtime, the orchestrator and one responder per
// capability, requests a cycle and tears everything down.
func (s *Scenario) Run(t *testing.T) *ScenarioResult {
	t.Helper()

	exporter, err := export.NewFileExporter(t.TempDir())
	if err != nil {
		t.Fatalf("scenario %q: exporter: %v", s.name, err)
	}
	b := bus.New()
	rt := runtime.NewLocal(b, runtime.WithStorage(storage.NewMemoryProvider()))

	cfg := soundscape.DefaultConfig()
	cfg.Interval = time.Hour
	cfg.Deadline = s.deadline
	cfg.GenerateTimeout = time.Second

	orch, err := soundscape.New(cfg, s.generator, exporter, s.options...)
	if err != nil {
		t.Fatalf("scenario %q: orchestrator: %v", s.name, err)
	}
	oa, err := orch.Agent()
	if err != nil {
		t.Fatalf("scenario %q: orchestrator agent: %v", s.name, err)
	}
	if err := rt.Add(oa); err != nil {
		t.Fatalf("scenario %q: add orchestrator: %v", s.name, err)
	}

	counters := make(map[core.Capability]*atomic.Int64)
	for _, c := range core.Capabilities() {
		counters[c] = &atomic.Int64{}
		a, err := NewResponder(c, s.behaviors[c], counters[c])
		if err != nil {
			t.Fatalf("scenario %q: responder %s: %v", s.name, c, err)
		}
		if err := rt.Add(a); err != nil {
			t.Fatalf("scenario %q: add responder %s: %v", s.name, c, err)
		}
	}

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("scenario %q: start: %v", s.name, err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.Stop(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	reply, err := b.Query(ctx, core.AgentAddress(soundscape.Name), core.CycleRequest{Location: s.location})
	result := &ScenarioResult{
		Error:    err,
		Duration: time.Since(start),
		Prompts:  s.generator.Prompts(),
		Requests: make(map[core.Capability]int64, len(counters)),
	}
	if err == nil {
		res, ok := reply.(core.CycleResult)
		if !ok {
			result.Error = fmt.Errorf("unexpected reply %T", reply)
		}
		result.Result = res
	}
	for c, n := range counters {
		result.Requests[c] = n.Load()
	}
	if content, err := exporter.Latest(context.Background()); err == nil {
		result.Content = content
	}
	return result
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()

	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("expectation %q failed: %v", exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{pattern: pattern}
}

// Empty matches the empty string.
func Empty() StringMatcher {
	return &equalsMatcher{expected: ""}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool {
	return strings.Contains(s, m.substr)
}

func (m *containsMatcher) Description() string {
	return fmt.Sprintf("contains %q", m.substr)
}

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool {
	return s == m.expected
}

func (m *equalsMatcher) Description() string {
	return fmt.Sprintf("equals %q", m.expected)
}

type regexMatcher struct {
	pattern string
}

func (m *regexMatcher) Match(s string) bool {
	re, err := regexp.Compile(m.pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (m *regexMatcher) Description() string {
	return fmt.Sprintf("matches regex %q", m.pattern)
}

// Expectation implementations

type outcomeExpectation struct {
	outcome core.Outcome
}

func (e *outcomeExpectation) Check(r *ScenarioResult) error {
	if r.Result.Outcome != e.outcome {
		return fmt.Errorf("outcome is %q", r.Result.Outcome)
	}
	return nil
}

func (e *outcomeExpectation) Description() string {
	return fmt.Sprintf("outcome %s", e.outcome)
}

type missingExpectation struct {
	caps []core.Capability
}

func (e *missingExpectation) Check(r *ScenarioResult) error {
	got := slices.Clone(r.Result.Missing)
	want := slices.Clone(e.caps)
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return fmt.Errorf("missing is %v", r.Result.Missing)
	}
	return nil
}

func (e *missingExpectation) Description() string {
	return fmt.Sprintf("missing %v", e.caps)
}

type contentExpectation struct {
	matcher StringMatcher
}

func (e *contentExpectation) Check(r *ScenarioResult) error {
	if !e.matcher.Match(r.Content.Text) {
		return fmt.Errorf("content %q does not match: %s", r.Content.Text, e.matcher.Description())
	}
	return nil
}

func (e *contentExpectation) Description() string {
	return fmt.Sprintf("content %s", e.matcher.Description())
}

type promptExpectation struct {
	matcher StringMatcher
}

func (e *promptExpectation) Check(r *ScenarioResult) error {
	if len(r.Prompts) == 0 {
		return fmt.Errorf("generator was never called")
	}
	last := r.Prompts[len(r.Prompts)-1]
	if !e.matcher.Match(last) {
		return fmt.Errorf("prompt %q does not match: %s", last, e.matcher.Description())
	}
	return nil
}

func (e *promptExpectation) Description() string {
	return fmt.Sprintf("prompt %s", e.matcher.Description())
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string {
	return "no error"
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("took %v, expected at most %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("max duration %v", e.max)
}
