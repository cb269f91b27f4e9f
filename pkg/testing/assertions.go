// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"slices"
	"strings"
	"testing"

	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

// AssertEqual asserts that two values are equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected != actual {
		a.t.Errorf("%s: expected %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertContains asserts that s contains substr.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.t.Errorf("%s: %q does not contain %q", msg, s, substr)
		a.failed = true
	}
}

// AssertNoError asserts that err is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Errorf("%s: unexpected error: %v", msg, err)
		a.failed = true
	}
}

// AssertCode asserts that err carries code anywhere in its chain.
func (a *Assertions) AssertCode(err error, code errors.ErrorCode, msg string) {
	a.t.Helper()
	if !errors.HasCode(err, code) {
		a.t.Errorf("%s: expected %s, got %v", msg, code, err)
		a.failed = true
	}
}

// CycleAssertions provides assertion helpers for cycle results.
type CycleAssertions struct {
	*Assertions
	res core.CycleResult
}

// AssertCycle creates cycle assertions for res.
func (a *Assertions) AssertCycle(res core.CycleResult) *CycleAssertions {
	return &CycleAssertions{Assertions: a, res: res}
}

// HasOutcome checks the cycle outcome.
func (c *CycleAssertions) HasOutcome(o core.Outcome) *CycleAssertions {
	c.t.Helper()
	if c.res.Outcome != o {
		c.t.Errorf("expected outcome %s, got %s", o, c.res.Outcome)
		c.failed = true
	}
	return c
}

// HasContentRef checks that the cycle produced content.
func (c *CycleAssertions) HasContentRef() *CycleAssertions {
	c.t.Helper()
	if c.res.ContentRef == "" {
		c.t.Errorf("expected a content reference for cycle %s", c.res.CycleID)
		c.failed = true
	}
	return c
}

// HasNoContentRef checks that the cycle produced no content.
func (c *CycleAssertions) HasNoContentRef() *CycleAssertions {
	c.t.Helper()
	if c.res.ContentRef != "" {
		c.t.Errorf("expected no content reference, got %q", c.res.ContentRef)
		c.failed = true
	}
	return c
}

// IsMissing checks the capabilities reported missing, in any order.
func (c *CycleAssertions) IsMissing(caps ...core.Capability) *CycleAssertions {
	c.t.Helper()
	got := slices.Clone(c.res.Missing)
	want := slices.Clone(caps)
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		c.t.Errorf("expected missing %v, got %v", caps, c.res.Missing)
		c.failed = true
	}
	return c
}

// Quick assertion functions for common patterns

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// RequireEqual fails the test immediately if values are not equal.
func RequireEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}
