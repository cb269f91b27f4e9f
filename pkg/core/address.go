// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package core defines the addresses, messages and health primitives shared
// by the bus, the agents and the runtime.
package core

import (
	"strings"

	"github.com/google/uuid"
)

// Address identifies an agent mailbox. It is the only routing key on the bus.
type Address string

const (
	agentScheme = "agent://"
	queryScheme = "query://"
)

// AgentAddress builds the address of a named agent.
func AgentAddress(name string) Address {
	return Address(agentScheme + strings.ToLower(strings.TrimSpace(name)))
}

// NewQueryAddress returns a fresh ephemeral address for one request/response exchange.
func NewQueryAddress() Address {
	return Address(queryScheme + uuid.NewString())
}

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return strings.TrimSpace(string(a)) == "" }

// IsQuery reports whether the address belongs to an ephemeral query.
func (a Address) IsQuery() bool { return strings.HasPrefix(string(a), queryScheme) }

// Name returns the address without its scheme.
func (a Address) Name() string {
	s := string(a)
	if i := strings.Index(s, "://"); i >= 0 {
		return s[i+3:]
	}
	return s
}
