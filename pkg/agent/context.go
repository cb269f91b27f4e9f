// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/storage"
)

// Context is handed to every handler. It carries the agent's identity,
// private store and bus access, and is itself a context.Context bound to the
// agent's lifetime.
type Context struct {
	context.Context
	agent *Agent
}

// Address returns the address of the running agent.
func (c *Context) Address() core.Address { return c.agent.addr }

// Store returns the agent's private store.
func (c *Context) Store() storage.Store { return c.agent.store }

// Logger returns the agent logger.
func (c *Context) Logger() *slog.Logger { return c.agent.logger }

// Send delivers msg to the given address with this agent as the sender.
func (c *Context) Send(to core.Address, msg core.Message) error {
	return c.agent.bus.Send(c, c.agent.addr, to, msg)
}

// Reply sends msg back to the sender of env.
func (c *Context) Reply(env core.Envelope, msg core.Message) error {
	return c.Send(env.From, msg)
}

// After schedules fn once after d. fn runs on the agent loop, never
// concurrently with another handler of the same agent. The returned
// function cancels the timer if it has not fired yet.
func (c *Context) After(d time.Duration, fn TimerHandler) (cancel func()) {
	return c.agent.schedule(d, fn)
}
