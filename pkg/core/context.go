package core

import (
	"context"
)

type cycleIDKey struct{}
type agentKey struct{}

// WithCycleID attaches a cycle id to the context.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

// CycleID returns the cycle id if present.
func CycleID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(cycleIDKey{}).(string)
	return id, ok && id != ""
}

// WithAgent attaches the address of the running agent to the context.
func WithAgent(ctx context.Context, addr Address) context.Context {
	return context.WithValue(ctx, agentKey{}, addr)
}

// AgentFromContext returns the address of the running agent if present.
func AgentFromContext(ctx context.Context) (Address, bool) {
	addr, ok := ctx.Value(agentKey{}).(Address)
	return addr, ok
}
