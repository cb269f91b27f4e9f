// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus delivers messages between addressable agents. Each address
// owns one FIFO mailbox; addresses hosted elsewhere are reached through a
// Transport.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
)

// DefaultQueryTimeout bounds Query when the caller's context has no deadline.
const DefaultQueryTimeout = 15 * time.Second

// Bus routes envelopes to local mailboxes or remote transports.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[core.Address]*Mailbox
	routes    map[core.Address]Transport

	capacity     int
	queryTimeout time.Duration
	logger       *slog.Logger
	metrics      *Metrics
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity bounds every mailbox; Send fails with MAILBOX_FULL once a
// mailbox holds n envelopes. Zero keeps mailboxes unbounded.
func WithCapacity(n int) Option {
	return func(b *Bus) { b.capacity = n }
}

// WithQueryTimeout sets the default Query timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(b *Bus) { b.queryTimeout = d }
}

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		mailboxes:    make(map[core.Address]*Mailbox),
		routes:       make(map[core.Address]Transport),
		queryTimeout: DefaultQueryTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register binds a new mailbox to addr.
func (b *Bus) Register(addr core.Address) (*Mailbox, error) {
	if addr.IsZero() {
		return nil, errors.New(errors.CodeInvalidInput, "address is empty", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mailboxes[addr]; ok {
		return nil, duplicate(addr)
	}
	if _, ok := b.routes[addr]; ok {
		return nil, duplicate(addr)
	}
	mb := newMailbox(addr, b.capacity)
	mb.onPop = func(depth int) { b.metrics.popped(addr, depth) }
	b.mailboxes[addr] = mb
	b.logger.Debug("bus.register", slog.String("address", addr.String()))
	return mb, nil
}

// Unregister removes the mailbox or route bound to addr. Pending envelopes
// are dropped.
func (b *Bus) Unregister(addr core.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mb, ok := b.mailboxes[addr]; ok {
		mb.close()
		delete(b.mailboxes, addr)
	}
	delete(b.routes, addr)
}

// Route sends traffic for addr through t.
func (b *Bus) Route(addr core.Address, t Transport) error {
	if addr.IsZero() || t == nil {
		return errors.New(errors.CodeInvalidInput, "route needs an address and a transport", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mailboxes[addr]; ok {
		return duplicate(addr)
	}
	if _, ok := b.routes[addr]; ok {
		return duplicate(addr)
	}
	b.routes[addr] = t
	b.logger.Debug("bus.route", slog.String("address", addr.String()))
	return nil
}

// Has reports whether addr is registered locally or routed.
func (b *Bus) Has(addr core.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, local := b.mailboxes[addr]
	_, remote := b.routes[addr]
	return local || remote
}

// Send wraps msg in a new envelope and delivers it to to.
func (b *Bus) Send(ctx context.Context, from, to core.Address, msg core.Message) error {
	if msg == nil {
		return errors.New(errors.CodeInvalidInput, "message is nil", nil)
	}
	return b.Deliver(ctx, core.NewEnvelope(from, to, msg))
}

// Deliver enqueues env into the mailbox of env.To, or hands it to the
// transport routed for that address. It returns once the envelope is accepted.
func (b *Bus) Deliver(ctx context.Context, env core.Envelope) error {
	if err := ctx.Err(); err != nil {
		return errors.New(errors.CodeContextLost, "send canceled", err)
	}
	b.mu.RLock()
	mb, local := b.mailboxes[env.To]
	transport, remote := b.routes[env.To]
	b.mu.RUnlock()

	switch {
	case local:
		depth, err := mb.push(env)
		if err != nil {
			b.reject(env, err)
			return err
		}
		b.metrics.delivered(env.Kind(), env.To, depth)
		return nil
	case remote:
		if err := transport.Deliver(ctx, env); err != nil {
			b.reject(env, err)
			return err
		}
		b.metrics.routedOut(env.Kind())
		return nil
	default:
		err := errors.Newf(errors.CodeUnknownAddress, "no mailbox bound to %s", env.To).
			WithContext("address", env.To.String()).
			WithContext("from", env.From.String())
		b.reject(env, err)
		return err
	}
}

// Query sends msg to to from an ephemeral address and waits for the first
// message sent back to it. It fails with NO_REPLY when ctx is done or the
// query timeout elapses first.
func (b *Bus) Query(ctx context.Context, to core.Address, msg core.Message) (core.Message, error) {
	if _, ok := ctx.Deadline(); !ok && b.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.queryTimeout)
		defer cancel()
	}

	from := core.NewQueryAddress()
	mb, err := b.Register(from)
	if err != nil {
		return nil, err
	}
	defer b.Unregister(from)

	if err := b.Send(ctx, from, to, msg); err != nil {
		return nil, err
	}
	env, err := mb.Receive(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeNoReply, "no reply from "+to.String(), err).
			WithContext("address", to.String()).
			WithContext("kind", string(msg.Kind())).
			WithRecoverable(true)
	}
	return env.Message, nil
}

func (b *Bus) reject(env core.Envelope, err error) {
	code := errors.CodeOf(err)
	b.metrics.rejectedWith(env.Kind(), string(code))
	b.logger.Warn("bus.send.rejected",
		slog.String("to", env.To.String()),
		slog.String("from", env.From.String()),
		slog.String("kind", string(env.Kind())),
		slog.String("code", string(code)),
	)
}

func duplicate(addr core.Address) error {
	return errors.Newf(errors.CodeDuplicateAddress, "address %s already registered", addr).
		WithContext("address", addr.String())
}
