// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"sync"

	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
)

// Mailbox is the FIFO queue bound to one address. It is unbounded unless a
// capacity was configured on the bus.
type Mailbox struct {
	addr     core.Address
	capacity int

	mu     sync.Mutex
	queue  []core.Envelope
	closed bool
	ready  chan struct{}
	onPop  func(depth int)
}

func newMailbox(addr core.Address, capacity int) *Mailbox {
	return &Mailbox{
		addr:     addr,
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Address returns the address the mailbox is bound to.
func (m *Mailbox) Address() core.Address { return m.addr }

// Ready is signaled whenever the mailbox has at least one envelope to pop.
func (m *Mailbox) Ready() <-chan struct{} { return m.ready }

// Len returns the number of queued envelopes.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Mailbox) push(env core.Envelope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.Newf(errors.CodeUnknownAddress, "mailbox %s is closed", m.addr).
			WithContext("address", m.addr.String())
	}
	if m.capacity > 0 && len(m.queue) >= m.capacity {
		return len(m.queue), errors.Newf(errors.CodeMailboxFull, "mailbox %s is full", m.addr).
			WithContext("address", m.addr.String()).
			WithContext("capacity", m.capacity).
			WithRecoverable(true)
	}
	m.queue = append(m.queue, env)
	m.signal()
	return len(m.queue), nil
}

// Pop removes the oldest envelope without blocking.
func (m *Mailbox) Pop() (core.Envelope, bool) {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return core.Envelope{}, false
	}
	env := m.queue[0]
	m.queue[0] = core.Envelope{}
	m.queue = m.queue[1:]
	depth := len(m.queue)
	if depth > 0 {
		m.signal()
	}
	onPop := m.onPop
	m.mu.Unlock()
	if onPop != nil {
		onPop(depth)
	}
	return env, true
}

// Receive blocks until an envelope is available or ctx is done.
func (m *Mailbox) Receive(ctx context.Context) (core.Envelope, error) {
	for {
		if env, ok := m.Pop(); ok {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return core.Envelope{}, ctx.Err()
		case <-m.ready:
		}
	}
}

// signal must be called with mu held.
func (m *Mailbox) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *Mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
