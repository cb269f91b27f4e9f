// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind names a message type. Handlers are registered per kind.
type MessageKind string

const (
	KindLocationRequest MessageKind = "location.request"
	KindBuildings       MessageKind = "reply.buildings"
	KindWeather         MessageKind = "reply.weather"
	KindTime            MessageKind = "reply.time"
	KindFailure         MessageKind = "reply.failure"
	KindCycleRequest    MessageKind = "cycle.request"
	KindCycleResult     MessageKind = "cycle.result"
)

// Message is any payload that can travel on the bus.
type Message interface {
	Kind() MessageKind
}

// Envelope wraps a message with its routing data.
type Envelope struct {
	ID      string
	From    Address
	To      Address
	Message Message
	SentAt  time.Time
}

// NewEnvelope stamps a message with a fresh id and the current time.
func NewEnvelope(from, to Address, msg Message) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		From:    from,
		To:      to,
		Message: msg,
		SentAt:  time.Now().UTC(),
	}
}

// Kind returns the kind of the wrapped message, or "" for an empty envelope.
func (e Envelope) Kind() MessageKind {
	if e.Message == nil {
		return ""
	}
	return e.Message.Kind()
}
