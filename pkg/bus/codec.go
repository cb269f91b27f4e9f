// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"encoding/json"
	"sync"

	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
)

// Codec maps message kinds to their Go types so messages can cross a
// process boundary as JSON.
type Codec struct {
	mu     sync.RWMutex
	decode map[core.MessageKind]func([]byte) (core.Message, error)
}

// NewCodec returns a codec without registered kinds.
func NewCodec() *Codec {
	return &Codec{decode: make(map[core.MessageKind]func([]byte) (core.Message, error))}
}

// DefaultCodec knows every message kind defined in package core.
func DefaultCodec() *Codec {
	c := NewCodec()
	RegisterKind[core.LocationRequest](c)
	RegisterKind[core.BuildingsResult](c)
	RegisterKind[core.WeatherResult](c)
	RegisterKind[core.TimeResult](c)
	RegisterKind[core.Failure](c)
	RegisterKind[core.CycleRequest](c)
	RegisterKind[core.CycleResult](c)
	return c
}

// RegisterKind teaches c to decode messages of type M.
func RegisterKind[M core.Message](c *Codec) {
	var zero M
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decode[zero.Kind()] = func(data []byte) (core.Message, error) {
		var m M
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Encode returns the JSON body of msg.
func (c *Codec) Encode(msg core.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "encode message", err).
			WithContext("kind", string(msg.Kind()))
	}
	return data, nil
}

// Decode rebuilds a message of the given kind from its JSON body.
func (c *Codec) Decode(kind core.MessageKind, data []byte) (core.Message, error) {
	c.mu.RLock()
	fn, ok := c.decode[kind]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown message kind %q", kind)
	}
	msg, err := fn(data)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decode message", err).
			WithContext("kind", string(kind))
	}
	return msg, nil
}
