// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package grpcbus

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/resilience"
)

// DefaultAttemptTimeout bounds a single Deliver RPC.
const DefaultAttemptTimeout = 2 * time.Second

// Client is a bus.Transport that forwards envelopes to a remote Server.
type Client struct {
	conn           grpc.ClientConnInterface
	codec          *bus.Codec
	retry          resilience.RetryConfig
	attemptTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetry sets the retry policy applied across attempts.
func WithRetry(rc resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = rc }
}

// WithAttemptTimeout bounds every attempt.
func WithAttemptTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithClientCodec overrides the message codec.
func WithClientCodec(codec *bus.Codec) ClientOption {
	return func(c *Client) { c.codec = codec }
}

// Dial opens a plaintext connection to a remote bus.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(target, opts...)
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface, opts ...ClientOption) *Client {
	c := &Client{
		conn:           conn,
		codec:          bus.DefaultCodec(),
		retry:          resilience.DefaultRetryConfig(),
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver implements bus.Transport. Every attempt carries the same envelope
// id, so the server suppresses duplicates from retried attempts.
func (c *Client) Deliver(ctx context.Context, env core.Envelope) error {
	in, err := encodeEnvelope(c.codec, env)
	if err != nil {
		return err
	}
	return c.retry.Do(ctx, func(ctx context.Context) error {
		_, err := resilience.WithTimeout(ctx, c.attemptTimeout, func(ctx context.Context) (struct{}, error) {
			out := new(emptypb.Empty)
			err := c.conn.Invoke(injectTraceContext(ctx), deliverMethod, in, out)
			return struct{}{}, fromStatus(err, env.To)
		})
		return err
	})
}

var _ bus.Transport = (*Client)(nil)
