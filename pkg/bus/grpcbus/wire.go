// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package grpcbus carries bus envelopes between processes over gRPC.
// Envelopes travel as google.protobuf.Struct values whose body field holds
// the JSON encoding of the message.
package grpcbus

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
)

const (
	serviceName   = "soundscape.bus.v1.Bus"
	deliverMethod = "/" + serviceName + "/Deliver"
)

func encodeEnvelope(codec *bus.Codec, env core.Envelope) (*structpb.Struct, error) {
	body, err := codec.Encode(env.Message)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"id":      env.ID,
		"from":    env.From.String(),
		"to":      env.To.String(),
		"kind":    string(env.Kind()),
		"sent_at": env.SentAt.UTC().Format(time.RFC3339Nano),
		"body":    string(body),
	})
}

func decodeEnvelope(codec *bus.Codec, in *structpb.Struct) (core.Envelope, error) {
	fields := in.GetFields()
	str := func(key string) string { return fields[key].GetStringValue() }

	env := core.Envelope{
		ID:   str("id"),
		From: core.Address(str("from")),
		To:   core.Address(str("to")),
	}
	if env.ID == "" || env.To.IsZero() {
		return core.Envelope{}, errors.New(errors.CodeInvalidInput, "envelope needs id and to", nil)
	}
	if ts := str("sent_at"); ts != "" {
		sentAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return core.Envelope{}, errors.New(errors.CodeInvalidInput, "invalid sent_at", err)
		}
		env.SentAt = sentAt
	}
	msg, err := codec.Decode(core.MessageKind(str("kind")), []byte(str("body")))
	if err != nil {
		return core.Envelope{}, err
	}
	env.Message = msg
	return env, nil
}

// toStatus converts bus errors into gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch errors.CodeOf(err) {
	case errors.CodeUnknownAddress:
		code = codes.NotFound
	case errors.CodeMailboxFull:
		code = codes.ResourceExhausted
	case errors.CodeInvalidInput:
		code = codes.InvalidArgument
	case errors.CodeContextLost, errors.CodeTimeout:
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus converts a gRPC error back into a typed bus error.
func fromStatus(err error, to core.Address) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	var e *errors.Error
	switch st.Code() {
	case codes.NotFound:
		e = errors.New(errors.CodeUnknownAddress, st.Message(), err)
	case codes.ResourceExhausted:
		e = errors.New(errors.CodeMailboxFull, st.Message(), err).WithRecoverable(true)
	case codes.InvalidArgument:
		e = errors.New(errors.CodeInvalidInput, st.Message(), err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		e = errors.New(errors.CodeCollaboratorFailure, "remote bus unavailable", err).WithRecoverable(true)
	default:
		e = errors.New(errors.CodeCollaboratorFailure, st.Message(), err)
	}
	return e.WithContext("address", to.String())
}

func injectTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.MD{}
	} else {
		md = md.Copy()
	}
	otel.GetTextMapPropagator().Inject(ctx, metadataCarrier{md: md})
	return metadata.NewOutgoingContext(ctx, md)
}

func extractTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, metadataCarrier{md: md})
}

type metadataCarrier struct {
	md metadata.MD
}

func (c metadataCarrier) Get(key string) string {
	values := c.md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (c metadataCarrier) Set(key, value string) {
	c.md.Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c.md))
	for key := range c.md {
		keys = append(keys, key)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}
