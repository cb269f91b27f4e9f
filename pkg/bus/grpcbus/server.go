// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package grpcbus

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/telemetry"
)

// DefaultDedupSize is the number of recent envelope ids remembered by a server.
const DefaultDedupSize = 4096

type deliverServer interface {
	Deliver(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*deliverServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "soundscape/bus/v1/bus.proto",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deliverServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(deliverServer).Deliver(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server accepts envelopes from remote buses and delivers them locally.
// Envelopes whose id was already accepted are acknowledged and dropped, so
// client retries never deliver a message twice.
type Server struct {
	local  bus.Transport
	codec  *bus.Codec
	seen   *lru.Cache[string, struct{}]
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	codec     *bus.Codec
	dedupSize int
	logger    *slog.Logger
}

// WithServerCodec overrides the message codec.
func WithServerCodec(c *bus.Codec) ServerOption {
	return func(o *serverOptions) { o.codec = c }
}

// WithDedupSize sets how many envelope ids are remembered.
func WithDedupSize(n int) ServerOption {
	return func(o *serverOptions) { o.dedupSize = n }
}

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// NewServer creates a server delivering into local, usually a *bus.Bus.
func NewServer(local bus.Transport, opts ...ServerOption) (*Server, error) {
	o := serverOptions{dedupSize: DefaultDedupSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codec == nil {
		o.codec = bus.DefaultCodec()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	seen, err := lru.New[string, struct{}](o.dedupSize)
	if err != nil {
		return nil, err
	}
	return &Server{local: local, codec: o.codec, seen: seen, logger: o.logger}, nil
}

// Register attaches the bus service to a gRPC server.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&serviceDesc, s)
}

// Deliver implements the Deliver RPC.
func (s *Server) Deliver(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	ctx = extractTraceContext(ctx)
	ctx, span := otel.Tracer("soundscape/grpcbus").Start(ctx, "Bus.Deliver")
	defer span.End()

	env, err := decodeEnvelope(s.codec, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toStatus(err)
	}
	span.SetAttributes(telemetry.EnvelopeAttributes(env)...)

	if seen, _ := s.seen.ContainsOrAdd(env.ID, struct{}{}); seen {
		span.SetAttributes(attribute.Bool(telemetry.AttrDuplicate, true))
		s.logger.Debug("grpcbus.deliver.duplicate", slog.String("id", env.ID), slog.String("to", env.To.String()))
		return &emptypb.Empty{}, nil
	}
	if err := s.local.Deliver(ctx, env); err != nil {
		s.seen.Remove(env.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}
