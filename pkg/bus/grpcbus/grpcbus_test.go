// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package grpcbus

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/jllopis/soundscape/pkg/bus"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/errors"
	"github.com/jllopis/soundscape/pkg/resilience"
)

const bufSize = 1024 * 1024

var weatherAddr = core.AgentAddress("weather")

func newRemote(t *testing.T, local *bus.Bus, opts ...grpc.ServerOption) (*Server, *grpc.ClientConn) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	srv, err := NewServer(local)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	grpcServer := grpc.NewServer(opts...)
	srv.Register(grpcServer)
	go func() {
		_ = grpcServer.Serve(listener)
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(dialer))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
		_ = listener.Close()
	})
	return srv, conn
}

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRemoteDelivery(t *testing.T) {
	remoteBus := bus.New()
	mb, _ := remoteBus.Register(weatherAddr)
	_, conn := newRemote(t, remoteBus)

	localBus := bus.New()
	if err := localBus.Route(weatherAddr, NewClient(conn, WithRetry(fastRetry()))); err != nil {
		t.Fatal(err)
	}

	req := core.LocationRequest{CycleID: "c1", Location: core.Location{Latitude: 34.0156, Longitude: -118.4944, Radius: 20}}
	if err := localBus.Send(context.Background(), core.AgentAddress("soundscape"), weatherAddr, req); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := mb.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	got, ok := env.Message.(core.LocationRequest)
	if !ok {
		t.Fatalf("unexpected message %#v", env.Message)
	}
	if got != req {
		t.Errorf("expected %+v, got %+v", req, got)
	}
	if env.From != core.AgentAddress("soundscape") {
		t.Errorf("expected sender to survive the hop, got %s", env.From)
	}
}

func TestServerSuppressesDuplicates(t *testing.T) {
	remoteBus := bus.New()
	mb, _ := remoteBus.Register(weatherAddr)
	srv, err := NewServer(remoteBus)
	if err != nil {
		t.Fatal(err)
	}

	env := core.NewEnvelope(core.AgentAddress("soundscape"), weatherAddr, core.LocationRequest{CycleID: "c1"})
	in, err := encodeEnvelope(bus.DefaultCodec(), env)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := srv.Deliver(context.Background(), in); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}
	if mb.Len() != 1 {
		t.Errorf("expected exactly one delivery, got %d", mb.Len())
	}
}

func TestRemoteUnknownAddress(t *testing.T) {
	_, conn := newRemote(t, bus.New())
	client := NewClient(conn, WithRetry(fastRetry()))

	env := core.NewEnvelope(core.AgentAddress("soundscape"), weatherAddr, core.LocationRequest{CycleID: "c1"})
	err := client.Deliver(context.Background(), env)
	if !errors.HasCode(err, errors.CodeUnknownAddress) {
		t.Fatalf("expected UNKNOWN_ADDRESS, got %v", err)
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if calls.Add(1) <= 2 {
			return nil, status.Error(codes.Unavailable, "warming up")
		}
		return handler(ctx, req)
	}

	remoteBus := bus.New()
	mb, _ := remoteBus.Register(weatherAddr)
	_, conn := newRemote(t, remoteBus, grpc.UnaryInterceptor(flaky))
	client := NewClient(conn, WithRetry(fastRetry()))

	env := core.NewEnvelope(core.AgentAddress("soundscape"), weatherAddr, core.WeatherResult{CycleID: "c1", Description: "clear sky"})
	if err := client.Deliver(context.Background(), env); err != nil {
		t.Fatalf("expected delivery after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	if mb.Len() != 1 {
		t.Errorf("expected one delivery, got %d", mb.Len())
	}
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	down := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return nil, status.Error(codes.Unavailable, "down")
	}
	_, conn := newRemote(t, bus.New(), grpc.UnaryInterceptor(down))
	client := NewClient(conn, WithRetry(fastRetry().WithMaxAttempts(2)))

	env := core.NewEnvelope(core.AgentAddress("soundscape"), weatherAddr, core.LocationRequest{})
	err := client.Deliver(context.Background(), env)
	if !errors.HasCode(err, errors.CodeCollaboratorFailure) {
		t.Fatalf("expected COLLABORATOR_FAILURE, got %v", err)
	}
}

func TestDecodeRejectsIncompleteEnvelope(t *testing.T) {
	env := core.NewEnvelope("", weatherAddr, core.LocationRequest{})
	env.ID = ""
	in, err := encodeEnvelope(bus.DefaultCodec(), env)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeEnvelope(bus.DefaultCodec(), in); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}
