// health_server.go: gRPC health endpoint reporting the bridge status
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"net"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves the standard gRPC health protocol for one service
// name. Healthy and degraded bridges report SERVING.
type HealthServer struct {
	address  string
	service  string
	logger   Logger
	provider trace.TracerProvider

	mu       sync.Mutex
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	done     chan struct{}
}

// NewHealthServer creates a server for address ("127.0.0.1:0" picks a free
// port). It does not listen until Start. Health RPCs are traced with
// provider, or with the global provider when nil.
func NewHealthServer(address, service string, logger Logger, provider trace.TracerProvider) *HealthServer {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &HealthServer{
		address:  address,
		service:  service,
		logger:   logger,
		provider: provider,
	}
}

// Start listens and serves in the background. The service starts as
// NOT_SERVING until the first status is published.
func (hs *HealthServer) Start() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.server != nil {
		return nil
	}

	listener, err := net.Listen("tcp", hs.address)
	if err != nil {
		return NewHealthServerError(hs.address, err)
	}

	hs.health = health.NewServer()
	hs.health.SetServingStatus(hs.service, healthpb.HealthCheckResponse_NOT_SERVING)
	var handlerOpts []otelgrpc.Option
	if hs.provider != nil {
		handlerOpts = append(handlerOpts, otelgrpc.WithTracerProvider(hs.provider))
	}
	hs.server = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler(handlerOpts...)))
	healthpb.RegisterHealthServer(hs.server, hs.health)
	hs.listener = listener
	hs.done = make(chan struct{})

	server, done := hs.server, hs.done
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil {
			hs.logger.Warn("Health server stopped", "address", listener.Addr().String(), "error", err)
		}
	}()

	hs.logger.Info("Health server listening", "address", listener.Addr().String(), "service", hs.service)
	return nil
}

// Addr returns the listening address, or nil before Start.
func (hs *HealthServer) Addr() net.Addr {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.listener == nil {
		return nil
	}
	return hs.listener.Addr()
}

// Service returns the reported service name.
func (hs *HealthServer) Service() string {
	return hs.service
}

// SetStatus publishes a bridge health status.
func (hs *HealthServer) SetStatus(status HealthStatus) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.health == nil {
		return
	}
	hs.health.SetServingStatus(hs.service, servingStatus(status.Status))
}

func servingStatus(status PluginStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch status {
	case StatusHealthy, StatusDegraded:
		return healthpb.HealthCheckResponse_SERVING
	case StatusUnknown:
		return healthpb.HealthCheckResponse_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// Stop marks every service NOT_SERVING and stops the server.
func (hs *HealthServer) Stop() {
	hs.mu.Lock()
	server, healthServer, done := hs.server, hs.health, hs.done
	hs.server, hs.health, hs.listener = nil, nil, nil
	hs.mu.Unlock()

	if server == nil {
		return
	}
	healthServer.Shutdown()
	server.GracefulStop()
	<-done
}
