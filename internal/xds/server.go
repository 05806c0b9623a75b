package xds

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	serverv3 "github.com/envoyproxy/go-control-plane/pkg/server/v3"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	discoverygrpc "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"

	"time"

	cachev3 "github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	"github.com/envoyproxy/go-control-plane/pkg/resource/v3"

	"github.com/meshcore/meshd/internal/metrics"
	"github.com/meshcore/meshd/internal/rib"
	"github.com/meshcore/meshd/internal/snapshot"
)

// Server is the ADS gRPC server. Its lifecycle (grpc.NewServer, net.Listen,
// goroutine Serve, GracefulStop) mirrors the teacher's
// controlplane.Server.Start/Stop (internal/controlplane/controlplane.go),
// generalized from the teacher's custom NNetMan RPC service to the
// go-control-plane AggregatedDiscoveryService.
type Server struct {
	nodeID string

	cache   cachev3.SnapshotCache
	builder *Builder
	logger  *slog.Logger
	metrics *metrics.Registry

	grpcServer *grpc.Server
	listener   net.Listener
}

// New returns an xDS Server for the local nodeID, fed by snapshots. reg may
// be nil, in which case push counts are not recorded.
func New(nodeID string, logger *slog.Logger, reg *metrics.Registry) *Server {
	log := logger.With("component", "xds.Server")
	return &Server{
		nodeID:  nodeID,
		cache:   cachev3.NewSnapshotCache(true, cachev3.IDHash{}, xdsLogger{log}),
		builder: NewBuilder(),
		logger:  log,
		metrics: reg,
	}
}

// Start listens on address and serves ADS until Stop is called.
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("xds: listen on %s: %w", address, err)
	}
	s.listener = lis

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	}
	s.grpcServer = grpc.NewServer(opts...)

	adsServer := serverv3.NewServer(context.Background(), s.cache, nil)
	discoverygrpc.RegisterAggregatedDiscoveryServiceServer(s.grpcServer, adsServer)

	s.logger.Info("xds server started", "address", address)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error("xds grpc server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the ADS server.
func (s *Server) Stop() {
	if s.grpcServer == nil {
		return
	}
	s.grpcServer.GracefulStop()
	s.logger.Info("xds server stopped")
}

// Push builds xDS resources from snap and installs them for this node,
// triggering a push to every subscribed Envoy stream (CDS before LDS: the
// cache keys both resource types into the same snapshot so go-control-plane
// emits cluster updates before the listeners that reference them, per
// §4.F's ordering rule).
func (s *Server) Push(snap rib.Snapshot) error {
	out, err := s.builder.Build(snap)
	if err != nil {
		return err
	}
	if err := s.cache.SetSnapshot(context.Background(), s.nodeID, out); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.XDSPushesTotal.WithLabelValues(resource.ClusterType).Inc()
		s.metrics.XDSPushesTotal.WithLabelValues(resource.ListenerType).Inc()
	}
	return nil
}

// WatchAndPush subscribes to the snapshot cache and pushes every new
// version to the ADS cache until ctx is cancelled.
func (s *Server) WatchAndPush(ctx context.Context, cache *snapshot.Cache) {
	snap, ch := cache.Watch()
	if err := s.Push(snap); err != nil {
		s.logger.Error("initial xds push failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			snap, ch = cache.Watch()
			if err := s.Push(snap); err != nil {
				s.logger.Error("xds push failed", "error", err)
			}
		}
	}
}

// xdsLogger adapts *slog.Logger to go-control-plane's minimal Logger
// interface (Debugf/Infof/Warnf/Errorf).
type xdsLogger struct {
	l *slog.Logger
}

func (x xdsLogger) Debugf(format string, args ...interface{}) { x.l.Debug(fmt.Sprintf(format, args...)) }
func (x xdsLogger) Infof(format string, args ...interface{})  { x.l.Info(fmt.Sprintf(format, args...)) }
func (x xdsLogger) Warnf(format string, args ...interface{})  { x.l.Warn(fmt.Sprintf(format, args...)) }
func (x xdsLogger) Errorf(format string, args ...interface{}) { x.l.Error(fmt.Sprintf(format, args...)) }
