// ribd is the control plane daemon: it runs the RIB dispatcher, the peer
// sessions, the local control API, and the xDS ADS server that feeds the
// node-local data-plane proxy. Wiring order grounded on the teacher's
// cmd/nnetd/main.go (flags, slog JSON handler, config load, signal
// handling, metrics -> servers -> reconciler -> ready -> wait-for-signal).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshcore/meshd/internal/authn"
	"github.com/meshcore/meshd/internal/authz"
	"github.com/meshcore/meshd/internal/config"
	"github.com/meshcore/meshd/internal/controlapi"
	"github.com/meshcore/meshd/internal/dispatcher"
	"github.com/meshcore/meshd/internal/healthapi"
	"github.com/meshcore/meshd/internal/metrics"
	"github.com/meshcore/meshd/internal/peer"
	"github.com/meshcore/meshd/internal/portalloc"
	"github.com/meshcore/meshd/internal/rib"
	"github.com/meshcore/meshd/internal/snapshot"
	"github.com/meshcore/meshd/internal/xds"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/meshd/meshd.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ribd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting ribd", "version", version, "config", *configPath)

	loader := config.NewLoader()
	cfg, err := loader.LoadFile(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded successfully",
		"node_id", cfg.Node.ID,
		"peers_count", len(cfg.Peers),
	)

	var portEntries []portalloc.Entry
	for _, r := range cfg.RIB.PortRange {
		portEntries = append(portEntries, portalloc.Entry{Start: r.Start, End: r.End})
	}
	portEntries, err = portalloc.ParseEntries(portEntries)
	if err != nil {
		slog.Error("invalid port range", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := metrics.New(prometheus.DefaultRegisterer)
	reg.PeersConfigured.Set(float64(len(cfg.Peers)))

	health := healthapi.New(fmt.Sprintf("%s:%d", cfg.Obs.Healthcheck.Listen.Address, cfg.Obs.Healthcheck.Listen.Port), logger)
	if cfg.Obs.Healthcheck.Enabled {
		health.Start()
	}
	defer health.Stop(context.Background())

	snapshots := snapshot.New()

	// peer.Manager needs an actions channel at construction time, but the
	// dispatcher needs the Manager at its own construction time: break the
	// cycle with an intermediate channel relayed onto the dispatcher's own
	// PeerActions() channel.
	peerActions := make(chan rib.Action, 256)
	peers := peer.NewManager(cfg.Node.ID, cfg.Node.Domains, cfg.RIB.HoldTimeSec, peerActions, logger)

	disp := dispatcher.New(cfg.Node.ID, portEntries, cfg.RIB.ProxyBindAddr, peers, snapshots, logger,
		dispatcher.WithTickPeriod(time.Duration(cfg.RIB.KeepaliveTickMs)*time.Millisecond),
		dispatcher.WithMetrics(reg),
	)

	go disp.Run(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-peerActions:
				disp.PeerActions() <- a
			}
		}
	}()

	for _, p := range cfg.Peers {
		if _, ribErr := disp.Submit(ctx, rib.LocalPeerCreate{PeerInfo: rib.PeerInfo{
			Name: p.Name, Endpoint: p.Address, Domains: p.Domains, PeerToken: p.PeerToken,
		}}); ribErr != nil {
			slog.Warn("failed to register configured peer", "peer", p.Name, "error", ribErr)
		}
	}

	peerListenAddr := fmt.Sprintf("%s:%d", cfg.RIB.PeerListen.Address, cfg.RIB.PeerListen.Port)
	go func() {
		if err := peers.Serve(ctx, peerListenAddr); err != nil {
			slog.Error("peer inbound listener stopped", "error", err)
		}
	}()

	xdsNodeID := cfg.XDS.NodeID
	if xdsNodeID == "" {
		xdsNodeID = cfg.Node.ID
	}
	xdsServer := xds.New(xdsNodeID, logger, reg)
	if err := xdsServer.Start(fmt.Sprintf("%s:%d", cfg.XDS.Listen.Address, cfg.XDS.Listen.Port)); err != nil {
		slog.Error("failed to start xds server", "error", err)
		os.Exit(1)
	}
	defer xdsServer.Stop()
	go xdsServer.WatchAndPush(ctx, snapshots)

	capi := controlapi.New(fmt.Sprintf("%s:%d", cfg.Control.Listen.Address, cfg.Control.Listen.Port),
		disp, authn.AllowAllVerifier{}, authz.AllowAllEngine{}, logger, reg)
	capi.Start()
	defer capi.Stop(context.Background())

	health.SetReady(true)

	slog.Info("ribd initialized, waiting for events...",
		"xds_port", cfg.XDS.Listen.Port,
		"control_port", cfg.Control.Listen.Port,
		"metrics_port", cfg.Obs.Healthcheck.Listen.Port,
	)

	<-ctx.Done()
	slog.Info("shutting down ribd")
	peers.ShutdownAll(5 * time.Second)
}
