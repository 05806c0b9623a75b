package xds

import (
	"testing"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	listenerv3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	"github.com/envoyproxy/go-control-plane/pkg/resource/v3"

	"github.com/meshcore/meshd/internal/rib"
)

func TestBuilder_Build_ProducesClusterAndListener(t *testing.T) {
	b := NewBuilder()
	snap := rib.Snapshot{
		Version: "1",
		Clusters: []rib.Cluster{
			{Name: "svc-a", Address: "10.0.0.5", Port: 8081},
		},
		Listeners: []rib.Listener{
			{Name: "svc-a", BindAddress: "0.0.0.0", Port: 20000, UpstreamCluster: "svc-a"},
		},
	}

	out, err := b.Build(snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clusters := out.GetResources(resource.ClusterType)
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster resource, got %d", len(clusters))
	}
	c, ok := clusters["svc-a"].(*cluster.Cluster)
	if !ok {
		t.Fatalf("expected *cluster.Cluster, got %T", clusters["svc-a"])
	}
	if c.GetClusterDiscoveryType() == nil || c.GetType() != cluster.Cluster_STATIC {
		t.Errorf("expected STATIC discovery type, got %v", c.GetClusterDiscoveryType())
	}

	listeners := out.GetResources(resource.ListenerType)
	if len(listeners) != 1 {
		t.Fatalf("expected 1 listener resource, got %d", len(listeners))
	}
	if _, ok := listeners["svc-a"].(*listenerv3.Listener); !ok {
		t.Fatalf("expected *listenerv3.Listener, got %T", listeners["svc-a"])
	}
}

func TestBuilder_Build_EmptySnapshotIsConsistent(t *testing.T) {
	b := NewBuilder()
	_, err := b.Build(rib.Snapshot{Version: "0"})
	if err != nil {
		t.Fatalf("unexpected error building an empty snapshot: %v", err)
	}
}

func TestBuilder_Build_VersionPropagates(t *testing.T) {
	b := NewBuilder()
	out, err := b.Build(rib.Snapshot{Version: "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.GetVersion(resource.ClusterType) != "42" {
		t.Errorf("expected version '42', got %q", out.GetVersion(resource.ClusterType))
	}
}
