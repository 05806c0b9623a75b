// Package xds translates RIB snapshots into Envoy xDS resources and serves
// them over ADS. Directly grounded on the envoyage SnapshotBuilder pattern
// (SnapshotBuilder.Build, makeCluster, makeHTTPListener), adapted from
// STRICT_DNS virtual-host routing to our 1:1 route→cluster/listener model:
// each mesh Route becomes exactly one Cluster (STATIC, explicit host:port,
// no DNS resolution needed since endpoints are already resolved addresses)
// and one Listener bound to the port the local portalloc.Allocate reserved
// for it.
package xds

import (
	"fmt"
	"time"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpoint "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	listenerv3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	routev3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	routerv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/router/v3"
	hcm "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"github.com/envoyproxy/go-control-plane/pkg/cache/types"
	cachev3 "github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	"github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/envoyproxy/go-control-plane/pkg/wellknown"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/meshcore/meshd/internal/rib"
)

// Builder translates a rib.Snapshot into a go-control-plane cache snapshot.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build produces a consistent xDS snapshot from a RIB snapshot; the caller
// installs it for a node ID. The version string is the RIB's decimal commit version (spec
// §9's resolution of Open Question 3: "decimal, monotonically increasing,
// matching the RIB's own Version field").
func (b *Builder) Build(snap rib.Snapshot) (*cachev3.Snapshot, error) {
	var (
		clusters  []types.Resource
		listeners []types.Resource
	)

	for _, c := range snap.Clusters {
		clusters = append(clusters, makeCluster(c))
	}
	for _, l := range snap.Listeners {
		lis, err := makeListener(l)
		if err != nil {
			return nil, fmt.Errorf("xds: building listener %s: %w", l.Name, err)
		}
		listeners = append(listeners, lis)
	}

	out, err := cachev3.NewSnapshot(
		snap.Version,
		map[resource.Type][]types.Resource{
			resource.ClusterType:  clusters,
			resource.ListenerType: listeners,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("xds: creating snapshot: %w", err)
	}
	if err := out.Consistent(); err != nil {
		return nil, fmt.Errorf("xds: snapshot consistency check failed: %w", err)
	}
	return out, nil
}

// makeCluster builds a STATIC cluster with one inline LbEndpoint. Unlike
// the teacher's STRICT_DNS form, route endpoints are already host:port
// pairs resolved by the operator/registration flow, so no DNS indirection
// is needed.
func makeCluster(c rib.Cluster) *cluster.Cluster {
	return &cluster.Cluster{
		Name: c.Name,
		ClusterDiscoveryType: &cluster.Cluster_Type{
			Type: cluster.Cluster_STATIC,
		},
		ConnectTimeout: durationpb.New(5 * time.Second),
		LoadAssignment: &endpoint.ClusterLoadAssignment{
			ClusterName: c.Name,
			Endpoints: []*endpoint.LocalityLbEndpoints{{
				LbEndpoints: []*endpoint.LbEndpoint{{
					HostIdentifier: &endpoint.LbEndpoint_Endpoint{
						Endpoint: &endpoint.Endpoint{
							Address: makeAddress(c.Address, c.Port),
						},
					},
				}},
			}},
		},
	}
}

// makeListener builds a listener with an inline HTTP connection manager
// whose router forwards every request straight to the route's upstream
// cluster (no RDS indirection — each listener owns exactly one cluster,
// so the route table is embedded directly rather than served via a
// separate RouteConfiguration).
func makeListener(l rib.Listener) (*listenerv3.Listener, error) {
	routerAny, err := anypb.New(&routerv3.Router{})
	if err != nil {
		return nil, fmt.Errorf("marshaling router config: %w", err)
	}

	routeConfig := &routev3.RouteConfiguration{
		Name: l.Name + "_routes",
		VirtualHosts: []*routev3.VirtualHost{{
			Name:    l.Name,
			Domains: []string{"*"},
			Routes: []*routev3.Route{{
				Match: &routev3.RouteMatch{
					PathSpecifier: &routev3.RouteMatch_Prefix{Prefix: "/"},
				},
				Action: &routev3.Route_Route{
					Route: &routev3.RouteAction{
						ClusterSpecifier: &routev3.RouteAction_Cluster{
							Cluster: l.UpstreamCluster,
						},
					},
				},
			}},
		}},
	}

	httpConnMgr := &hcm.HttpConnectionManager{
		StatPrefix: l.Name,
		RouteSpecifier: &hcm.HttpConnectionManager_RouteConfig{
			RouteConfig: routeConfig,
		},
		HttpFilters: []*hcm.HttpFilter{{
			Name: wellknown.Router,
			ConfigType: &hcm.HttpFilter_TypedConfig{
				TypedConfig: routerAny,
			},
		}},
	}

	hcmAny, err := anypb.New(httpConnMgr)
	if err != nil {
		return nil, fmt.Errorf("marshaling HCM: %w", err)
	}

	return &listenerv3.Listener{
		Name:    l.Name,
		Address: makeAddress(l.BindAddress, l.Port),
		FilterChains: []*listenerv3.FilterChain{{
			Filters: []*listenerv3.Filter{{
				Name: wellknown.HTTPConnectionManager,
				ConfigType: &listenerv3.Filter_TypedConfig{
					TypedConfig: hcmAny,
				},
			}},
		}},
	}, nil
}

func makeAddress(host string, port uint32) *core.Address {
	return &core.Address{
		Address: &core.Address_SocketAddress{
			SocketAddress: &core.SocketAddress{
				Protocol: core.SocketAddress_TCP,
				Address:  host,
				PortSpecifier: &core.SocketAddress_PortValue{
					PortValue: port,
				},
			},
		},
	}
}
