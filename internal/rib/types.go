// Package rib implements the node-local Routing Information Base: the
// in-memory store of routes, peers, and derived state, plus the pure
// plan/commit state transitions that drive it.
package rib

import "time"

// Protocol is the closed set of upstream protocols a Route may advertise.
type Protocol string

const (
	ProtocolHTTP    Protocol = "http"
	ProtocolGraphQL Protocol = "http:graphql"
	ProtocolGRPC    Protocol = "http:grpc"
)

// Route is a locally or remotely originated service advertisement.
type Route struct {
	Name     string
	Protocol Protocol
	Endpoint Endpoint
	Region   string
	Tags     map[string]string
}

// Endpoint is the upstream target of a Route.
type Endpoint struct {
	Scheme string
	Host   string
	Port   uint32
}

// Origin identifies who originated a learned RouteEntry: either the local
// node or a configured peer.
type Origin struct {
	Local bool
	Peer  string
}

// RouteEntry is a route as known to the RIB, carrying provenance.
type RouteEntry struct {
	Service    Route
	Origin     Origin
	NodePath   []string
	LearnedAt  time.Time
}

// ConnectionStatus is the peer's coarse connectivity state as observed by
// the RIB (distinct from, and coarser than, the peer session FSM states of
// internal/peer).
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// PeerInfo is operator-configured peer identity.
type PeerInfo struct {
	Name      string
	Endpoint  string
	Domains   []string
	PeerToken string
}

// PeerRecord is the runtime, RIB-owned view of a peer.
type PeerRecord struct {
	PeerInfo

	ConnectionStatus ConnectionStatus
	HoldTimeSec      int64 // 0 or unset (see HoldTimeSet) means never expire
	HoldTimeSet      bool
	LastReceivedMs   int64
	LastReceivedSet  bool
	LastSentMs       int64
	LastSentSet      bool
}

// Listener is a bound (address, port) the data-plane proxy accepts
// connections on.
type Listener struct {
	Name            string
	BindAddress     string
	Port            uint32
	UpstreamCluster string
}

// Cluster is a named upstream the data-plane proxy forwards matched traffic
// to.
type Cluster struct {
	Name    string
	Address string
	Port    uint32
}

// Snapshot is a versioned, immutable bundle of proxy configuration.
type Snapshot struct {
	Version   string
	Listeners []Listener
	Clusters  []Cluster
}

// PortAssignment records the stable name -> port mapping handed out by the
// port allocator (internal/portalloc), mirrored into State for invariant 3.
type PortAssignment struct {
	RouteName string
	Port      uint32
}
