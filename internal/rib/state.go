package rib

// State is the RIB's immutable snapshot of the world at a point in time.
// Planning never mutates the State it is given; it builds the next one from
// shallow copies of every map (see clone), and Commit only bumps the
// Version of that fresh copy.
type State struct {
	LocalNodeID string

	// LocalRoutes and LearnedRoutes are keyed by route name. Invariant 2:
	// name is unique across the union, with local taking precedence.
	LocalRoutes   map[string]Route
	LearnedRoutes map[string]RouteEntry

	Peers map[string]PeerRecord

	PortAssignments map[string]uint32

	Version uint64
}

// NewState returns the empty initial RIB state for a node.
func NewState(localNodeID string) *State {
	return &State{
		LocalNodeID:     localNodeID,
		LocalRoutes:     map[string]Route{},
		LearnedRoutes:   map[string]RouteEntry{},
		Peers:           map[string]PeerRecord{},
		PortAssignments: map[string]uint32{},
	}
}

// clone returns a shallow copy of s whose top-level maps are fresh (so
// callers may add/remove/replace entries without mutating s), following
// the copy-on-write discipline required by plan/commit purity.
func (s *State) clone() *State {
	next := &State{
		LocalNodeID:     s.LocalNodeID,
		LocalRoutes:     make(map[string]Route, len(s.LocalRoutes)),
		LearnedRoutes:   make(map[string]RouteEntry, len(s.LearnedRoutes)),
		Peers:           make(map[string]PeerRecord, len(s.Peers)),
		PortAssignments: make(map[string]uint32, len(s.PortAssignments)),
		Version:         s.Version,
	}
	for k, v := range s.LocalRoutes {
		next.LocalRoutes[k] = v
	}
	for k, v := range s.LearnedRoutes {
		next.LearnedRoutes[k] = v
	}
	for k, v := range s.Peers {
		next.Peers[k] = v
	}
	for k, v := range s.PortAssignments {
		next.PortAssignments[k] = v
	}
	return next
}

// RouteExists reports whether name is taken by either a local or learned
// route.
func (s *State) RouteExists(name string) bool {
	if _, ok := s.LocalRoutes[name]; ok {
		return true
	}
	_, ok := s.LearnedRoutes[name]
	return ok
}

// ConnectedPeerNames returns the names of all peers currently connected,
// in an unspecified order (spec §5: cross-source ordering is
// implementation-defined).
func (s *State) ConnectedPeerNames() []string {
	var names []string
	for name, p := range s.Peers {
		if p.ConnectionStatus == StatusConnected {
			names = append(names, name)
		}
	}
	return names
}
