package rib

import (
	"sort"
	"time"

	"github.com/meshcore/meshd/internal/portalloc"
)

// PlanAction is the pure core of the RIB: given the current state and an
// Action, it computes the prospective new state plus derived propagations
// and port operations. It never mutates state, never blocks, and never
// touches I/O; the dispatcher is the only caller.
func PlanAction(state *State, portEntries []portalloc.Entry, action Action) (*Plan, *Error) {
	switch a := action.(type) {
	case LocalRouteCreate:
		return planLocalRouteCreate(state, portEntries, a)
	case LocalRouteDelete:
		return planLocalRouteDelete(state, a)
	case LocalPeerCreate:
		return planLocalPeerCreate(state, a)
	case LocalPeerDelete:
		return planLocalPeerDelete(state, a)
	case InternalProtocolOpen:
		return planProtocolOpen(state, a)
	case InternalProtocolUpdate:
		return planProtocolUpdate(state, portEntries, a)
	case InternalProtocolKeepalive:
		return planProtocolKeepalive(state, a)
	case InternalProtocolClose:
		return planProtocolClose(state, a)
	case Tick:
		return planTick(state, a)
	default:
		return nil, newError(ErrInvalidAction, "unrecognized action type %T", action)
	}
}

// Commit atomically installs a Plan's NextState, bumping its version so
// invariant 4 (strictly increasing, never-repeated versions) holds, and
// returns the authoritative CommitResult.
func Commit(plan *Plan) *CommitResult {
	plan.NextState.Version++
	return &CommitResult{
		State:        plan.NextState,
		Propagations: plan.Propagations,
		PortOps:      plan.PortOps,
	}
}

func planLocalRouteCreate(state *State, portEntries []portalloc.Entry, a LocalRouteCreate) (*Plan, *Error) {
	name := a.Route.Name
	if _, exists := state.LocalRoutes[name]; exists {
		return nil, newError(ErrInvalidAction, "local route %q already exists", name)
	}

	next := state.clone()
	delete(next.LearnedRoutes, name) // local takes precedence on conflict (invariant 2)
	next.LocalRoutes[name] = a.Route

	assigned, _, ok := portalloc.Allocate(portEntries, next.PortAssignments, name)
	if !ok {
		return nil, newError(ErrCapacityExhausted, "no free port for route %q", name)
	}
	next.PortAssignments = assigned

	plan := &Plan{NextState: next, PortOps: []PortOp{{Kind: PortOpAllocate, RouteName: name}}}
	for _, peer := range sortedConnectedPeers(state) {
		plan.Propagations = append(plan.Propagations, Propagation{
			Kind: PropagationUpdate,
			Peer: peer,
			Updates: []UpdateEntry{{
				Add:      true,
				Route:    a.Route,
				NodePath: []string{state.LocalNodeID},
			}},
		})
	}
	return plan, nil
}

func planLocalRouteDelete(state *State, a LocalRouteDelete) (*Plan, *Error) {
	if _, exists := state.LocalRoutes[a.Name]; !exists {
		return nil, newError(ErrInvalidAction, "local route %q does not exist", a.Name)
	}

	next := state.clone()
	delete(next.LocalRoutes, a.Name)
	next.PortAssignments = portalloc.Release(next.PortAssignments, a.Name)

	plan := &Plan{NextState: next, PortOps: []PortOp{{Kind: PortOpRelease, RouteName: a.Name}}}
	for _, peer := range sortedConnectedPeers(state) {
		plan.Propagations = append(plan.Propagations, Propagation{
			Kind:       PropagationWithdraw,
			Peer:       peer,
			RouteNames: []string{a.Name},
		})
	}
	return plan, nil
}

func planLocalPeerCreate(state *State, a LocalPeerCreate) (*Plan, *Error) {
	if _, exists := state.Peers[a.PeerInfo.Name]; exists {
		return nil, newError(ErrInvalidAction, "peer %q already configured", a.PeerInfo.Name)
	}
	next := state.clone()
	next.Peers[a.PeerInfo.Name] = PeerRecord{
		PeerInfo:         a.PeerInfo,
		ConnectionStatus: StatusDisconnected,
	}
	return &Plan{NextState: next}, nil
}

func planLocalPeerDelete(state *State, a LocalPeerDelete) (*Plan, *Error) {
	if _, exists := state.Peers[a.Name]; !exists {
		return nil, newError(ErrInvalidAction, "peer %q not configured", a.Name)
	}

	next := state.clone()
	delete(next.Peers, a.Name)

	dropped := dropLearnedFromPeer(next, a.Name)

	plan := &Plan{NextState: next}
	for _, r := range dropped {
		plan.PortOps = append(plan.PortOps, PortOp{Kind: PortOpRelease, RouteName: r.Service.Name})
	}
	plan.Propagations = withdrawalsFor(state, a.Name, dropped)
	return plan, nil
}

func planProtocolOpen(state *State, a InternalProtocolOpen) (*Plan, *Error) {
	peer, exists := state.Peers[a.PeerName]
	if !exists {
		return nil, newError(ErrInvalidAction, "unknown peer %q", a.PeerName)
	}

	next := state.clone()
	peer.ConnectionStatus = StatusConnected
	peer.HoldTimeSec = a.HoldTimeSec
	peer.HoldTimeSet = a.HoldTimeSet
	peer.LastReceivedMs = a.NowMs
	peer.LastReceivedSet = true
	next.Peers[a.PeerName] = peer

	plan := &Plan{NextState: next}
	updates := fullTableSync(state, a.PeerName)
	if len(updates) > 0 {
		plan.Propagations = append(plan.Propagations, Propagation{
			Kind:    PropagationUpdate,
			Peer:    a.PeerName,
			Updates: updates,
		})
	}
	return plan, nil
}

func planProtocolUpdate(state *State, portEntries []portalloc.Entry, a InternalProtocolUpdate) (*Plan, *Error) {
	if _, exists := state.Peers[a.PeerName]; !exists {
		return nil, newError(ErrInvalidAction, "unknown peer %q", a.PeerName)
	}

	next := state.clone()
	peer := next.Peers[a.PeerName]
	peer.LastReceivedMs = a.NowMs
	peer.LastReceivedSet = true
	next.Peers[a.PeerName] = peer

	plan := &Plan{NextState: next}
	for _, entry := range a.Updates {
		if entry.Add {
			if containsStr(entry.NodePath, state.LocalNodeID) {
				// LoopDetected: silently dropped, not an error, not propagated.
				continue
			}
			name := entry.Route.Name
			if _, isLocal := next.LocalRoutes[name]; isLocal {
				// Invariant 2: local routes always win on name conflict.
				continue
			}
			_, alreadyLearned := next.LearnedRoutes[name]
			next.LearnedRoutes[name] = RouteEntry{
				Service:   entry.Route,
				Origin:    Origin{Peer: a.PeerName},
				NodePath:  append([]string(nil), entry.NodePath...),
				LearnedAt: time.UnixMilli(a.NowMs),
			}
			if !alreadyLearned {
				assigned, _, ok := portalloc.Allocate(portEntries, next.PortAssignments, name)
				if ok {
					next.PortAssignments = assigned
					plan.PortOps = append(plan.PortOps, PortOp{Kind: PortOpAllocate, RouteName: name})
				}
				// Capacity exhaustion on a learned route is not reported to
				// any caller (there is no local RPC awaiting this action);
				// the route is still tracked without a proxy listener.
			}
			candidate := prependNode(state.LocalNodeID, entry.NodePath)
			for _, peerName := range sortedConnectedPeers(state) {
				if peerName == a.PeerName {
					continue // split horizon: never send back to the origin
				}
				if containsStr(candidate, peerName) {
					continue // loop prevention: peer already on path
				}
				plan.Propagations = append(plan.Propagations, Propagation{
					Kind: PropagationUpdate,
					Peer: peerName,
					Updates: []UpdateEntry{{
						Add:      true,
						Route:    entry.Route,
						NodePath: candidate,
					}},
				})
			}
		} else {
			name := entry.Route.Name
			existing, ok := next.LearnedRoutes[name]
			if !ok {
				continue
			}
			delete(next.LearnedRoutes, name)
			next.PortAssignments = portalloc.Release(next.PortAssignments, name)
			plan.PortOps = append(plan.PortOps, PortOp{Kind: PortOpRelease, RouteName: name})

			for _, peerName := range sortedConnectedPeers(state) {
				if peerName == a.PeerName {
					continue
				}
				if containsStr(existing.NodePath, peerName) {
					continue
				}
				plan.Propagations = append(plan.Propagations, Propagation{
					Kind:       PropagationWithdraw,
					Peer:       peerName,
					RouteNames: []string{name},
				})
			}
		}
	}
	return plan, nil
}

func planProtocolKeepalive(state *State, a InternalProtocolKeepalive) (*Plan, *Error) {
	peer, exists := state.Peers[a.PeerName]
	if !exists {
		return nil, newError(ErrInvalidAction, "unknown peer %q", a.PeerName)
	}
	next := state.clone()
	peer.LastReceivedMs = a.NowMs
	peer.LastReceivedSet = true
	next.Peers[a.PeerName] = peer
	return &Plan{NextState: next}, nil
}

func planProtocolClose(state *State, a InternalProtocolClose) (*Plan, *Error) {
	peer, exists := state.Peers[a.PeerName]
	if !exists {
		return nil, newError(ErrInvalidAction, "unknown peer %q", a.PeerName)
	}

	next := state.clone()
	peer.ConnectionStatus = StatusDisconnected
	peer.LastSentSet = false
	next.Peers[a.PeerName] = peer

	dropped := dropLearnedFromPeer(next, a.PeerName)

	plan := &Plan{NextState: next}
	for _, r := range dropped {
		plan.PortOps = append(plan.PortOps, PortOp{Kind: PortOpRelease, RouteName: r.Service.Name})
	}
	plan.Propagations = withdrawalsFor(state, a.PeerName, dropped)
	return plan, nil
}

func planTick(state *State, a Tick) (*Plan, *Error) {
	next := state.clone()
	plan := &Plan{NextState: next}

	expired := make(map[string]bool)
	for _, name := range sortedPeerNames(state) {
		p := state.Peers[name]
		if p.ConnectionStatus != StatusConnected || !p.HoldTimeSet || p.HoldTimeSec <= 0 {
			continue
		}
		if !p.LastReceivedSet {
			continue
		}
		// Strict '>' per §4.A boundary semantics: exactly at the deadline
		// the peer is not yet expired.
		if a.NowMs-p.LastReceivedMs > p.HoldTimeSec*1000 {
			expired[name] = true
		}
	}

	for name := range expired {
		rec := next.Peers[name]
		rec.ConnectionStatus = StatusDisconnected
		rec.LastSentSet = false
		next.Peers[name] = rec
	}

	// Withdrawals are addressed from next, where every peer expiring in
	// this tick is already disconnected, so none of them receives one.
	for _, name := range sortedPeerNames(state) {
		if !expired[name] {
			continue
		}
		dropped := dropLearnedFromPeer(next, name)
		for _, r := range dropped {
			plan.PortOps = append(plan.PortOps, PortOp{Kind: PortOpRelease, RouteName: r.Service.Name})
		}
		plan.Propagations = append(plan.Propagations, withdrawalsFor(next, name, dropped)...)
	}

	for _, name := range sortedPeerNames(state) {
		if expired[name] {
			continue
		}
		p := next.Peers[name]
		if p.ConnectionStatus != StatusConnected || !p.HoldTimeSet || p.HoldTimeSec <= 0 {
			continue
		}
		if !p.LastSentSet {
			continue
		}
		threshold := (p.HoldTimeSec / 3) * 1000
		if a.NowMs-p.LastSentMs > threshold {
			p.LastSentMs = a.NowMs
			next.Peers[name] = p
			plan.Propagations = append(plan.Propagations, Propagation{Kind: PropagationKeepalive, Peer: name})
		}
	}

	return plan, nil
}

// dropLearnedFromPeer removes every learned route originated by peerName
// from next (mutated in place, next already being a private clone) and
// returns the removed entries for port-release/withdrawal bookkeeping.
func dropLearnedFromPeer(next *State, peerName string) []RouteEntry {
	var dropped []RouteEntry
	for name, entry := range next.LearnedRoutes {
		if entry.Origin.Peer == peerName {
			dropped = append(dropped, entry)
			delete(next.LearnedRoutes, name)
			next.PortAssignments = portalloc.Release(next.PortAssignments, name)
		}
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].Service.Name < dropped[j].Service.Name })
	return dropped
}

// withdrawalsFor builds withdraw propagations for routes dropped because
// originPeer disconnected/was deleted, addressed to every other peer
// connected in peers that is eligible per split horizon / loop prevention.
func withdrawalsFor(peers *State, originPeer string, dropped []RouteEntry) []Propagation {
	if len(dropped) == 0 {
		return nil
	}
	var props []Propagation
	for _, peerName := range sortedConnectedPeers(peers) {
		if peerName == originPeer {
			continue
		}
		var names []string
		for _, r := range dropped {
			if containsStr(r.NodePath, peerName) {
				continue
			}
			names = append(names, r.Service.Name)
		}
		if len(names) > 0 {
			props = append(props, Propagation{Kind: PropagationWithdraw, Peer: peerName, RouteNames: names})
		}
	}
	return props
}

// fullTableSync builds the single batched UPDATE (spec §9 open question 2)
// sent to peerName at OPEN time, applying split horizon and loop
// prevention to both local and learned routes.
func fullTableSync(state *State, peerName string) []UpdateEntry {
	var updates []UpdateEntry
	for _, name := range sortedLocalRouteNames(state) {
		updates = append(updates, UpdateEntry{
			Add:      true,
			Route:    state.LocalRoutes[name],
			NodePath: []string{state.LocalNodeID},
		})
	}
	for _, name := range sortedLearnedRouteNames(state) {
		entry := state.LearnedRoutes[name]
		if entry.Origin.Peer == peerName {
			continue
		}
		if containsStr(entry.NodePath, peerName) {
			continue
		}
		updates = append(updates, UpdateEntry{
			Add:      true,
			Route:    entry.Service,
			NodePath: prependNode(state.LocalNodeID, entry.NodePath),
		})
	}
	return updates
}

func sortedConnectedPeers(state *State) []string {
	names := state.ConnectedPeerNames()
	sort.Strings(names)
	return names
}

func sortedPeerNames(state *State) []string {
	names := make([]string, 0, len(state.Peers))
	for name := range state.Peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedLocalRouteNames(state *State) []string {
	names := make([]string, 0, len(state.LocalRoutes))
	for name := range state.LocalRoutes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedLearnedRouteNames(state *State) []string {
	names := make([]string, 0, len(state.LearnedRoutes))
	for name := range state.LearnedRoutes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
